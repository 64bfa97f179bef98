package monetico

import (
	"fmt"
	"strings"
)

// currencyInfo carries the ISO 4217 numeric code and minor-unit exponent
// for the currencies the gateway accepts.
type currencyInfo struct {
	numeric string
	places  int
}

var currencies = map[string]currencyInfo{
	"EUR": {"978", 2},
	"USD": {"840", 2},
	"GBP": {"826", 2},
	"CHF": {"756", 2},
	"CAD": {"124", 2},
	"SEK": {"752", 2},
	"NOK": {"578", 2},
	"DKK": {"208", 2},
	"JPY": {"392", 0},
	"XPF": {"953", 0},
	"KWD": {"414", 3},
}

// CurrencyNumeric returns the ISO 4217 numeric code for an alpha code.
func CurrencyNumeric(alpha string) (string, error) {
	info, ok := currencies[strings.ToUpper(strings.TrimSpace(alpha))]
	if !ok {
		return "", fmt.Errorf("monetico: unsupported currency %q", alpha)
	}
	return info.numeric, nil
}

// CurrencyPlaces returns the minor-unit exponent for an alpha code.
func CurrencyPlaces(alpha string) (int, error) {
	info, ok := currencies[strings.ToUpper(strings.TrimSpace(alpha))]
	if !ok {
		return 0, fmt.Errorf("monetico: unsupported currency %q", alpha)
	}
	return info.places, nil
}

// MinorUnits converts a decimal amount string to integer minor units using
// the currency's exponent, rounding half-up on the first dropped digit.
// The arithmetic is done on the decimal text to avoid float drift.
func MinorUnits(amount string, places int) (int64, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return 0, fmt.Errorf("monetico: empty amount")
	}
	neg := false
	if trimmed[0] == '+' || trimmed[0] == '-' {
		neg = trimmed[0] == '-'
		trimmed = trimmed[1:]
	}
	intPart, fracPart := trimmed, ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		intPart, fracPart = trimmed[:idx], trimmed[idx+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if !allDigits(intPart) || !allDigits(fracPart) {
		return 0, fmt.Errorf("monetico: malformed amount %q", amount)
	}
	for len(fracPart) < places {
		fracPart += "0"
	}
	keep, rest := fracPart[:places], fracPart[places:]
	var value int64
	for _, c := range intPart + keep {
		d := int64(c - '0')
		if value > (1<<62)/10 {
			return 0, fmt.Errorf("monetico: amount %q overflows", amount)
		}
		value = value*10 + d
	}
	if len(rest) > 0 && rest[0] >= '5' {
		value++
	}
	if neg {
		value = -value
	}
	return value, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FormatLocale renders the gateway's xx-YY locale form. The region defaults
// to the uppercased language when unspecified.
func FormatLocale(lang, region string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) > 2 {
		lang = lang[:2]
	}
	region = strings.ToUpper(strings.TrimSpace(region))
	if len(region) > 2 {
		region = region[:2]
	}
	if region == "" {
		region = strings.ToUpper(lang)
	}
	return lang + "-" + region
}
