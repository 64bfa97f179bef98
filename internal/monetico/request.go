package monetico

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrConfiguration signals absent or malformed merchant credentials.
	// It is a setup-time failure and must never surface during a live
	// transaction.
	ErrConfiguration = errors.New("monetico: invalid merchant configuration")

	// ErrInvalidAmount signals an amount the gateway field cannot carry.
	ErrInvalidAmount = errors.New("monetico: invalid amount")
)

// amountMaxDigits is the width of the gateway's amount field.
const amountMaxDigits = 12

const dateLayout = "02/01/2006:15:04:05"

// MerchantConfig carries the credentials and endpoints of one merchant
// contract with the gateway.
type MerchantConfig struct {
	Key         string
	EPTNumber   string
	CompanyCode string
	ServerURL   string
	PaymentURL  string
}

func (c MerchantConfig) check() error {
	if len(c.Key) != 40 {
		return fmt.Errorf("%w: merchant key must be 40 characters", ErrConfiguration)
	}
	if n := len(strings.TrimSpace(c.EPTNumber)); n < 3 || n > 8 {
		return fmt.Errorf("%w: EPT number must be 3 to 8 characters", ErrConfiguration)
	}
	if len(strings.TrimSpace(c.CompanyCode)) != 20 {
		return fmt.Errorf("%w: company code must be 20 characters", ErrConfiguration)
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: server URL is not absolute", ErrConfiguration)
	}
	if strings.TrimSpace(c.PaymentURL) == "" {
		return fmt.Errorf("%w: payment URL is empty", ErrConfiguration)
	}
	return nil
}

// ReturnURLs are the three merchant endpoints the gateway redirects back to.
type ReturnURLs struct {
	OK     string
	KO     string
	Cancel string
}

// BuildInput is the session snapshot a request is assembled from. The amount
// is already in integer minor units (see MinorUnits).
type BuildInput struct {
	AmountMinor int64
	Currency    string
	Reference   string
	Locale      string
	Email       string
}

// Field is one name/value pair of the auto-submitted gateway form.
type Field struct {
	Name  string
	Value string
}

// Request is the canonical outbound field set plus its seal.
type Request struct {
	EPT         string
	CompanyCode string
	Date        string
	Amount      string
	Currency    string
	Reference   string
	Locale      string
	Email       string
	Version     string
	URLOK       string
	URLKO       string
	URLCancel   string
	Seal        string
}

// SealedValues returns the field values in seal order. Reordering or
// re-encoding any of them invalidates the seal.
func (r Request) SealedValues() []string {
	return []string{
		r.EPT, r.CompanyCode, r.Date, r.Amount, r.Currency,
		r.Reference, r.Locale, r.Email, r.Version,
	}
}

// FormFields returns the ordered form fields for the redirect page,
// including the non-sealed return URLs and the seal itself.
func (r Request) FormFields() []Field {
	return []Field{
		{"TPE", r.EPT},
		{"societe", r.CompanyCode},
		{"date", r.Date},
		{"montant", r.Amount},
		{"devise", r.Currency},
		{"reference", r.Reference},
		{"lgue", r.Locale},
		{"mail", r.Email},
		{"version", r.Version},
		{"url_retour_ok", r.URLOK},
		{"url_retour_err", r.URLKO},
		{"url_retour_annule", r.URLCancel},
		{"MAC", r.Seal},
	}
}

// RequestBuilder assembles and seals outbound gateway requests. It performs
// no I/O; the HTTP redirect is the caller's concern.
type RequestBuilder struct {
	cfg    MerchantConfig
	signer *Signer
	now    func() time.Time
}

// NewRequestBuilder validates the merchant configuration and derives the
// signing key once.
func NewRequestBuilder(cfg MerchantConfig) (*RequestBuilder, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	signer, err := NewSigner(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return &RequestBuilder{cfg: cfg, signer: signer, now: time.Now}, nil
}

// Signer exposes the builder's signer for callback verification, so request
// and response share one key derivation.
func (b *RequestBuilder) Signer() *Signer { return b.signer }

// ActionURL is the gateway endpoint the form is submitted to.
func (b *RequestBuilder) ActionURL() string {
	return strings.TrimRight(b.cfg.ServerURL, "/") + "/" + strings.TrimLeft(b.cfg.PaymentURL, "/")
}

// Build assembles the canonical field set and seals it.
func (b *RequestBuilder) Build(in BuildInput, urls ReturnURLs) (Request, error) {
	if in.AmountMinor <= 0 {
		return Request{}, fmt.Errorf("%w: %d minor units", ErrInvalidAmount, in.AmountMinor)
	}
	amount := strconv.FormatInt(in.AmountMinor, 10)
	if len(amount) > amountMaxDigits {
		return Request{}, fmt.Errorf("%w: %s exceeds field width", ErrInvalidAmount, amount)
	}
	numeric, err := CurrencyNumeric(in.Currency)
	if err != nil {
		return Request{}, err
	}
	if strings.TrimSpace(in.Reference) == "" {
		return Request{}, fmt.Errorf("monetico: empty reference")
	}
	req := Request{
		EPT:         b.cfg.EPTNumber,
		CompanyCode: b.cfg.CompanyCode,
		Date:        b.now().UTC().Format(dateLayout),
		Amount:      amount,
		Currency:    numeric,
		Reference:   in.Reference,
		Locale:      in.Locale,
		Email:       in.Email,
		Version:     Version,
		URLOK:       urls.OK,
		URLKO:       urls.KO,
		URLCancel:   urls.Cancel,
	}
	req.Seal = b.signer.Seal(req.SealedValues())
	return req, nil
}
