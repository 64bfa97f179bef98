package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
// Merchant credentials are validated at load time: a bad key or terminal
// code must fail startup, never a live transaction.
type Config struct {
	AppEnv        string
	Port          string
	DatabaseURL   string `validate:"required"`
	RedisURL      string `validate:"required"`
	SessionSecret string `validate:"required,min=16"`
	PublicBaseURL string `validate:"required,url"`

	MoneticoKey         string `validate:"required,len=40"`
	MoneticoEPTNumber   string `validate:"required,min=3,max=8"`
	MoneticoCompanyCode string `validate:"required,len=20"`
	MoneticoServerURL   string `validate:"required,url"`
	MoneticoPaymentURL  string `validate:"required"`

	Currency           string `validate:"required,len=3"`
	SessionTTL         time.Duration
	CallbackRateMax    int
	CallbackRateWin    time.Duration
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:        valueOrDefault(k.String("APP_ENV"), "development"),
		Port:          valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:   k.String("DATABASE_URL"),
		RedisURL:      k.String("REDIS_URL"),
		SessionSecret: k.String("SESSION_SECRET"),
		PublicBaseURL: strings.TrimRight(k.String("PUBLIC_BASE_URL"), "/"),

		MoneticoKey:         k.String("MONETICO_KEY"),
		MoneticoEPTNumber:   k.String("MONETICO_EPT_NUMBER"),
		MoneticoCompanyCode: k.String("MONETICO_COMPANY_CODE"),
		MoneticoServerURL:   valueOrDefault(k.String("MONETICO_SERVER_URL"), "https://p.monetico-services.com/test/"),
		MoneticoPaymentURL:  valueOrDefault(k.String("MONETICO_PAYMENT_URL"), "paiement.cgi"),

		Currency:           valueOrDefault(k.String("CURRENCY_CODE"), "EUR"),
		SessionTTL:         parseDuration(k.String("SESSION_TTL"), "2h"),
		CallbackRateMax:    intOrDefault(k.String("CALLBACK_RATE_MAX"), 60),
		CallbackRateWin:    parseDuration(k.String("CALLBACK_RATE_WINDOW"), "1m"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func intOrDefault(value string, def int) int {
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(value), "%d", &n); err != nil {
		return def
	}
	return n
}

// LoadForTests allows tests to override environment variables without
// touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
