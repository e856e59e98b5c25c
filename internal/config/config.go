package config

import (
	"fmt"
	"os"
	"time"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	// StripeSecretKey authenticates against the Stripe API.
	StripeSecretKey string

	// StripeWebhookSecret verifies webhook signatures. Empty disables verification.
	StripeWebhookSecret string

	// SuccessURL is where Stripe redirects after a completed checkout.
	SuccessURL string

	// CancelURL is where Stripe redirects after an abandoned checkout.
	CancelURL string

	// Currency is the ISO currency code used for checkout sessions. Defaults to "mxn".
	Currency string

	// ReconcileInterval is the time between subscription sweeps. Defaults to 1h.
	ReconcileInterval time.Duration
}

const (
	defaultServerAddress     = ":18111"
	defaultCurrency          = "mxn"
	defaultReconcileInterval = time.Hour
	envServerAddress         = "BACKEND_ADDR"
	envDatabaseURL           = "DATABASE_URL"
	envStripeSecretKey       = "STRIPE_SECRET_KEY"
	envStripeWebhookSecret   = "STRIPE_WEBHOOK_SECRET"
	envSuccessURL            = "FRONTEND_SUCCESS_URL"
	envCancelURL             = "FRONTEND_CANCEL_URL"
	envCurrency              = "CHECKOUT_CURRENCY"
	envReconcileInterval     = "RECONCILE_INTERVAL"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:       firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:         os.Getenv(envDatabaseURL),
		StripeSecretKey:     os.Getenv(envStripeSecretKey),
		StripeWebhookSecret: os.Getenv(envStripeWebhookSecret),
		SuccessURL:          os.Getenv(envSuccessURL),
		CancelURL:           os.Getenv(envCancelURL),
		Currency:            firstNonEmpty(os.Getenv(envCurrency), defaultCurrency),
		ReconcileInterval:   defaultReconcileInterval,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}

	if raw := os.Getenv(envReconcileInterval); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envReconcileInterval, err)
		}
		if interval <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", envReconcileInterval)
		}
		cfg.ReconcileInterval = interval
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
