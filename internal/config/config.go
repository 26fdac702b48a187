package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port    string `env:"PORT" envDefault:"8080"`
	SiteURL string `env:"SITE_URL" envDefault:"https://bims.app"`

	MercadoPagoToken    string `env:"MP_ACCESS_TOKEN,required,notEmpty"`
	MercadoPagoCurrency string `env:"MP_CURRENCY_ID" envDefault:"ARS"`

	// Optional. Absence disables webhook signature verification.
	WebhookSecret string `env:"MP_WEBHOOK_SECRET"`

	FirebaseDatabaseURL string `env:"FIREBASE_DATABASE_URL,required,notEmpty"`
	FirebaseCredentials string `env:"FIREBASE_CREDENTIALS_FILE"`

	// Optional. Absence disables the activation email.
	FirebaseAPIKey string `env:"FIREBASE_API_KEY"`

	SentryDSN string `env:"SENTRY_DSN"`
}

func New() (*Config, error) {
	// The .env file is optional; real deployments set the environment.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	return &cfg, nil
}
