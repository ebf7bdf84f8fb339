// Package config содержит логику чтения конфигурации платёжного шлюза.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config содержит параметры конфигурации платёжного шлюза.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	GatewayBaseURL    string        `env:"GATEWAY_BASE_URL"`
	GatewayAPIVersion string        `env:"GATEWAY_API_VERSION" envDefault:"100"`
	GatewayMerchantID string        `env:"GATEWAY_MERCHANT_ID"`
	GatewayPassword   string        `env:"GATEWAY_PASSWORD"`
	GatewayTimeout    time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"30s"`

	MerchantName      string `env:"MERCHANT_NAME"`
	MerchantURL       string `env:"MERCHANT_URL"`
	DefaultCurrency   string `env:"DEFAULT_CURRENCY" envDefault:"USD"`
	ReturnURL         string `env:"RETURN_URL"`
	CancelURL         string `env:"CANCEL_URL"`
	RetryAttemptCount int    `env:"RETRY_ATTEMPT_COUNT" envDefault:"3"`

	PaystackBaseURL     string `env:"PAYSTACK_BASE_URL" envDefault:"https://api.paystack.co"`
	PaystackSecretKey   string `env:"PAYSTACK_SECRET_KEY"`
	PaystackCallbackURL string `env:"PAYSTACK_CALLBACK_URL"`

	PlatformCommissionPercent decimal.Decimal `env:"PLATFORM_COMMISSION_PERCENT" envDefault:"10"`
	RequireRemoteVerification bool            `env:"REQUIRE_REMOTE_VERIFICATION" envDefault:"true"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGatewayBaseURL := cfg.GatewayBaseURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GatewayBaseURL, "g", "", "payment gateway base URL")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewayBaseURL != "" {
		cfg.GatewayBaseURL = envGatewayBaseURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет согласованность параметров.
func (c *Config) Validate() error {
	if c.PlatformCommissionPercent.IsNegative() || c.PlatformCommissionPercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("platform commission must be in [0, 100), got %s", c.PlatformCommissionPercent)
	}
	if c.RetryAttemptCount < 0 {
		return fmt.Errorf("retry attempt count must not be negative, got %d", c.RetryAttemptCount)
	}
	if c.GatewayTimeout <= 0 {
		return errors.New("gateway timeout must be positive")
	}
	return nil
}

// SplitEnabled сообщает, настроен ли провайдер сплит-платежей.
func (c *Config) SplitEnabled() bool {
	return c.PaystackSecretKey != ""
}
