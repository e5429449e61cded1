package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Database struct {
	Host     string `envconfig:"BLUEPRINT_DB_HOST" default:"localhost"`
	Port     string `envconfig:"BLUEPRINT_DB_PORT" default:"5432"`
	Database string `envconfig:"BLUEPRINT_DB_DATABASE" default:"commerce"`
	Username string `envconfig:"BLUEPRINT_DB_USERNAME" default:"postgres"`
	Password string `envconfig:"BLUEPRINT_DB_PASSWORD"`
	Schema   string `envconfig:"BLUEPRINT_DB_SCHEMA" default:"public"`
	// URL overrides the individual parts when set.
	URL string `envconfig:"DATABASE_URL"`
}

func (d Database) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.Schema,
	)
}

type Payment struct {
	StripeSecretKey     string          `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string          `envconfig:"STRIPE_WEBHOOK_SECRET"`
	MinAmount           decimal.Decimal `envconfig:"PAYMENT_MIN_AMOUNT" default:"1.00"`
	Currency            string          `envconfig:"PAYMENT_CURRENCY" default:"usd"`
	GatewayTimeout      time.Duration   `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
}

type Config struct {
	HTTPAddr    string   `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
	// TrustedProxies lists the IPs or CIDRs allowed to set X-Forwarded-For.
	// Empty means the peer address is always the client address.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	Database Database
	Payment  Payment

	RedisAddr        string        `envconfig:"REDIS_ADDR"`
	RedisPassword    string        `envconfig:"REDIS_PASSWORD"`
	WebhookDedupeTTL time.Duration `envconfig:"WEBHOOK_DEDUPE_TTL" default:"72h"`

	StatsTimezone string `envconfig:"STATS_TIMEZONE" default:"UTC"`

	GiftCardRatePerMinute int `envconfig:"GIFTCARD_RATE_PER_MINUTE" default:"30"`

	// ReconcileInterval enables the background reconciliation loop when positive.
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"0"`
	ReconcileStuckAge time.Duration `envconfig:"RECONCILE_STUCK_AGE" default:"15m"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if !c.Payment.MinAmount.IsPositive() {
		return errors.New("config: PAYMENT_MIN_AMOUNT must be positive")
	}
	c.Payment.Currency = strings.ToLower(strings.TrimSpace(c.Payment.Currency))
	if len(c.Payment.Currency) != 3 {
		return fmt.Errorf("config: PAYMENT_CURRENCY %q is not an ISO currency code", c.Payment.Currency)
	}
	if _, err := time.LoadLocation(c.StatsTimezone); err != nil {
		return fmt.Errorf("config: STATS_TIMEZONE: %w", err)
	}
	if c.GiftCardRatePerMinute < 0 {
		return errors.New("config: GIFTCARD_RATE_PER_MINUTE must not be negative")
	}
	for _, p := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			return fmt.Errorf("config: TRUSTED_PROXIES entry %q is not an IP or CIDR", p)
		}
	}
	return nil
}

func (c *Config) StatsLocation() *time.Location {
	loc, err := time.LoadLocation(c.StatsTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
