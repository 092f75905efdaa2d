package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string `envconfig:"PORT" default:"5000"`
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Storage
	StoreDriver string `envconfig:"STORE_DRIVER" default:"memory"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/batepapo.db"`
	BadgerPath  string `envconfig:"BADGER_PATH" default:"./data/badger"`
	RedisURL    string `envconfig:"REDIS_URL"`

	// Presence
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"15s"`
	StaleAfter    time.Duration `envconfig:"STALE_AFTER" default:"10s"`

	MaxBodyBytes int64 `envconfig:"MAX_BODY_BYTES" default:"8192"`

	// Rate limiting
	RateLimitWhitelist []string `envconfig:"RATE_LIMIT_WHITELIST"` // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     `envconfig:"AUTO_BLOCK_ENABLED" default:"false"`
}

// Load reads configuration from environment variables.
// A .env file is loaded first if present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))

	whitelist := c.RateLimitWhitelist[:0]
	for _, entry := range c.RateLimitWhitelist {
		if entry = strings.TrimSpace(entry); entry != "" {
			whitelist = append(whitelist, entry)
		}
	}
	c.RateLimitWhitelist = whitelist
}

// Validate checks driver settings and production requirements.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite, DriverBadger:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.SweepInterval <= 0 || c.StaleAfter <= 0 {
		return errors.New("config: SWEEP_INTERVAL and STALE_AFTER must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("config: MAX_BODY_BYTES must be positive")
	}

	if c.IsProduction() && c.RedisURL == "" {
		return errors.New("config: REDIS_URL is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
