// Package config loads the tokenledger daemon configuration from TOML with
// environment overrides for secrets.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Server contains the HTTP listener settings.
type Server struct {
	Bind            string   `toml:"bind"`
	AllowedOrigins  []string `toml:"allowed_origins"`
	ShutdownTimeout int      `toml:"shutdown_timeout"`
}

// Store selects and addresses the ledger backend.
type Store struct {
	Driver   string `toml:"driver"` // memory, postgres, sqlite, mongo
	DSN      string `toml:"dsn"`
	Database string `toml:"database"` // mongo only
}

// Stripe contains payment provider credentials.
type Stripe struct {
	SecretKey     string `toml:"secret_key"`
	WebhookSecret string `toml:"webhook_secret"`
}

// Auth contains bearer token verification settings. Exactly one of JWKSURL
// and HMACSecret is used; JWKSURL wins when both are set.
type Auth struct {
	Disabled   bool   `toml:"disabled"`
	JWKSURL    string `toml:"jwks_url"`
	HMACSecret string `toml:"hmac_secret"`
	Issuer     string `toml:"issuer"`
	Audience   string `toml:"audience"`
}

// Ledger contains engine tuning.
type Ledger struct {
	HistoryLimit int `toml:"history_limit"`
	// ContentAnalysisCost prices CONTENT_ANALYSIS; 0 leaves it unpriced.
	ContentAnalysisCost int64 `toml:"content_analysis_cost"`
	SkipMigrate         bool  `toml:"skip_migrate"`
}

// Logging contains log output settings.
type Logging struct {
	Format string `toml:"format"` // text or json
	Level  string `toml:"level"`
}

// Metrics toggles the Prometheus endpoint.
type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// Config encapsulates the daemon configuration.
type Config struct {
	Server  Server  `toml:"server"`
	Store   Store   `toml:"store"`
	Stripe  Stripe  `toml:"stripe"`
	Auth    Auth    `toml:"auth"`
	Ledger  Ledger  `toml:"ledger"`
	Logging Logging `toml:"log"`
	Metrics Metrics `toml:"metrics"`
}

// Default returns a configuration with every default filled in.
func Default() Config {
	return Config{
		Server: Server{
			Bind:            "127.0.0.1:8080",
			ShutdownTimeout: 10,
		},
		Store: Store{
			Driver: "sqlite",
			DSN:    "tokenledger.db",
		},
		Ledger: Ledger{
			HistoryLimit: 10,
		},
		Logging: Logging{
			Format: "text",
			Level:  "info",
		},
		Metrics: Metrics{Enabled: true},
	}
}

// SampleConfig returns a commented configuration file.
func SampleConfig() string {
	return sampleConfig
}

// Load parses path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("TOKENLEDGER_CONFIG")
	}
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	} else if err := decodeFile("tokenledger.toml", &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close() //nolint:errcheck // read-only

	dec := toml.NewDecoder(file)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides secrets and endpoints from the environment.
func (c *Config) applyEnv() error {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	setString(&c.Server.Bind, "TOKENLEDGER_BIND")
	setString(&c.Store.Driver, "TOKENLEDGER_STORE")
	setString(&c.Store.DSN, "DATABASE_URL")
	setString(&c.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	setString(&c.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setString(&c.Auth.JWKSURL, "AUTH_JWKS_URL")
	setString(&c.Auth.HMACSecret, "AUTH_HMAC_SECRET")
	setString(&c.Auth.Issuer, "AUTH_ISSUER")
	setString(&c.Auth.Audience, "AUTH_AUDIENCE")
	setString(&c.Logging.Level, "LOG_LEVEL")

	if v, ok := os.LookupEnv("AUTH_DISABLED"); ok && v != "" {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTH_DISABLED: %w", err)
		}
		c.Auth.Disabled = disabled
	}
	return nil
}
