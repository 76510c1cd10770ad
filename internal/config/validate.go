package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if c.Ledger.HistoryLimit <= 0 {
		return errors.New("ledger.history_limit must be positive")
	}
	if c.Ledger.ContentAnalysisCost < 0 {
		return errors.New("ledger.content_analysis_cost must not be negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "memory":
		return nil
	case "postgres", "sqlite":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for the %s driver (or set DATABASE_URL)", c.Store.Driver)
		}
		return nil
	case "mongo":
		if strings.TrimSpace(c.Store.DSN) == "" || strings.TrimSpace(c.Store.Database) == "" {
			return errors.New("store.dsn and store.database are required for the mongo driver")
		}
		return nil
	default:
		return fmt.Errorf("store.driver must be memory, postgres, sqlite or mongo, got %q", c.Store.Driver)
	}
}

func (c *Config) validateAuth() error {
	if c.Auth.Disabled {
		return nil
	}
	if c.Auth.JWKSURL == "" && c.Auth.HMACSecret == "" {
		return errors.New("auth requires jwks_url or hmac_secret (set AUTH_JWKS_URL / AUTH_HMAC_SECRET, or AUTH_DISABLED=true for local development)")
	}
	return nil
}
