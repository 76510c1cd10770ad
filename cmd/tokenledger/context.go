package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/internal/config"
	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/store/memory"
	"github.com/xraph/tokenledger/store/mongo"
	"github.com/xraph/tokenledger/store/postgres"
	"github.com/xraph/tokenledger/store/sqlite"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// openStore connects to the backend named by the store section.
func openStore(ctx context.Context, cfg config.Store) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "postgres":
		var pg *postgres.Store
		pg, err = postgres.Open(ctx, cfg.DSN)
		s = pg
	case "sqlite":
		var lite *sqlite.Store
		lite, err = sqlite.Open(cfg.DSN)
		s = lite
	case "mongo":
		var m *mongo.Store
		m, err = mongo.Open(ctx, cfg.DSN, cfg.Database)
		s = m
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ledgerOptions turns the ledger section into engine options.
func ledgerOptions(cfg *config.Config, logger *slog.Logger) []tokenledger.Option {
	opts := []tokenledger.Option{
		tokenledger.WithLogger(logger),
		tokenledger.WithHistoryLimit(cfg.Ledger.HistoryLimit),
	}
	if cfg.Ledger.ContentAnalysisCost > 0 {
		opts = append(opts, tokenledger.WithCatalog(catalog.New(
			catalog.WithCost(catalog.OpContentAnalysis, cfg.Ledger.ContentAnalysisCost),
		)))
	}
	if cfg.Ledger.SkipMigrate {
		opts = append(opts, tokenledger.WithoutMigrate())
	}
	return opts
}

// withLedger opens the configured store, starts a ledger over it and hands
// it to fn. Admin commands log to stderr so their tables stay clean.
func (c *commandContext) withLedger(ctx context.Context, stderr io.Writer, fn func(*tokenledger.Ledger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, stderr)

	s, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	l := tokenledger.New(s, ledgerOptions(cfg, logger)...)
	if err := l.Start(ctx); err != nil {
		_ = s.Close() //nolint:errcheck // best-effort
		return fmt.Errorf("start ledger: %w", err)
	}
	defer l.Stop() //nolint:errcheck // best-effort

	return fn(l)
}
