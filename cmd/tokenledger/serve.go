package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/api"
	audithook "github.com/xraph/tokenledger/audit_hook"
	"github.com/xraph/tokenledger/auth"
	"github.com/xraph/tokenledger/internal/config"
	"github.com/xraph/tokenledger/observability"
	"github.com/xraph/tokenledger/webhook"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and Stripe webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger := newLogger(cfg.Logging, cmd.ErrOrStderr())
			return serve(signalCtx, cfg, logger, nil)
		},
	}
}

// serve runs until ctx is canceled. When ready is non-nil it receives the
// bound listener address once the server accepts connections.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, ready chan<- string) error {
	s, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	reg := prometheus.NewRegistry()
	ledgerOpts := ledgerOptions(cfg, logger)
	ledgerOpts = append(ledgerOpts,
		tokenledger.WithPlugin(audithook.New(audithook.SlogRecorder(logger), audithook.WithLogger(logger))),
	)
	if cfg.Metrics.Enabled {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		ledgerOpts = append(ledgerOpts,
			tokenledger.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
		)
	}

	ledger := tokenledger.New(s, ledgerOpts...)
	if err := ledger.Start(ctx); err != nil {
		_ = s.Close() //nolint:errcheck // best-effort
		return fmt.Errorf("start ledger: %w", err)
	}
	defer ledger.Stop() //nolint:errcheck // best-effort

	serverOpts := []api.Option{
		api.WithLogger(logger),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
	}
	if cfg.Metrics.Enabled {
		serverOpts = append(serverOpts, api.WithMetrics(reg, reg))
	}

	authOpt, err := authOption(ctx, cfg.Auth, logger)
	if err != nil {
		return err
	}
	serverOpts = append(serverOpts, authOpt)

	if cfg.Stripe.SecretKey != "" && cfg.Stripe.WebhookSecret != "" {
		syncer := webhook.NewSyncer(ledger, webhook.NewStripeProvider(cfg.Stripe.SecretKey), webhook.WithLogger(logger))
		serverOpts = append(serverOpts, api.WithWebhook(webhook.NewStripeVerifier(cfg.Stripe.WebhookSecret), syncer))
	} else {
		logger.Warn("stripe webhook disabled; set stripe.secret_key and stripe.webhook_secret to enable it")
	}

	srv := &http.Server{
		Handler:           api.New(ledger, serverOpts...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Server.Bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info("api server listening", "address", listener.Addr().String())
	if ready != nil {
		ready <- listener.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("tokenledger shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func authOption(ctx context.Context, cfg config.Auth, logger *slog.Logger) (api.Option, error) {
	mwCfg := auth.MiddlewareConfig{Disabled: cfg.Disabled, Logger: logger}
	if cfg.Disabled {
		return api.WithAuth(nil, mwCfg), nil
	}

	var opts []auth.VerifierOption
	if cfg.Issuer != "" {
		opts = append(opts, auth.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, auth.WithAudience(cfg.Audience))
	}

	var (
		v   *auth.Verifier
		err error
	)
	if cfg.JWKSURL != "" {
		v, err = auth.NewJWKSVerifier(ctx, cfg.JWKSURL, opts...)
	} else {
		v, err = auth.NewHMACVerifier(cfg.HMACSecret, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("auth verifier: %w", err)
	}
	return api.WithAuth(v, mwCfg), nil
}
