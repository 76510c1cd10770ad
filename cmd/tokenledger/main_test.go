package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xraph/tokenledger/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokenledger.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func sqliteConfig(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ledger.db")
	return writeConfig(t, fmt.Sprintf(`
[store]
driver = "sqlite"
dsn = %q

[auth]
disabled = true

[log]
level = "error"
`, dsn))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigSampleSkipsLoading(t *testing.T) {
	t.Setenv("TOKENLEDGER_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	out, err := run(t, "config", "sample")
	if err != nil {
		t.Fatalf("config sample: %v", err)
	}
	if !strings.Contains(out, "[server]") || !strings.Contains(out, "[store]") {
		t.Errorf("sample output missing sections:\n%s", out)
	}
}

func TestGrantThenBalanceAndHistory(t *testing.T) {
	cfg := sqliteConfig(t)

	if _, err := run(t, "--config", cfg, "migrate"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	out, err := run(t, "--config", cfg, "grant", "user-1", "pro", "--until", "2030-01-01")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !strings.Contains(out, "Granted 500 tokens (PRO) to user-1, resets 2030-01-01") {
		t.Errorf("grant output: %q", out)
	}

	out, err = run(t, "--config", cfg, "balance", "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	for _, want := range []string{"user-1", "500", "2030-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("balance output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "--config", cfg, "history", "user-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "SUBSCRIPTION_GRANT") || !strings.Contains(out, "-500") {
		t.Errorf("history output:\n%s", out)
	}
}

func TestGrantRejectsUnknownTier(t *testing.T) {
	cfg := sqliteConfig(t)
	_, err := run(t, "--config", cfg, "grant", "user-1", "platinum")
	if err == nil || !strings.Contains(err.Error(), "unknown tier") {
		t.Errorf("err = %v, want unknown tier", err)
	}
}

func TestCatalogListsPricesAndTiers(t *testing.T) {
	cfg := sqliteConfig(t)
	out, err := run(t, "--config", cfg, "catalog")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	for _, want := range []string{"VIDEO_PROCESSING", "CONTENT_ANALYSIS", "unpriced", "ENTERPRISE", "2000"} {
		if !strings.Contains(out, want) {
			t.Errorf("catalog output missing %q:\n%s", want, out)
		}
	}
}

func TestInvalidConfigFails(t *testing.T) {
	cfg := writeConfig(t, "[store]\ndriver = \"cassandra\"\n")
	if _, err := run(t, "--config", cfg, "catalog"); err == nil {
		t.Error("expected validation error")
	}
}

func TestServeAnswersHealthAndShutsDown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Bind = "127.0.0.1:0"
	cfg.Store.Driver = "memory"
	cfg.Auth.Disabled = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("metrics endpoint missing runtime collectors")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
