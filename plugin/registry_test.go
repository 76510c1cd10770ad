package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/catalog"
)

type recorder struct {
	name string

	mu      sync.Mutex
	debited []int64
	resets  int
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnTokensDebited(_ context.Context, _ string, _ catalog.Operation, cost, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debited = append(r.debited, cost)
	return nil
}

func (r *recorder) OnBalanceReset(_ context.Context, _ *balance.Balance, _ catalog.Tier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	return errors.New("boom")
}

type slowPlugin struct{}

func (slowPlugin) Name() string { return "slow" }

func (slowPlugin) OnShutdown(ctx context.Context) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

func quietRegistry() *Registry {
	return NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := quietRegistry()
	if err := r.Register(&recorder{name: "a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&recorder{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if r.Count() != 1 {
		t.Errorf("Count: got %d", r.Count())
	}
	if r.Get("a") == nil || r.Get("missing") != nil {
		t.Error("Get returned the wrong plugin")
	}
}

func TestEmitDispatchesOnlyImplementedHooks(t *testing.T) {
	r := quietRegistry()
	rec := &recorder{name: "rec"}
	if err := r.Register(rec); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	r.EmitTokensDebited(ctx, "u1", catalog.OpImageGeneration, 5, 45)
	r.EmitTokensDebited(ctx, "u1", catalog.OpTextRepurpose, 1, 44)
	r.EmitBalanceReset(ctx, &balance.Balance{}, catalog.TierFree)
	r.EmitWebhookDropped(ctx, "checkout.session.completed", "evt_1", "no user")

	if len(rec.debited) != 2 || rec.debited[0] != 5 || rec.debited[1] != 1 {
		t.Errorf("debited: got %v", rec.debited)
	}
	// Hook errors are swallowed.
	if rec.resets != 1 {
		t.Errorf("resets: got %d", rec.resets)
	}
}

func TestCallWithTimeout(t *testing.T) {
	r := quietRegistry().WithTimeout(20 * time.Millisecond)
	if err := r.Register(slowPlugin{}); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	r.EmitShutdown(context.Background())
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("EmitShutdown waited %v for a slow plugin", elapsed)
	}
}
