package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/tokenledger"
	audithook "github.com/xraph/tokenledger/audit_hook"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/store/memory"
	"github.com/xraph/tokenledger/subscription"
)

type sink struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (s *sink) Record(_ context.Context, e *audithook.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *sink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Action
	}
	return out
}

func newLedger(t *testing.T, ext *audithook.Extension) *tokenledger.Ledger {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := tokenledger.New(memory.New(),
		tokenledger.WithLogger(quiet),
		tokenledger.WithClock(func() time.Time { return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) }),
		tokenledger.WithPlugin(ext),
	)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return l
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func TestLedgerEventsAreAudited(t *testing.T) {
	ctx := context.Background()
	s := &sink{}
	l := newLedger(t, audithook.New(s))

	if _, err := l.Debit(ctx, "u1", catalog.OpVideoProcessing, ""); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := l.Debit(ctx, "u1", catalog.OpVideoProcessing, ""); err != nil {
			t.Fatal(err)
		}
	}
	if res, _ := l.Debit(ctx, "u1", catalog.OpTextRepurpose, ""); res.Success {
		t.Fatal("expected refusal")
	}

	rec, err := l.SyncSubscription(ctx, &subscription.Record{UserID: "u1", Tier: catalog.TierPro, IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Grant(ctx, "u1", catalog.TierPro, time.Time{}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.CancelSubscription(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got := s.actions()
	for _, want := range []string{
		audithook.ActionBalanceInitialized,
		audithook.ActionTokensDebited,
		audithook.ActionTokensRefused,
		audithook.ActionSubscriptionSynced,
		audithook.ActionTokensGranted,
		audithook.ActionSubscriptionCanceled,
		audithook.ActionBalanceDowngraded,
	} {
		if !contains(got, want) {
			t.Errorf("missing audit action %s in %v", want, got)
		}
	}
}

func TestActionFilters(t *testing.T) {
	ctx := context.Background()

	t.Run("enabled only", func(t *testing.T) {
		s := &sink{}
		l := newLedger(t, audithook.New(s, audithook.WithEnabledActions(audithook.ActionTokensDebited)))
		if _, err := l.Debit(ctx, "u1", catalog.OpTextRepurpose, ""); err != nil {
			t.Fatal(err)
		}
		got := s.actions()
		if len(got) != 1 || got[0] != audithook.ActionTokensDebited {
			t.Errorf("actions = %v", got)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		s := &sink{}
		l := newLedger(t, audithook.New(s, audithook.WithDisabledActions(audithook.ActionTokensDebited)))
		if _, err := l.Debit(ctx, "u1", catalog.OpTextRepurpose, ""); err != nil {
			t.Fatal(err)
		}
		if contains(s.actions(), audithook.ActionTokensDebited) {
			t.Error("disabled action recorded")
		}
		if !contains(s.actions(), audithook.ActionBalanceInitialized) {
			t.Error("other actions should still be recorded")
		}
	})

	t.Run("categories", func(t *testing.T) {
		s := &sink{}
		l := newLedger(t, audithook.New(s, audithook.WithCategories(audithook.CategorySubscription)))
		if _, err := l.Debit(ctx, "u1", catalog.OpTextRepurpose, ""); err != nil {
			t.Fatal(err)
		}
		if got := s.actions(); len(got) != 0 {
			t.Fatalf("usage actions recorded: %v", got)
		}
		if _, err := l.Grant(ctx, "u1", catalog.TierPro, time.Time{}); err != nil {
			t.Fatal(err)
		}
		if got := s.actions(); len(got) != 1 || got[0] != audithook.ActionTokensGranted {
			t.Errorf("actions = %v", got)
		}
	})
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	}), audithook.WithLogger(quiet))

	if err := ext.OnWebhookDropped(context.Background(), "checkout.session.completed", "evt_1", "no user"); err != nil {
		t.Errorf("OnWebhookDropped returned %v", err)
	}
}
