package tokenledger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/store/memory"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type hookCounter struct {
	mu        sync.Mutex
	resets    int
	logFailed int
	refused   int
	downgrade int
}

func (h *hookCounter) Name() string { return "counter" }

func (h *hookCounter) OnBalanceReset(context.Context, *balance.Balance, catalog.Tier) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resets++
	return nil
}

func (h *hookCounter) OnTransactionLogFailed(context.Context, *transaction.Transaction, error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logFailed++
	return nil
}

func (h *hookCounter) OnInsufficientTokens(context.Context, string, catalog.Operation, int64, int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refused++
	return nil
}

func (h *hookCounter) OnBalanceDowngraded(context.Context, *balance.Balance) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.downgrade++
	return nil
}

var start = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, opts ...tokenledger.Option) (*tokenledger.Ledger, *memory.Store, *fakeClock, *hookCounter) {
	t.Helper()
	clock := &fakeClock{now: start}
	hooks := &hookCounter{}
	s := memory.New()
	base := []tokenledger.Option{
		tokenledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		tokenledger.WithClock(clock.Now),
		tokenledger.WithPlugin(hooks),
	}
	l := tokenledger.New(s, append(base, opts...)...)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return l, s, clock, hooks
}

func TestInitializeSeedsFreeAllotment(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	b, err := l.Initialize(ctx, "u1")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if b.TokensRemaining != 50 || b.TokensUsed != 0 {
		t.Errorf("got remaining=%d used=%d, want 50/0", b.TokensRemaining, b.TokensUsed)
	}
	want := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if b.ResetDate == nil || !b.ResetDate.Equal(want) {
		t.Errorf("ResetDate: got %v, want %v", b.ResetDate, want)
	}

	rec, err := l.Subscription(ctx, "u1")
	if err != nil {
		t.Fatalf("Subscription: %v", err)
	}
	if rec.Tier != catalog.TierFree || !rec.IsActive {
		t.Errorf("free record: got %+v", rec)
	}

	again, err := l.Initialize(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != b.ID {
		t.Errorf("Initialize not idempotent: %s vs %s", again.ID, b.ID)
	}
}

func TestInitializeConcurrentCallersConverge(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := l.Initialize(ctx, "u1")
			if err != nil {
				t.Errorf("Initialize: %v", err)
				return
			}
			ids[i] = b.ID.String()
		}(i)
	}
	wg.Wait()

	for _, got := range ids[1:] {
		if got != ids[0] {
			t.Fatalf("callers saw different rows: %s vs %s", got, ids[0])
		}
	}
}

func TestInitializeRejectsEmptyUser(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	if _, err := l.Initialize(context.Background(), "  "); !errors.Is(err, tokenledger.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDebitSequence(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Debit(ctx, "u1", catalog.OpTextRepurpose, "c1")
		if err != nil {
			t.Fatalf("Debit %d: %v", i, err)
		}
		if !res.Success {
			t.Fatalf("Debit %d refused", i)
		}
	}

	b, err := l.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if b.TokensRemaining != 47 || b.TokensUsed != 3 {
		t.Errorf("got remaining=%d used=%d, want 47/3", b.TokensRemaining, b.TokensUsed)
	}

	history, err := l.History(ctx, "u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("history: got %d rows, want 3", len(history))
	}
	for _, tx := range history {
		if tx.TokensUsed != 1 || tx.Type != catalog.OpTextRepurpose || tx.ContentID != "c1" {
			t.Errorf("unexpected row: %+v", tx)
		}
	}
}

func TestDebitSameOperationDecrementsEqually(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	first, _ := l.Debit(ctx, "u1", catalog.OpImageGeneration, "")
	second, _ := l.Debit(ctx, "u1", catalog.OpImageGeneration, "")
	if 50-first.TokensRemaining != first.TokensRemaining-second.TokensRemaining {
		t.Errorf("decrements differ: 50->%d->%d", first.TokensRemaining, second.TokensRemaining)
	}
}

func TestDebitInsufficientLeavesBalanceUntouched(t *testing.T) {
	l, _, _, hooks := newTestLedger(t)
	ctx := context.Background()

	// Spend down to 5.
	for i := 0; i < 9; i++ {
		if _, err := l.Debit(ctx, "u1", catalog.OpImageGeneration, ""); err != nil {
			t.Fatal(err)
		}
	}
	before, _ := l.History(ctx, "u1", 100)

	res, err := l.Debit(ctx, "u1", catalog.OpVideoProcessing, "")
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if res.Success || res.TokensRemaining != 0 {
		t.Errorf("got %+v, want refused with 0", res)
	}

	b, _ := l.Balance(ctx, "u1")
	if b.TokensRemaining != 5 {
		t.Errorf("balance changed: %d", b.TokensRemaining)
	}
	after, _ := l.History(ctx, "u1", 100)
	if len(after) != len(before) {
		t.Errorf("refused debit appended a transaction")
	}
	if hooks.refused != 1 {
		t.Errorf("OnInsufficientTokens: got %d calls", hooks.refused)
	}
}

func TestRecordReturnsTypedError(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.Record(ctx, "u1", catalog.OpVideoProcessing, ""); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	_, err := l.Record(ctx, "u1", catalog.OpTextRepurpose, "")
	if !errors.Is(err, tokenledger.ErrInsufficientTokens) {
		t.Fatalf("expected ErrInsufficientTokens, got %v", err)
	}
	var ite *tokenledger.InsufficientTokensError
	if !errors.As(err, &ite) {
		t.Fatalf("expected *InsufficientTokensError, got %T", err)
	}
	if ite.Cost != 1 || ite.Remaining != 0 || ite.Operation != catalog.OpTextRepurpose {
		t.Errorf("unexpected details: %+v", ite)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.Initialize(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Debit(ctx, "u1", catalog.OpImageGeneration, "")
			if err != nil {
				t.Errorf("Debit: %v", err)
				return
			}
			if res.Success {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 10 {
		t.Errorf("successes: got %d, want 10", successes)
	}
	b, _ := l.Balance(ctx, "u1")
	if b.TokensRemaining != 0 {
		t.Errorf("remaining: got %d, want 0", b.TokensRemaining)
	}
}

func TestUnpricedAndUnknownOperations(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.Debit(ctx, "u1", catalog.OpContentAnalysis, ""); !errors.Is(err, tokenledger.ErrUnpricedOperation) {
		t.Errorf("CONTENT_ANALYSIS: got %v", err)
	}
	if _, err := l.HasSufficientBalance(ctx, "u1", "TELEPORT"); !errors.Is(err, tokenledger.ErrUnknownOperation) {
		t.Errorf("unknown op: got %v", err)
	}

	priced, _, _, _ := newTestLedger(t, tokenledger.WithCatalog(catalog.New(catalog.WithCost(catalog.OpContentAnalysis, 3))))
	res, err := priced.Debit(ctx, "u1", catalog.OpContentAnalysis, "")
	if err != nil || !res.Success || res.TokensRemaining != 47 {
		t.Errorf("priced CONTENT_ANALYSIS: got %+v, %v", res, err)
	}
}

func TestHasSufficientBalance(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	ok, err := l.HasSufficientBalance(ctx, "u1", catalog.OpVideoProcessing)
	if err != nil || !ok {
		t.Fatalf("fresh user: got %v, %v", ok, err)
	}
	for i := 0; i < 5; i++ {
		_, _ = l.Debit(ctx, "u1", catalog.OpVideoProcessing, "")
	}
	ok, _ = l.HasSufficientBalance(ctx, "u1", catalog.OpTextRepurpose)
	if ok {
		t.Error("empty balance reported sufficient")
	}
}

func TestBalanceResetsOnceAtBoundary(t *testing.T) {
	l, _, clock, hooks := newTestLedger(t)
	ctx := context.Background()

	_, _ = l.Debit(ctx, "u1", catalog.OpVideoProcessing, "")

	// Exactly at the reset date counts as due.
	clock.Set(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))

	first, err := l.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}

	want := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, b := range []*balance.Balance{first, second} {
		if b.TokensRemaining != 50 || b.TokensUsed != 0 {
			t.Errorf("got remaining=%d used=%d", b.TokensRemaining, b.TokensUsed)
		}
		if b.ResetDate == nil || !b.ResetDate.Equal(want) {
			t.Errorf("ResetDate: got %v, want %v", b.ResetDate, want)
		}
	}
	if hooks.resets != 1 {
		t.Errorf("resets: got %d, want 1", hooks.resets)
	}
}

func TestResetUsesEffectiveTier(t *testing.T) {
	l, _, clock, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.SyncSubscription(ctx, &subscription.Record{UserID: "pro", Tier: catalog.TierPro, IsActive: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.SyncSubscription(ctx, &subscription.Record{UserID: "lapsed", Tier: catalog.TierPro, IsActive: false}); err != nil {
		t.Fatal(err)
	}
	_, _ = l.Initialize(ctx, "pro")
	_, _ = l.Initialize(ctx, "lapsed")

	clock.Set(time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC))

	pro, _ := l.Balance(ctx, "pro")
	if pro.TokensRemaining != 500 {
		t.Errorf("active PRO reset: got %d, want 500", pro.TokensRemaining)
	}
	lapsed, _ := l.Balance(ctx, "lapsed")
	if lapsed.TokensRemaining != 50 {
		t.Errorf("inactive PRO reset: got %d, want 50", lapsed.TokensRemaining)
	}
}

func TestGrantOverwrites(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	ctx := context.Background()
	periodEnd := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	_, _ = l.Debit(ctx, "u1", catalog.OpVideoProcessing, "")

	for i := 0; i < 2; i++ {
		b, err := l.Grant(ctx, "u1", catalog.TierPro, periodEnd)
		if err != nil {
			t.Fatalf("Grant: %v", err)
		}
		if b.TokensRemaining != 500 || b.TokensUsed != 0 {
			t.Errorf("grant %d: got remaining=%d used=%d", i, b.TokensRemaining, b.TokensUsed)
		}
		if b.ResetDate == nil || !b.ResetDate.Equal(periodEnd) {
			t.Errorf("grant %d: ResetDate %v", i, b.ResetDate)
		}
	}

	grants, err := l.History(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if grants[0].Type != catalog.OpSubscriptionGrant || grants[0].TokensUsed != -500 {
		t.Errorf("newest row: got %+v", grants[0])
	}
	if !grants[0].IsCredit() {
		t.Error("grant should be a credit")
	}
}

func TestGrantCreatesMissingBalance(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	b, err := l.Grant(context.Background(), "new", "enterprise", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if b.TokensRemaining != 2000 {
		t.Errorf("got %d, want 2000", b.TokensRemaining)
	}
	want := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if !b.ResetDate.Equal(want) {
		t.Errorf("default period end: got %v", b.ResetDate)
	}
}

func TestCancelSubscriptionDowngrades(t *testing.T) {
	l, _, clock, hooks := newTestLedger(t)
	ctx := context.Background()
	periodEnd := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)

	rec, err := l.SyncSubscription(ctx, &subscription.Record{
		UserID:               "u1",
		Tier:                 catalog.TierPro,
		IsActive:             true,
		StripeSubscriptionID: "sub_1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Grant(ctx, "u1", catalog.TierPro, periodEnd); err != nil {
		t.Fatal(err)
	}
	_, _ = l.Debit(ctx, "u1", catalog.OpVideoProcessing, "")
	before, _ := l.History(ctx, "u1", 100)

	b, err := l.CancelSubscription(ctx, rec)
	if err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
	if b.TokensRemaining != 50 || b.TokensUsed != 0 || b.ResetDate != nil {
		t.Errorf("downgraded balance: %+v", b)
	}

	stored, _ := l.Subscription(ctx, "u1")
	if stored.IsActive || stored.Tier != catalog.TierPro {
		t.Errorf("record after cancel: active=%v tier=%s", stored.IsActive, stored.Tier)
	}

	after, _ := l.History(ctx, "u1", 100)
	if len(after) != len(before) {
		t.Errorf("downgrade appended %d rows", len(after)-len(before))
	}
	if hooks.downgrade != 1 {
		t.Errorf("OnBalanceDowngraded: got %d", hooks.downgrade)
	}

	// The cleared reset date starts a new FREE period on the next read.
	clock.Set(start.Add(time.Hour))
	next, _ := l.Balance(ctx, "u1")
	if next.TokensRemaining != 50 || next.ResetDate == nil {
		t.Errorf("post-downgrade read: %+v", next)
	}
}

func TestTransactionLogFailureKeepsDebit(t *testing.T) {
	l, s, _, hooks := newTestLedger(t)
	ctx := context.Background()
	_, _ = l.Initialize(ctx, "u1")

	s.FailAppend = errors.New("disk full")
	res, err := l.Debit(ctx, "u1", catalog.OpImageGeneration, "")
	if err != nil || !res.Success {
		t.Fatalf("Debit: %+v, %v", res, err)
	}
	if res.TokensRemaining != 45 {
		t.Errorf("remaining: got %d", res.TokensRemaining)
	}
	if hooks.logFailed != 1 {
		t.Errorf("OnTransactionLogFailed: got %d", hooks.logFailed)
	}
}

func TestHistoryLimit(t *testing.T) {
	l, _, clock, _ := newTestLedger(t, tokenledger.WithHistoryLimit(4))
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		clock.Set(start.Add(time.Duration(i) * time.Minute))
		_, _ = l.Debit(ctx, "u1", catalog.OpTextRepurpose, "")
	}

	history, err := l.History(ctx, "u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 4 {
		t.Fatalf("default limit: got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].CreatedAt.After(history[i-1].CreatedAt) {
			t.Errorf("history not newest first at %d", i)
		}
	}

	all, _ := l.History(ctx, "u1", 50)
	if len(all) != 6 {
		t.Errorf("explicit limit: got %d", len(all))
	}
}

func TestSyncSubscriptionKeepsIdentity(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := l.SyncSubscription(ctx, &subscription.Record{UserID: "u1", Tier: "pro", IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	if first.Tier != catalog.TierPro {
		t.Errorf("tier not normalized: %s", first.Tier)
	}

	second, err := l.SyncSubscription(ctx, &subscription.Record{UserID: "u1", Tier: catalog.TierEnterprise, IsActive: true, StripeSubscriptionID: "sub_9"})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("upsert replaced ID: %s vs %s", second.ID, first.ID)
	}

	byProvider, err := l.SubscriptionByProviderID(ctx, "sub_9")
	if err != nil || byProvider.UserID != "u1" {
		t.Errorf("SubscriptionByProviderID: %+v, %v", byProvider, err)
	}
	if _, err := l.SubscriptionByProviderID(ctx, ""); !tokenledger.IsNotFound(err) {
		t.Errorf("empty provider id: %v", err)
	}
}

type failingMigrate struct {
	*memory.Store
}

func (failingMigrate) Migrate(context.Context) error { return errors.New("schema locked") }

func TestStartMigrates(t *testing.T) {
	quiet := tokenledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	if err := tokenledger.New(failingMigrate{memory.New()}, quiet).Start(ctx); err == nil {
		t.Error("Start should surface the migration error")
	}
	if err := tokenledger.New(failingMigrate{memory.New()}, quiet, tokenledger.WithoutMigrate()).Start(ctx); err != nil {
		t.Errorf("Start with WithoutMigrate: %v", err)
	}
}
