// Package storetest is a conformance suite run against every store.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
	"github.com/xraph/tokenledger/types"
)

// Factory returns a fresh, migrated, empty store.
type Factory func(t *testing.T) store.Store

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("BalanceLifecycle", func(t *testing.T) { testBalanceLifecycle(t, newStore(t)) })
	t.Run("ConditionalDebit", func(t *testing.T) { testConditionalDebit(t, newStore(t)) })
	t.Run("ConcurrentDebit", func(t *testing.T) { testConcurrentDebit(t, newStore(t)) })
	t.Run("Subscriptions", func(t *testing.T) { testSubscriptions(t, newStore(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("WebhookDedupe", func(t *testing.T) { testWebhookDedupe(t, newStore(t)) })
	t.Run("UpdatePersistsTimestamp", func(t *testing.T) { testUpdatePersistsTimestamp(t, newStore(t)) })
	t.Run("MigrateTwice", func(t *testing.T) {
		s := newStore(t)
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("second Migrate: %v", err)
		}
	})
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newBalance(userID string, remaining int64) *balance.Balance {
	reset := base.AddDate(0, 1, 0)
	return &balance.Balance{
		Entity:          types.NewEntityAt(base),
		ID:              id.NewBalanceID(),
		UserID:          userID,
		TokensRemaining: remaining,
		ResetDate:       &reset,
	}
}

func testBalanceLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.GetBalance(ctx, "u1"); !errors.Is(err, tokenledger.ErrBalanceNotFound) {
		t.Fatalf("missing balance: got %v", err)
	}

	b := newBalance("u1", 50)
	inserted, err := s.CreateBalance(ctx, b)
	if err != nil || !inserted {
		t.Fatalf("CreateBalance: inserted=%v err=%v", inserted, err)
	}

	dup := newBalance("u1", 999)
	inserted, err = s.CreateBalance(ctx, dup)
	if err != nil || inserted {
		t.Fatalf("duplicate CreateBalance: inserted=%v err=%v", inserted, err)
	}

	got, err := s.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != b.ID || got.TokensRemaining != 50 {
		t.Errorf("GetBalance: %+v", got)
	}
	if got.ResetDate == nil || !got.ResetDate.Equal(*b.ResetDate) {
		t.Errorf("ResetDate: got %v, want %v", got.ResetDate, b.ResetDate)
	}

	got.TokensRemaining = 50
	got.TokensUsed = 0
	got.ResetDate = nil
	if err := s.UpdateBalance(ctx, got); err != nil {
		t.Fatal(err)
	}
	again, _ := s.GetBalance(ctx, "u1")
	if again.ResetDate != nil {
		t.Errorf("nil reset date not persisted: %v", again.ResetDate)
	}

	if err := s.UpdateBalance(ctx, newBalance("ghost", 1)); !errors.Is(err, tokenledger.ErrBalanceNotFound) {
		t.Errorf("update missing: got %v", err)
	}
}

func testConditionalDebit(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.CreateBalance(ctx, newBalance("u1", 6)); err != nil {
		t.Fatal(err)
	}

	b, err := s.DebitBalance(ctx, "u1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if b.TokensRemaining != 1 || b.TokensUsed != 5 {
		t.Errorf("after debit: remaining=%d used=%d", b.TokensRemaining, b.TokensUsed)
	}

	if _, err := s.DebitBalance(ctx, "u1", 5); !errors.Is(err, tokenledger.ErrInsufficientTokens) {
		t.Errorf("overdraw: got %v", err)
	}
	after, _ := s.GetBalance(ctx, "u1")
	if after.TokensRemaining != 1 {
		t.Errorf("refused debit changed balance: %d", after.TokensRemaining)
	}

	if _, err := s.DebitBalance(ctx, "ghost", 1); !errors.Is(err, tokenledger.ErrBalanceNotFound) {
		t.Errorf("missing row: got %v", err)
	}
}

func testConcurrentDebit(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.CreateBalance(ctx, newBalance("u1", 20)); err != nil {
		t.Fatal(err)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.DebitBalance(ctx, "u1", 5)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else if !errors.Is(err, tokenledger.ErrInsufficientTokens) {
				t.Errorf("DebitBalance: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 4 {
		t.Errorf("successful debits: got %d, want 4", ok)
	}
	b, _ := s.GetBalance(ctx, "u1")
	if b.TokensRemaining != 0 {
		t.Errorf("remaining: got %d", b.TokensRemaining)
	}
}

func testSubscriptions(t *testing.T, s store.Store) {
	ctx := context.Background()
	end := base.AddDate(0, 1, 0)

	rec := &subscription.Record{
		Entity:               types.NewEntityAt(base),
		ID:                   id.NewSubscriptionID(),
		UserID:               "u1",
		Tier:                 catalog.TierPro,
		IsActive:             true,
		StripeSubscriptionID: "sub_1",
		StripeCustomerID:     "cus_1",
		StartDate:            &base,
		EndDate:              &end,
	}
	if err := s.CreateSubscription(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateSubscription(ctx, rec); !errors.Is(err, tokenledger.ErrAlreadyExists) {
		t.Errorf("duplicate create: got %v", err)
	}

	got, err := s.GetSubscriptionByProviderID(ctx, "sub_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "u1" || got.Tier != catalog.TierPro || !got.IsActive {
		t.Errorf("by provider: %+v", got)
	}
	if got.EndDate == nil || !got.EndDate.Equal(end) {
		t.Errorf("EndDate: got %v", got.EndDate)
	}

	got.IsActive = false
	if err := s.UpdateSubscription(ctx, got); err != nil {
		t.Fatal(err)
	}
	updated, _ := s.GetSubscription(ctx, "u1")
	if updated.IsActive || updated.Tier != catalog.TierPro {
		t.Errorf("after update: %+v", updated)
	}

	if _, err := s.GetSubscription(ctx, "ghost"); !errors.Is(err, tokenledger.ErrSubscriptionNotFound) {
		t.Errorf("missing: got %v", err)
	}
	if _, err := s.GetSubscriptionByProviderID(ctx, ""); !errors.Is(err, tokenledger.ErrSubscriptionNotFound) {
		t.Errorf("empty provider id: got %v", err)
	}
}

// Updates store the caller's UpdatedAt rather than the store's clock.
func testUpdatePersistsTimestamp(t *testing.T, s store.Store) {
	ctx := context.Background()
	touched := base.Add(36 * time.Hour)

	b := newBalance("u1", 50)
	if _, err := s.CreateBalance(ctx, b); err != nil {
		t.Fatal(err)
	}
	b.TokensRemaining = 40
	b.UpdatedAt = touched
	if err := s.UpdateBalance(ctx, b); err != nil {
		t.Fatal(err)
	}
	gotBalance, err := s.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !gotBalance.UpdatedAt.Equal(touched) {
		t.Errorf("balance UpdatedAt: got %v, want %v", gotBalance.UpdatedAt, touched)
	}
	if !gotBalance.CreatedAt.Equal(base) {
		t.Errorf("balance CreatedAt: got %v, want %v", gotBalance.CreatedAt, base)
	}

	rec := &subscription.Record{
		Entity: types.NewEntityAt(base),
		ID:     id.NewSubscriptionID(),
		UserID: "u1",
		Tier:   catalog.TierFree,
	}
	if err := s.CreateSubscription(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Tier = catalog.TierPro
	rec.UpdatedAt = touched
	if err := s.UpdateSubscription(ctx, rec); err != nil {
		t.Fatal(err)
	}
	gotRec, err := s.GetSubscription(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !gotRec.UpdatedAt.Equal(touched) {
		t.Errorf("subscription UpdatedAt: got %v, want %v", gotRec.UpdatedAt, touched)
	}
}

func testTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()

	ops := []catalog.Operation{catalog.OpTextRepurpose, catalog.OpImageGeneration, catalog.OpSubscriptionGrant}
	for i, op := range ops {
		if err := s.AppendTransaction(ctx, &transaction.Transaction{
			ID:         id.NewTransactionID(),
			UserID:     "u1",
			TokensUsed: int64(i + 1),
			Type:       op,
			ContentID:  "c",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListTransactions(ctx, "u1", transaction.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Type != catalog.OpSubscriptionGrant || all[2].Type != catalog.OpTextRepurpose {
		t.Fatalf("order: %+v", all)
	}

	page, _ := s.ListTransactions(ctx, "u1", transaction.ListOpts{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].Type != catalog.OpImageGeneration {
		t.Errorf("page: %+v", page)
	}

	typed, _ := s.ListTransactions(ctx, "u1", transaction.ListOpts{Type: catalog.OpTextRepurpose})
	if len(typed) != 1 || typed[0].ContentID != "c" {
		t.Errorf("typed: %+v", typed)
	}

	none, err := s.ListTransactions(ctx, "nobody", transaction.ListOpts{Limit: 10})
	if err != nil || len(none) != 0 {
		t.Errorf("empty history: %v, %v", none, err)
	}
}

func testWebhookDedupe(t *testing.T, s store.Store) {
	ctx := context.Background()

	first, err := s.MarkEventProcessed(ctx, "evt_1", "customer.subscription.updated")
	if err != nil || !first {
		t.Fatalf("first: %v, %v", first, err)
	}
	second, err := s.MarkEventProcessed(ctx, "evt_1", "customer.subscription.updated")
	if err != nil || second {
		t.Fatalf("second: %v, %v", second, err)
	}

	if err := s.ForgetEvent(ctx, "evt_1"); err != nil {
		t.Fatal(err)
	}
	retried, err := s.MarkEventProcessed(ctx, "evt_1", "customer.subscription.updated")
	if err != nil || !retried {
		t.Fatalf("after forget: %v, %v", retried, err)
	}
}
