// Package memory is an in-process store.Store for tests and single-node
// development. Every value crossing the boundary is copied.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/balance"
	ledgerstore "github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// Keyed by user ID.
	balances      map[string]*balance.Balance
	subscriptions map[string]*subscription.Record

	transactions []*transaction.Transaction
	events       map[string]string

	// FailAppend makes AppendTransaction fail; tests use it to simulate a
	// log outage after a balance write.
	FailAppend error
}

func New() *Store {
	return &Store{
		balances:      make(map[string]*balance.Balance),
		subscriptions: make(map[string]*subscription.Record),
		events:        make(map[string]string),
	}
}

// ──────────────────────────────────────────────────
// Balance Store implementation
// ──────────────────────────────────────────────────

func (s *Store) GetBalance(_ context.Context, userID string) (*balance.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.balances[userID]; ok {
		return b.Clone(), nil
	}
	return nil, tokenledger.ErrBalanceNotFound
}

func (s *Store) CreateBalance(_ context.Context, b *balance.Balance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.balances[b.UserID]; exists {
		return false, nil
	}
	s.balances[b.UserID] = b.Clone()
	return true, nil
}

func (s *Store) UpdateBalance(_ context.Context, b *balance.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.balances[b.UserID]; !exists {
		return tokenledger.ErrBalanceNotFound
	}
	s.balances[b.UserID] = b.Clone()
	return nil
}

func (s *Store) DebitBalance(_ context.Context, userID string, cost int64) (*balance.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[userID]
	if !ok {
		return nil, tokenledger.ErrBalanceNotFound
	}
	if b.TokensRemaining < cost {
		return nil, tokenledger.ErrInsufficientTokens
	}
	b.TokensRemaining -= cost
	b.TokensUsed += cost
	b.Touch()
	return b.Clone(), nil
}

// ──────────────────────────────────────────────────
// Subscription Store implementation
// ──────────────────────────────────────────────────

func (s *Store) GetSubscription(_ context.Context, userID string) (*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.subscriptions[userID]; ok {
		return cloneRecord(r), nil
	}
	return nil, tokenledger.ErrSubscriptionNotFound
}

func (s *Store) GetSubscriptionByProviderID(_ context.Context, providerID string) (*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.subscriptions {
		if providerID != "" && r.StripeSubscriptionID == providerID {
			return cloneRecord(r), nil
		}
	}
	return nil, tokenledger.ErrSubscriptionNotFound
}

func (s *Store) CreateSubscription(_ context.Context, r *subscription.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[r.UserID]; exists {
		return tokenledger.ErrAlreadyExists
	}
	s.subscriptions[r.UserID] = cloneRecord(r)
	return nil
}

func (s *Store) UpdateSubscription(_ context.Context, r *subscription.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[r.UserID]; !exists {
		return tokenledger.ErrSubscriptionNotFound
	}
	s.subscriptions[r.UserID] = cloneRecord(r)
	return nil
}

func cloneRecord(r *subscription.Record) *subscription.Record {
	out := *r
	if r.StartDate != nil {
		t := *r.StartDate
		out.StartDate = &t
	}
	if r.EndDate != nil {
		t := *r.EndDate
		out.EndDate = &t
	}
	return &out
}

// ──────────────────────────────────────────────────
// Transaction Store implementation
// ──────────────────────────────────────────────────

func (s *Store) AppendTransaction(_ context.Context, t *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailAppend != nil {
		return s.FailAppend
	}
	cp := *t
	s.transactions = append(s.transactions, &cp)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Walk backwards so equal timestamps keep newest-inserted first.
	result := []*transaction.Transaction{}
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.UserID != userID {
			continue
		}
		if opts.Type != "" && t.Type != opts.Type {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return []*transaction.Transaction{}, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Webhook dedupe
// ──────────────────────────────────────────────────

func (s *Store) MarkEventProcessed(_ context.Context, eventID, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.events[eventID]; seen {
		return false, nil
	}
	s.events[eventID] = eventType
	return true, nil
}

func (s *Store) ForgetEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, eventID)
	return nil
}

// ──────────────────────────────────────────────────
// Core methods
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }
