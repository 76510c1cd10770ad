package store

import (
	"context"

	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// Store is the unified storage interface for all tokenledger entities.
// Backends return the root package's sentinel errors so callers can match
// them with errors.Is regardless of driver.
type Store interface {
	// Balance methods
	GetBalance(ctx context.Context, userID string) (*balance.Balance, error)
	CreateBalance(ctx context.Context, b *balance.Balance) (bool, error)
	UpdateBalance(ctx context.Context, b *balance.Balance) error
	DebitBalance(ctx context.Context, userID string, cost int64) (*balance.Balance, error)

	// Subscription methods
	GetSubscription(ctx context.Context, userID string) (*subscription.Record, error)
	GetSubscriptionByProviderID(ctx context.Context, providerID string) (*subscription.Record, error)
	CreateSubscription(ctx context.Context, r *subscription.Record) error
	UpdateSubscription(ctx context.Context, r *subscription.Record) error

	// Transaction methods
	AppendTransaction(ctx context.Context, t *transaction.Transaction) error
	ListTransactions(ctx context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error)

	// MarkEventProcessed records a webhook delivery. It reports true the
	// first time eventID is seen and false for redeliveries.
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
	// ForgetEvent removes a mark so a failed delivery can be retried.
	ForgetEvent(ctx context.Context, eventID string) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ balance.Store      = (Store)(nil)
	_ subscription.Store = (Store)(nil)
	_ transaction.Store  = (Store)(nil)
)
