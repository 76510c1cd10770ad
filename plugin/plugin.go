// Package plugin provides an extensible plugin system for tokenledger.
// Plugins hook into balance, subscription and webhook events; a plugin
// implements only the hook interfaces it cares about.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, ledger interface{}) error
}

// OnShutdown is called when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnBalanceInitialized is called after a user's first balance row is created.
type OnBalanceInitialized interface {
	Plugin
	OnBalanceInitialized(ctx context.Context, b *balance.Balance, tier catalog.Tier) error
}

// OnBalanceReset is called after a balance is replenished at period end.
type OnBalanceReset interface {
	Plugin
	OnBalanceReset(ctx context.Context, b *balance.Balance, tier catalog.Tier) error
}

// OnTokensDebited is called after a successful debit.
type OnTokensDebited interface {
	Plugin
	OnTokensDebited(ctx context.Context, userID string, op catalog.Operation, cost, remaining int64) error
}

// OnInsufficientTokens is called when a debit is refused.
type OnInsufficientTokens interface {
	Plugin
	OnInsufficientTokens(ctx context.Context, userID string, op catalog.Operation, cost, remaining int64) error
}

// OnTokensGranted is called after a subscription grant overwrites a balance.
type OnTokensGranted interface {
	Plugin
	OnTokensGranted(ctx context.Context, userID string, tier catalog.Tier, tokens int64, periodEnd time.Time) error
}

// OnBalanceDowngraded is called after a cancellation resets a balance to FREE.
type OnBalanceDowngraded interface {
	Plugin
	OnBalanceDowngraded(ctx context.Context, b *balance.Balance) error
}

// OnTransactionLogFailed is called when a balance write succeeded but its
// transaction row could not be appended.
type OnTransactionLogFailed interface {
	Plugin
	OnTransactionLogFailed(ctx context.Context, t *transaction.Transaction, err error) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionSynced is called after a record is upserted from the provider.
type OnSubscriptionSynced interface {
	Plugin
	OnSubscriptionSynced(ctx context.Context, r *subscription.Record) error
}

// OnSubscriptionCanceled is called when the provider reports a deletion.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, r *subscription.Record) error
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived is called for every verified webhook event.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, provider, eventType, eventID string) error
}

// OnWebhookDropped is called when a verified event is acknowledged without
// being applied.
type OnWebhookDropped interface {
	Plugin
	OnWebhookDropped(ctx context.Context, eventType, eventID, reason string) error
}
