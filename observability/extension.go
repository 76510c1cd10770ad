// Package observability provides a metrics extension for the ledger that
// records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/plugin"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnBalanceInitialized   = (*MetricsExtension)(nil)
	_ plugin.OnBalanceReset         = (*MetricsExtension)(nil)
	_ plugin.OnBalanceDowngraded    = (*MetricsExtension)(nil)
	_ plugin.OnTokensDebited        = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientTokens   = (*MetricsExtension)(nil)
	_ plugin.OnTokensGranted        = (*MetricsExtension)(nil)
	_ plugin.OnTransactionLogFailed = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionSynced   = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived      = (*MetricsExtension)(nil)
	_ plugin.OnWebhookDropped       = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records ledger lifecycle metrics.
// Register it as a ledger plugin to track token usage.
type MetricsExtension struct {
	factory MetricFactory

	// Balance metrics
	BalanceInitialized Counter
	BalanceReset       Counter
	BalanceDowngraded  Counter

	// Token metrics
	TokensDebited      Counter
	TokensSpent        Counter
	DebitCost          Histogram
	DebitsRefused      Counter
	TokensGranted      Counter
	TransactionLogLost Counter

	// Subscription metrics
	SubscriptionSynced   Counter
	SubscriptionCanceled Counter

	// Webhook metrics
	WebhookReceived Counter
	WebhookDropped  Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		BalanceInitialized: factory.Counter("tokenledger.balance.initialized"),
		BalanceReset:       factory.Counter("tokenledger.balance.reset"),
		BalanceDowngraded:  factory.Counter("tokenledger.balance.downgraded"),

		TokensDebited:      factory.Counter("tokenledger.tokens.debits"),
		TokensSpent:        factory.Counter("tokenledger.tokens.spent"),
		DebitCost:          factory.Histogram("tokenledger.tokens.debit_cost"),
		DebitsRefused:      factory.Counter("tokenledger.tokens.refused"),
		TokensGranted:      factory.Counter("tokenledger.tokens.granted"),
		TransactionLogLost: factory.Counter("tokenledger.transaction.log_failed"),

		SubscriptionSynced:   factory.Counter("tokenledger.subscription.synced"),
		SubscriptionCanceled: factory.Counter("tokenledger.subscription.canceled"),

		WebhookReceived: factory.Counter("tokenledger.webhook.received"),
		WebhookDropped:  factory.Counter("tokenledger.webhook.dropped"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Balance lifecycle hooks
// ──────────────────────────────────────────────────

// OnBalanceInitialized implements plugin.OnBalanceInitialized.
func (m *MetricsExtension) OnBalanceInitialized(_ context.Context, _ *balance.Balance, _ catalog.Tier) error {
	m.BalanceInitialized.Inc()
	return nil
}

// OnBalanceReset implements plugin.OnBalanceReset.
func (m *MetricsExtension) OnBalanceReset(_ context.Context, _ *balance.Balance, _ catalog.Tier) error {
	m.BalanceReset.Inc()
	return nil
}

// OnBalanceDowngraded implements plugin.OnBalanceDowngraded.
func (m *MetricsExtension) OnBalanceDowngraded(_ context.Context, _ *balance.Balance) error {
	m.BalanceDowngraded.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Token lifecycle hooks
// ──────────────────────────────────────────────────

// OnTokensDebited implements plugin.OnTokensDebited.
func (m *MetricsExtension) OnTokensDebited(_ context.Context, _ string, _ catalog.Operation, cost, _ int64) error {
	m.TokensDebited.Inc()
	m.TokensSpent.Add(float64(cost))
	m.DebitCost.Observe(float64(cost))
	return nil
}

// OnInsufficientTokens implements plugin.OnInsufficientTokens.
func (m *MetricsExtension) OnInsufficientTokens(_ context.Context, _ string, _ catalog.Operation, _, _ int64) error {
	m.DebitsRefused.Inc()
	return nil
}

// OnTokensGranted implements plugin.OnTokensGranted.
func (m *MetricsExtension) OnTokensGranted(_ context.Context, _ string, _ catalog.Tier, tokens int64, _ time.Time) error {
	m.TokensGranted.Add(float64(tokens))
	return nil
}

// OnTransactionLogFailed implements plugin.OnTransactionLogFailed.
func (m *MetricsExtension) OnTransactionLogFailed(_ context.Context, _ *transaction.Transaction, _ error) error {
	m.TransactionLogLost.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionSynced implements plugin.OnSubscriptionSynced.
func (m *MetricsExtension) OnSubscriptionSynced(_ context.Context, _ *subscription.Record) error {
	m.SubscriptionSynced.Inc()
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ *subscription.Record) error {
	m.SubscriptionCanceled.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (m *MetricsExtension) OnWebhookReceived(_ context.Context, _, _, _ string) error {
	m.WebhookReceived.Inc()
	return nil
}

// OnWebhookDropped implements plugin.OnWebhookDropped.
func (m *MetricsExtension) OnWebhookDropped(_ context.Context, _, _, _ string) error {
	m.WebhookDropped.Inc()
	return nil
}
