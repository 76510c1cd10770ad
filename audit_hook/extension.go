// Package audithook bridges ledger lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package carries no audit
// backend dependency. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/plugin"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnBalanceInitialized   = (*Extension)(nil)
	_ plugin.OnBalanceReset         = (*Extension)(nil)
	_ plugin.OnBalanceDowngraded    = (*Extension)(nil)
	_ plugin.OnTokensDebited        = (*Extension)(nil)
	_ plugin.OnInsufficientTokens   = (*Extension)(nil)
	_ plugin.OnTokensGranted        = (*Extension)(nil)
	_ plugin.OnTransactionLogFailed = (*Extension)(nil)
	_ plugin.OnSubscriptionSynced   = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled = (*Extension)(nil)
	_ plugin.OnWebhookReceived      = (*Extension)(nil)
	_ plugin.OnWebhookDropped       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// SlogRecorder writes audit events to logger at INFO.
func SlogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, e *AuditEvent) error {
		logger.InfoContext(ctx, "audit",
			"action", e.Action,
			"resource", e.Resource,
			"resource_id", e.ResourceID,
			"outcome", e.Outcome,
			"severity", e.Severity,
			"metadata", e.Metadata,
		)
		return nil
	})
}

// Extension bridges ledger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Balance lifecycle hooks
// ──────────────────────────────────────────────────

// OnBalanceInitialized implements plugin.OnBalanceInitialized.
func (e *Extension) OnBalanceInitialized(ctx context.Context, b *balance.Balance, tier catalog.Tier) error {
	return e.record(ctx, ActionBalanceInitialized, SeverityInfo, OutcomeSuccess,
		ResourceBalance, b.UserID, CategoryUsage, nil,
		"tier", tier,
		"tokens_remaining", b.TokensRemaining,
	)
}

// OnBalanceReset implements plugin.OnBalanceReset.
func (e *Extension) OnBalanceReset(ctx context.Context, b *balance.Balance, tier catalog.Tier) error {
	return e.record(ctx, ActionBalanceReset, SeverityInfo, OutcomeSuccess,
		ResourceBalance, b.UserID, CategoryUsage, nil,
		"tier", tier,
		"tokens_remaining", b.TokensRemaining,
		"reset_date", b.ResetDate,
	)
}

// OnBalanceDowngraded implements plugin.OnBalanceDowngraded. Downgrades write
// no transaction row, so this entry is their only trail.
func (e *Extension) OnBalanceDowngraded(ctx context.Context, b *balance.Balance) error {
	return e.record(ctx, ActionBalanceDowngraded, SeverityInfo, OutcomeSuccess,
		ResourceBalance, b.UserID, CategorySubscription, nil,
		"tokens_remaining", b.TokensRemaining,
	)
}

// ──────────────────────────────────────────────────
// Token lifecycle hooks
// ──────────────────────────────────────────────────

// OnTokensDebited implements plugin.OnTokensDebited.
func (e *Extension) OnTokensDebited(ctx context.Context, userID string, op catalog.Operation, cost, remaining int64) error {
	return e.record(ctx, ActionTokensDebited, SeverityInfo, OutcomeSuccess,
		ResourceBalance, userID, CategoryUsage, nil,
		"operation", op,
		"cost", cost,
		"remaining", remaining,
	)
}

// OnInsufficientTokens implements plugin.OnInsufficientTokens.
func (e *Extension) OnInsufficientTokens(ctx context.Context, userID string, op catalog.Operation, cost, remaining int64) error {
	return e.record(ctx, ActionTokensRefused, SeverityWarning, OutcomeFailure,
		ResourceBalance, userID, CategoryUsage, nil,
		"operation", op,
		"cost", cost,
		"remaining", remaining,
	)
}

// OnTokensGranted implements plugin.OnTokensGranted.
func (e *Extension) OnTokensGranted(ctx context.Context, userID string, tier catalog.Tier, tokens int64, periodEnd time.Time) error {
	return e.record(ctx, ActionTokensGranted, SeverityInfo, OutcomeSuccess,
		ResourceBalance, userID, CategorySubscription, nil,
		"tier", tier,
		"tokens", tokens,
		"period_end", periodEnd,
	)
}

// OnTransactionLogFailed implements plugin.OnTransactionLogFailed.
func (e *Extension) OnTransactionLogFailed(ctx context.Context, t *transaction.Transaction, err error) error {
	return e.record(ctx, ActionTransactionLogLost, SeverityError, OutcomePartial,
		ResourceTransaction, t.UserID, CategoryUsage, err,
		"transaction_id", t.ID.String(),
		"operation", t.Type,
		"tokens_used", t.TokensUsed,
	)
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionSynced implements plugin.OnSubscriptionSynced.
func (e *Extension) OnSubscriptionSynced(ctx context.Context, r *subscription.Record) error {
	return e.record(ctx, ActionSubscriptionSynced, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, r.UserID, CategorySubscription, nil,
		"tier", r.Tier,
		"active", r.IsActive,
		"stripe_subscription_id", r.StripeSubscriptionID,
	)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, r *subscription.Record) error {
	return e.record(ctx, ActionSubscriptionCanceled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, r.UserID, CategorySubscription, nil,
		"tier", r.Tier,
		"stripe_subscription_id", r.StripeSubscriptionID,
	)
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (e *Extension) OnWebhookReceived(ctx context.Context, provider, eventType, eventID string) error {
	return e.record(ctx, ActionWebhookReceived, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, eventID, CategoryIntegration, nil,
		"provider", provider,
		"event_type", eventType,
	)
}

// OnWebhookDropped implements plugin.OnWebhookDropped.
func (e *Extension) OnWebhookDropped(ctx context.Context, eventType, eventID, reason string) error {
	return e.record(ctx, ActionWebhookDropped, SeverityWarning, OutcomeFailure,
		ResourceWebhook, eventID, CategoryIntegration, errors.New(reason),
		"event_type", eventType,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
