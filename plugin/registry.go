package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and dispatches hooks to the ones
// implementing them. Interface lookups happen once, at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                 []OnInit
	onShutdown             []OnShutdown
	onBalanceInitialized   []OnBalanceInitialized
	onBalanceReset         []OnBalanceReset
	onTokensDebited        []OnTokensDebited
	onInsufficientTokens   []OnInsufficientTokens
	onTokensGranted        []OnTokensGranted
	onBalanceDowngraded    []OnBalanceDowngraded
	onTransactionLogFailed []OnTransactionLogFailed
	onSubscriptionSynced   []OnSubscriptionSynced
	onSubscriptionCanceled []OnSubscriptionCanceled
	onWebhookReceived      []OnWebhookReceived
	onWebhookDropped       []OnWebhookDropped
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnBalanceInitialized); ok {
		r.onBalanceInitialized = append(r.onBalanceInitialized, v)
		hooks = append(hooks, "OnBalanceInitialized")
	}
	if v, ok := p.(OnBalanceReset); ok {
		r.onBalanceReset = append(r.onBalanceReset, v)
		hooks = append(hooks, "OnBalanceReset")
	}
	if v, ok := p.(OnTokensDebited); ok {
		r.onTokensDebited = append(r.onTokensDebited, v)
		hooks = append(hooks, "OnTokensDebited")
	}
	if v, ok := p.(OnInsufficientTokens); ok {
		r.onInsufficientTokens = append(r.onInsufficientTokens, v)
		hooks = append(hooks, "OnInsufficientTokens")
	}
	if v, ok := p.(OnTokensGranted); ok {
		r.onTokensGranted = append(r.onTokensGranted, v)
		hooks = append(hooks, "OnTokensGranted")
	}
	if v, ok := p.(OnBalanceDowngraded); ok {
		r.onBalanceDowngraded = append(r.onBalanceDowngraded, v)
		hooks = append(hooks, "OnBalanceDowngraded")
	}
	if v, ok := p.(OnTransactionLogFailed); ok {
		r.onTransactionLogFailed = append(r.onTransactionLogFailed, v)
		hooks = append(hooks, "OnTransactionLogFailed")
	}
	if v, ok := p.(OnSubscriptionSynced); ok {
		r.onSubscriptionSynced = append(r.onSubscriptionSynced, v)
		hooks = append(hooks, "OnSubscriptionSynced")
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
		hooks = append(hooks, "OnSubscriptionCanceled")
	}
	if v, ok := p.(OnWebhookReceived); ok {
		r.onWebhookReceived = append(r.onWebhookReceived, v)
		hooks = append(hooks, "OnWebhookReceived")
	}
	if v, ok := p.(OnWebhookDropped); ok {
		r.onWebhookDropped = append(r.onWebhookDropped, v)
		hooks = append(hooks, "OnWebhookDropped")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit runs call for every plugin in list. Hook errors are logged and never
// reach the caller.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, list []T, call func(T) error) {
	for _, p := range list {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return call(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func snapshot[T any](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, ledger interface{}) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, ledger)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitBalanceInitialized emits a balance initialized event.
func (r *Registry) EmitBalanceInitialized(ctx context.Context, b *balance.Balance, tier catalog.Tier) {
	emit(ctx, r, "OnBalanceInitialized", snapshot(r, &r.onBalanceInitialized), func(p OnBalanceInitialized) error {
		return p.OnBalanceInitialized(ctx, b, tier)
	})
}

// EmitBalanceReset emits a balance reset event.
func (r *Registry) EmitBalanceReset(ctx context.Context, b *balance.Balance, tier catalog.Tier) {
	emit(ctx, r, "OnBalanceReset", snapshot(r, &r.onBalanceReset), func(p OnBalanceReset) error {
		return p.OnBalanceReset(ctx, b, tier)
	})
}

// EmitTokensDebited emits a tokens debited event.
func (r *Registry) EmitTokensDebited(ctx context.Context, userID string, op catalog.Operation, cost, remaining int64) {
	emit(ctx, r, "OnTokensDebited", snapshot(r, &r.onTokensDebited), func(p OnTokensDebited) error {
		return p.OnTokensDebited(ctx, userID, op, cost, remaining)
	})
}

// EmitInsufficientTokens emits a refused debit event.
func (r *Registry) EmitInsufficientTokens(ctx context.Context, userID string, op catalog.Operation, cost, remaining int64) {
	emit(ctx, r, "OnInsufficientTokens", snapshot(r, &r.onInsufficientTokens), func(p OnInsufficientTokens) error {
		return p.OnInsufficientTokens(ctx, userID, op, cost, remaining)
	})
}

// EmitTokensGranted emits a grant event.
func (r *Registry) EmitTokensGranted(ctx context.Context, userID string, tier catalog.Tier, tokens int64, periodEnd time.Time) {
	emit(ctx, r, "OnTokensGranted", snapshot(r, &r.onTokensGranted), func(p OnTokensGranted) error {
		return p.OnTokensGranted(ctx, userID, tier, tokens, periodEnd)
	})
}

// EmitBalanceDowngraded emits a downgrade event.
func (r *Registry) EmitBalanceDowngraded(ctx context.Context, b *balance.Balance) {
	emit(ctx, r, "OnBalanceDowngraded", snapshot(r, &r.onBalanceDowngraded), func(p OnBalanceDowngraded) error {
		return p.OnBalanceDowngraded(ctx, b)
	})
}

// EmitTransactionLogFailed emits a lost transaction row event.
func (r *Registry) EmitTransactionLogFailed(ctx context.Context, t *transaction.Transaction, cause error) {
	emit(ctx, r, "OnTransactionLogFailed", snapshot(r, &r.onTransactionLogFailed), func(p OnTransactionLogFailed) error {
		return p.OnTransactionLogFailed(ctx, t, cause)
	})
}

// EmitSubscriptionSynced emits a subscription synced event.
func (r *Registry) EmitSubscriptionSynced(ctx context.Context, rec *subscription.Record) {
	emit(ctx, r, "OnSubscriptionSynced", snapshot(r, &r.onSubscriptionSynced), func(p OnSubscriptionSynced) error {
		return p.OnSubscriptionSynced(ctx, rec)
	})
}

// EmitSubscriptionCanceled emits a subscription canceled event.
func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, rec *subscription.Record) {
	emit(ctx, r, "OnSubscriptionCanceled", snapshot(r, &r.onSubscriptionCanceled), func(p OnSubscriptionCanceled) error {
		return p.OnSubscriptionCanceled(ctx, rec)
	})
}

// EmitWebhookReceived emits a webhook received event.
func (r *Registry) EmitWebhookReceived(ctx context.Context, provider, eventType, eventID string) {
	emit(ctx, r, "OnWebhookReceived", snapshot(r, &r.onWebhookReceived), func(p OnWebhookReceived) error {
		return p.OnWebhookReceived(ctx, provider, eventType, eventID)
	})
}

// EmitWebhookDropped emits a webhook dropped event.
func (r *Registry) EmitWebhookDropped(ctx context.Context, eventType, eventID, reason string) {
	emit(ctx, r, "OnWebhookDropped", snapshot(r, &r.onWebhookDropped), func(p OnWebhookDropped) error {
		return p.OnWebhookDropped(ctx, eventType, eventID, reason)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the ledger.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
