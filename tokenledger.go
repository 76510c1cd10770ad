package tokenledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/plugin"
	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
	"github.com/xraph/tokenledger/types"
)

// DefaultHistoryLimit is the number of transactions History returns when the
// caller does not ask for a specific count.
const DefaultHistoryLimit = 10

// Ledger is the token accounting engine.
type Ledger struct {
	store   store.Store
	catalog *catalog.Catalog
	plugins *plugin.Registry
	logger  *slog.Logger
	clock   func() time.Time

	historyLimit int
	skipMigrate  bool
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:        s,
		catalog:      catalog.Default(),
		plugins:      plugin.NewRegistry(),
		logger:       slog.Default(),
		clock:        time.Now,
		historyLimit: DefaultHistoryLimit,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithCatalog replaces the default cost and allotment tables.
func WithCatalog(c *catalog.Catalog) Option {
	return func(l *Ledger) {
		if c != nil {
			l.catalog = c
		}
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock overrides the time source. Tests use it to cross period boundaries.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.clock = now
		}
	}
}

// WithHistoryLimit sets the default History page size.
func WithHistoryLimit(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.historyLimit = n
		}
	}
}

// WithoutMigrate makes Start leave the schema alone.
func WithoutMigrate() Option {
	return func(l *Ledger) { l.skipMigrate = true }
}

// Start migrates the store and initializes plugins.
func (l *Ledger) Start(ctx context.Context) error {
	if !l.skipMigrate {
		if err := l.store.Migrate(ctx); err != nil {
			return err
		}
	}

	l.plugins.EmitInit(ctx, l)

	l.logger.Info("tokenledger started",
		"history_limit", l.historyLimit,
		"unpriced_operations", l.catalog.Unpriced(),
	)

	return nil
}

// Stop notifies plugins and closes the store.
func (l *Ledger) Stop() error {
	l.plugins.EmitShutdown(context.Background())
	return l.store.Close()
}

// Catalog returns the cost and allotment tables in use.
func (l *Ledger) Catalog() *catalog.Catalog { return l.catalog }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Logger returns the ledger's logger.
func (l *Ledger) Logger() *slog.Logger { return l.logger }

// Ping checks store connectivity.
func (l *Ledger) Ping(ctx context.Context) error { return l.store.Ping(ctx) }

func (l *Ledger) now() time.Time { return l.clock().UTC() }

// ──────────────────────────────────────────────────
// Balances
// ──────────────────────────────────────────────────

// Initialize creates the user's balance, seeded with the allotment of their
// effective tier, if it does not exist yet. It is safe to call repeatedly
// and concurrently; every caller ends up with the same row.
func (l *Ledger) Initialize(ctx context.Context, userID string) (*balance.Balance, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}

	b, err := l.store.GetBalance(ctx, userID)
	if err == nil {
		return b, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	rec, err := l.ensureSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	tier := rec.EffectiveTier()
	reset := catalog.NextResetDate(now)
	b = &balance.Balance{
		Entity:          types.NewEntityAt(now),
		ID:              id.NewBalanceID(),
		UserID:          userID,
		TokensRemaining: l.catalog.Allotment(tier),
		ResetDate:       &reset,
	}

	inserted, err := l.store.CreateBalance(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("tokenledger: initialize balance: %w", err)
	}
	if !inserted {
		return l.store.GetBalance(ctx, userID)
	}

	l.logger.Info("balance initialized",
		"user_id", userID,
		"tier", tier,
		"tokens", b.TokensRemaining,
	)
	l.plugins.EmitBalanceInitialized(ctx, b, tier)

	return b, nil
}

// Balance returns the user's current balance. A missing balance is
// initialized, and a balance whose reset date has passed is replenished and
// persisted before it is returned.
func (l *Ledger) Balance(ctx context.Context, userID string) (*balance.Balance, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}

	b, err := l.store.GetBalance(ctx, userID)
	if IsNotFound(err) {
		b, err = l.Initialize(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	now := l.now()
	if !b.IsResetDue(now) {
		return b, nil
	}

	tier, err := l.effectiveTier(ctx, userID)
	if err != nil {
		return nil, err
	}

	reset := catalog.NextResetDate(now)
	b.TokensUsed = 0
	b.TokensRemaining = l.catalog.Allotment(tier)
	b.ResetDate = &reset
	b.TouchAt(now)

	if err := l.store.UpdateBalance(ctx, b); err != nil {
		return nil, fmt.Errorf("tokenledger: reset balance: %w", err)
	}

	l.logger.Info("balance reset",
		"user_id", userID,
		"tier", tier,
		"tokens", b.TokensRemaining,
		"next_reset", reset,
	)
	l.plugins.EmitBalanceReset(ctx, b, tier)

	return b, nil
}

// HasSufficientBalance reports whether the user can currently afford op.
func (l *Ledger) HasSufficientBalance(ctx context.Context, userID string, op catalog.Operation) (bool, error) {
	cost, err := l.catalog.Cost(op)
	if err != nil {
		return false, err
	}
	b, err := l.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return b.TokensRemaining >= cost, nil
}

// DebitResult is the outcome of Debit.
type DebitResult struct {
	Success         bool  `json:"success"`
	TokensRemaining int64 `json:"tokens_remaining"`
}

// Debit charges the user for op. Insufficient balance is reported as
// Success=false with a nil error; any other failure is returned as an error.
func (l *Ledger) Debit(ctx context.Context, userID string, op catalog.Operation, contentID string) (*DebitResult, error) {
	b, err := l.debit(ctx, userID, op, contentID)
	if errors.Is(err, ErrInsufficientTokens) {
		return &DebitResult{Success: false, TokensRemaining: 0}, nil
	}
	if err != nil {
		return nil, err
	}
	return &DebitResult{Success: true, TokensRemaining: b.TokensRemaining}, nil
}

// Record charges the user for op and returns the updated balance. Insufficient
// balance is returned as an *InsufficientTokensError.
func (l *Ledger) Record(ctx context.Context, userID string, op catalog.Operation, contentID string) (*balance.Balance, error) {
	return l.debit(ctx, userID, op, contentID)
}

func (l *Ledger) debit(ctx context.Context, userID string, op catalog.Operation, contentID string) (*balance.Balance, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}

	cost, err := l.catalog.Cost(op)
	if err != nil {
		return nil, err
	}

	// Re-read so a due reset is applied before the check.
	b, err := l.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if b.TokensRemaining < cost {
		return nil, l.refuse(ctx, userID, op, cost, b.TokensRemaining)
	}

	updated, err := l.store.DebitBalance(ctx, userID, cost)
	if errors.Is(err, ErrInsufficientTokens) {
		remaining := int64(0)
		if cur, gerr := l.store.GetBalance(ctx, userID); gerr == nil {
			remaining = cur.TokensRemaining
		}
		return nil, l.refuse(ctx, userID, op, cost, remaining)
	}
	if err != nil {
		return nil, fmt.Errorf("tokenledger: debit balance: %w", err)
	}

	l.appendTransaction(ctx, &transaction.Transaction{
		ID:         id.NewTransactionID(),
		UserID:     userID,
		TokensUsed: cost,
		Type:       op,
		ContentID:  contentID,
		CreatedAt:  l.now(),
	})

	l.logger.Debug("tokens debited",
		"user_id", userID,
		"operation", op,
		"cost", cost,
		"remaining", updated.TokensRemaining,
	)
	l.plugins.EmitTokensDebited(ctx, userID, op, cost, updated.TokensRemaining)

	return updated, nil
}

func (l *Ledger) refuse(ctx context.Context, userID string, op catalog.Operation, cost, remaining int64) error {
	l.logger.Info("insufficient tokens",
		"user_id", userID,
		"operation", op,
		"cost", cost,
		"remaining", remaining,
	)
	l.plugins.EmitInsufficientTokens(ctx, userID, op, cost, remaining)
	return &InsufficientTokensError{UserID: userID, Operation: op, Cost: cost, Remaining: remaining}
}

// Grant overwrites the user's balance with the full allotment of tier for a
// period ending at periodEnd, and logs the grant as a credit. A zero
// periodEnd means the start of next month.
func (l *Ledger) Grant(ctx context.Context, userID string, tier catalog.Tier, periodEnd time.Time) (*balance.Balance, error) {
	tier = catalog.ParseTier(string(tier))
	tokens := l.catalog.Allotment(tier)

	now := l.now()
	if periodEnd.IsZero() {
		periodEnd = catalog.NextResetDate(now)
	}
	periodEnd = periodEnd.UTC()

	b, err := l.overwrite(ctx, userID, func(b *balance.Balance) {
		b.TokensUsed = 0
		b.TokensRemaining = tokens
		b.ResetDate = &periodEnd
	})
	if err != nil {
		return nil, fmt.Errorf("tokenledger: grant: %w", err)
	}

	l.appendTransaction(ctx, &transaction.Transaction{
		ID:         id.NewTransactionID(),
		UserID:     userID,
		TokensUsed: -tokens,
		Type:       catalog.OpSubscriptionGrant,
		CreatedAt:  now,
	})

	l.logger.Info("tokens granted",
		"user_id", userID,
		"tier", tier,
		"tokens", tokens,
		"period_end", periodEnd,
	)
	l.plugins.EmitTokensGranted(ctx, userID, tier, tokens, periodEnd)

	return b, nil
}

// Downgrade resets the user's balance to the FREE allotment after a
// cancellation. The reset date is cleared so the next read starts a fresh
// period. No transaction is logged.
func (l *Ledger) Downgrade(ctx context.Context, userID string) (*balance.Balance, error) {
	tokens := l.catalog.Allotment(catalog.TierFree)

	b, err := l.overwrite(ctx, userID, func(b *balance.Balance) {
		b.TokensUsed = 0
		b.TokensRemaining = tokens
		b.ResetDate = nil
	})
	if err != nil {
		return nil, fmt.Errorf("tokenledger: downgrade: %w", err)
	}

	l.logger.Info("balance downgraded",
		"user_id", userID,
		"tokens", tokens,
	)
	l.plugins.EmitBalanceDowngraded(ctx, b)

	return b, nil
}

// overwrite applies set to the user's balance row, creating the row first
// when none exists.
func (l *Ledger) overwrite(ctx context.Context, userID string, set func(*balance.Balance)) (*balance.Balance, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	now := l.now()

	b, err := l.store.GetBalance(ctx, userID)
	if IsNotFound(err) {
		b = &balance.Balance{
			Entity: types.NewEntityAt(now),
			ID:     id.NewBalanceID(),
			UserID: userID,
		}
		set(b)
		inserted, cerr := l.store.CreateBalance(ctx, b)
		if cerr != nil {
			return nil, cerr
		}
		if inserted {
			return b, nil
		}
		b, err = l.store.GetBalance(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	set(b)
	b.TouchAt(now)
	if err := l.store.UpdateBalance(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

// History returns the user's most recent transactions, newest first.
// A non-positive limit uses the configured default.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]*transaction.Transaction, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = l.historyLimit
	}
	return l.store.ListTransactions(ctx, userID, transaction.ListOpts{Limit: limit})
}

// appendTransaction logs t. The balance write it describes has already
// happened, so a failure here is reported but not returned.
func (l *Ledger) appendTransaction(ctx context.Context, t *transaction.Transaction) {
	if err := l.store.AppendTransaction(ctx, t); err != nil {
		l.logger.Error("transaction log append failed; balance is ahead of history",
			"user_id", t.UserID,
			"operation", t.Type,
			"tokens", t.TokensUsed,
			"error", err,
		)
		l.plugins.EmitTransactionLogFailed(ctx, t, err)
	}
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

// Subscription returns the user's stored subscription record.
func (l *Ledger) Subscription(ctx context.Context, userID string) (*subscription.Record, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	return l.store.GetSubscription(ctx, userID)
}

// SubscriptionByProviderID returns the record linked to a Stripe subscription.
func (l *Ledger) SubscriptionByProviderID(ctx context.Context, providerID string) (*subscription.Record, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, ErrSubscriptionNotFound
	}
	return l.store.GetSubscriptionByProviderID(ctx, providerID)
}

// SyncSubscription upserts rec by user. An existing row keeps its ID and
// creation time.
func (l *Ledger) SyncSubscription(ctx context.Context, rec *subscription.Record) (*subscription.Record, error) {
	if rec == nil {
		return nil, ErrInvalidInput
	}
	if err := validateUser(rec.UserID); err != nil {
		return nil, err
	}
	rec.Tier = catalog.ParseTier(string(rec.Tier))
	now := l.now()

	existing, err := l.store.GetSubscription(ctx, rec.UserID)
	switch {
	case err == nil:
		err = l.updateFrom(ctx, existing, rec, now)
	case IsNotFound(err):
		if rec.ID.IsNil() {
			rec.ID = id.NewSubscriptionID()
		}
		rec.Entity = types.NewEntityAt(now)
		err = l.store.CreateSubscription(ctx, rec)
		if errors.Is(err, ErrAlreadyExists) {
			// Lost a race with a concurrent creator; fold into its row.
			if existing, err = l.store.GetSubscription(ctx, rec.UserID); err == nil {
				err = l.updateFrom(ctx, existing, rec, now)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("tokenledger: sync subscription: %w", err)
	}

	l.logger.Info("subscription synced",
		"user_id", rec.UserID,
		"tier", rec.Tier,
		"active", rec.IsActive,
		"stripe_subscription_id", rec.StripeSubscriptionID,
	)
	l.plugins.EmitSubscriptionSynced(ctx, rec)

	return rec, nil
}

func (l *Ledger) updateFrom(ctx context.Context, existing, rec *subscription.Record, now time.Time) error {
	rec.ID = existing.ID
	rec.CreatedAt = existing.CreatedAt
	rec.TouchAt(now)
	return l.store.UpdateSubscription(ctx, rec)
}

// CancelSubscription marks rec inactive, keeping its tier, and downgrades the
// user's balance to FREE.
func (l *Ledger) CancelSubscription(ctx context.Context, rec *subscription.Record) (*balance.Balance, error) {
	if rec == nil {
		return nil, ErrInvalidInput
	}
	rec.IsActive = false
	if rec.EndDate == nil {
		end := l.now()
		rec.EndDate = &end
	}

	if _, err := l.SyncSubscription(ctx, rec); err != nil {
		return nil, err
	}
	l.plugins.EmitSubscriptionCanceled(ctx, rec)

	return l.Downgrade(ctx, rec.UserID)
}

// MarkEventProcessed records a webhook delivery and reports whether it is new.
func (l *Ledger) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	return l.store.MarkEventProcessed(ctx, eventID, eventType)
}

// ForgetEvent clears a delivery mark after a failed attempt so the provider's
// retry is applied.
func (l *Ledger) ForgetEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	return l.store.ForgetEvent(ctx, eventID)
}

// ensureSubscription returns the user's record, creating an active FREE one
// when none exists.
func (l *Ledger) ensureSubscription(ctx context.Context, userID string) (*subscription.Record, error) {
	rec, err := l.store.GetSubscription(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	rec = subscription.NewFree(userID, l.now())
	err = l.store.CreateSubscription(ctx, rec)
	if errors.Is(err, ErrAlreadyExists) {
		return l.store.GetSubscription(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("tokenledger: create free subscription: %w", err)
	}
	return rec, nil
}

func (l *Ledger) effectiveTier(ctx context.Context, userID string) (catalog.Tier, error) {
	rec, err := l.store.GetSubscription(ctx, userID)
	if IsNotFound(err) {
		return catalog.TierFree, nil
	}
	if err != nil {
		return "", err
	}
	return rec.EffectiveTier(), nil
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	return nil
}
