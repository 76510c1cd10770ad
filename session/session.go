// Package session keeps a per-user cached view of the ledger for
// interactive clients. Spends are applied to the cache immediately and then
// reconciled with the ledger in the background; whatever the ledger last
// returned wins.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// DefaultRefreshTimeout bounds one background reconciliation.
const DefaultRefreshTimeout = 10 * time.Second

// Source is a read/write path to the ledger. *tokenledger.Ledger and
// *client.Client both satisfy it.
type Source interface {
	Balance(ctx context.Context, userID string) (*balance.Balance, error)
	History(ctx context.Context, userID string, limit int) ([]*transaction.Transaction, error)
	Subscription(ctx context.Context, userID string) (*subscription.Record, error)
	Record(ctx context.Context, userID string, op catalog.Operation, contentID string) (*balance.Balance, error)
}

var _ Source = (*tokenledger.Ledger)(nil)

// Snapshot is a copy of the cached state.
type Snapshot struct {
	UserID       string
	Balance      *balance.Balance
	History      []*transaction.Transaction
	Subscription *subscription.Record
	// Err is the most recent fetch failure, cleared by the next success.
	Err error
}

// Cache is safe for concurrent use.
type Cache struct {
	primary  Source
	fallback Source
	catalog  *catalog.Catalog
	logger   *slog.Logger
	clock    func() time.Time

	historyLimit   int
	refreshTimeout time.Duration

	mu    sync.RWMutex
	state Snapshot
	// gen changes whenever the user changes; fetches started under an older
	// generation are discarded.
	gen uint64
	// seq orders refreshes so an older fetch never overwrites a newer one.
	seq     uint64
	applied uint64

	inflight sync.WaitGroup
}

// Option configures a Cache.
type Option func(*Cache)

// WithFallback sets the source used when the primary balance read fails.
func WithFallback(s Source) Option {
	return func(c *Cache) { c.fallback = s }
}

// WithHistoryLimit sets how many recent transactions are cached.
func WithHistoryLimit(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.historyLimit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithCatalog sets the price table used for local checks. It must match the
// ledger's.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(c *Cache) { c.catalog = cat }
}

// WithClock sets the time source for optimistic entries.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.clock = now }
}

// WithRefreshTimeout bounds each background refresh.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// New creates an empty Cache reading from primary.
func New(primary Source, opts ...Option) *Cache {
	c := &Cache{
		primary:        primary,
		catalog:        catalog.Default(),
		logger:         slog.Default(),
		clock:          time.Now,
		historyLimit:   tokenledger.DefaultHistoryLimit,
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ──────────────────────────────────────────────────
// Identity
// ──────────────────────────────────────────────────

// SetUser points the cache at userID and loads its state. Setting the
// current user again is a no-op; an empty userID clears the cache.
func (c *Cache) SetUser(ctx context.Context, userID string) error {
	c.mu.Lock()
	if userID != "" && userID == c.state.UserID {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.state = Snapshot{UserID: userID}
	c.mu.Unlock()

	if userID == "" {
		c.logger.Debug("session cleared")
		return nil
	}
	return c.load(ctx, gen, userID)
}

// Close clears the cache and waits for background refreshes to finish.
func (c *Cache) Close() {
	c.mu.Lock()
	c.gen++
	c.state = Snapshot{}
	c.mu.Unlock()
	c.inflight.Wait()
}

// Wait blocks until all in-flight background refreshes have completed.
func (c *Cache) Wait() {
	c.inflight.Wait()
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// Snapshot returns a copy of the cached state.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := Snapshot{UserID: c.state.UserID, Err: c.state.Err}
	out.Balance = c.state.Balance.Clone()
	if c.state.Subscription != nil {
		rec := *c.state.Subscription
		out.Subscription = &rec
	}
	out.History = make([]*transaction.Transaction, len(c.state.History))
	for i, t := range c.state.History {
		cp := *t
		out.History[i] = &cp
	}
	return out
}

// CanPerformOperation reports whether the cached balance covers op.
func (c *Cache) CanPerformOperation(op catalog.Operation) bool {
	cost, err := c.catalog.Cost(op)
	if err != nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Balance != nil && c.state.Balance.TokensRemaining >= cost
}

// ──────────────────────────────────────────────────
// Writes
// ──────────────────────────────────────────────────

// RecordTransaction spends op's cost. It fails with an error matching
// tokenledger.ErrInsufficientTokens when the cached balance cannot cover the
// cost. Otherwise the spend is applied to the cache, recorded at the source,
// and a background refresh reconciles the cache with the ledger whether or
// not the source accepted it.
func (c *Cache) RecordTransaction(ctx context.Context, op catalog.Operation, contentID string) error {
	cost, err := c.catalog.Cost(op)
	if err != nil {
		return err
	}

	c.mu.Lock()
	userID, gen := c.state.UserID, c.gen
	if userID == "" {
		c.mu.Unlock()
		return fmt.Errorf("%w: no user", tokenledger.ErrUnauthorized)
	}
	var remaining int64
	if c.state.Balance != nil {
		remaining = c.state.Balance.TokensRemaining
	}
	if c.state.Balance == nil || remaining < cost {
		c.mu.Unlock()
		return &tokenledger.InsufficientTokensError{UserID: userID, Operation: op, Cost: cost, Remaining: remaining}
	}
	c.applySpend(userID, op, contentID, cost)
	c.mu.Unlock()

	_, recErr := c.primary.Record(ctx, userID, op, contentID)
	c.refreshAsync(ctx, gen, userID)

	if recErr != nil {
		c.logger.Warn("record transaction failed",
			"user_id", userID,
			"operation", op,
			"error", recErr,
		)
		return recErr
	}
	return nil
}

// applySpend must be called with mu held.
func (c *Cache) applySpend(userID string, op catalog.Operation, contentID string, cost int64) {
	b := c.state.Balance.Clone()
	b.TokensRemaining -= cost
	b.TokensUsed += cost
	c.state.Balance = b

	tx := &transaction.Transaction{
		ID:         id.NewTransactionID(),
		UserID:     userID,
		TokensUsed: cost,
		Type:       op,
		ContentID:  contentID,
		CreatedAt:  c.clock().UTC(),
	}
	history := append([]*transaction.Transaction{tx}, c.state.History...)
	if len(history) > c.historyLimit {
		history = history[:c.historyLimit]
	}
	c.state.History = history
}

// Refresh reloads the balance and history of the current user.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.RLock()
	userID, gen := c.state.UserID, c.gen
	c.mu.RUnlock()
	if userID == "" {
		return nil
	}
	return c.refresh(ctx, gen, c.nextSeq(), userID)
}

// refreshAsync takes its sequence number before returning so refreshes are
// ordered by when they were requested, not by when they were scheduled.
func (c *Cache) refreshAsync(ctx context.Context, gen uint64, userID string) {
	seq := c.nextSeq()
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		if err := c.refresh(rctx, gen, seq, userID); err != nil {
			c.logger.Warn("background refresh failed", "user_id", userID, "error", err)
		}
	}()
}

// ──────────────────────────────────────────────────
// Fetching
// ──────────────────────────────────────────────────

func (c *Cache) load(ctx context.Context, gen uint64, userID string) error {
	seq := c.nextSeq()

	b, err := c.fetchBalance(ctx, userID)
	if err != nil {
		c.fail(gen, err)
		return err
	}
	history, err := c.primary.History(ctx, userID, c.historyLimit)
	if err != nil {
		c.fail(gen, err)
		return fmt.Errorf("session: load history: %w", err)
	}
	rec, err := c.primary.Subscription(ctx, userID)
	if err != nil && !tokenledger.IsNotFound(err) {
		c.fail(gen, err)
		return fmt.Errorf("session: load subscription: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	// Refreshes never fetch the subscription, so it applies even when a
	// newer refresh has already replaced the balance and history.
	c.state.Subscription = rec
	if seq < c.applied {
		return nil
	}
	c.applied = seq
	c.state.Balance = b
	c.state.History = history
	c.state.Err = nil
	return nil
}

func (c *Cache) refresh(ctx context.Context, gen, seq uint64, userID string) error {
	b, err := c.fetchBalance(ctx, userID)
	if err != nil {
		c.fail(gen, err)
		return err
	}
	history, err := c.primary.History(ctx, userID, c.historyLimit)
	if err != nil {
		c.fail(gen, err)
		return fmt.Errorf("session: refresh history: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.logger.Debug("discarding refresh for previous user", "user_id", userID)
		return nil
	}
	if seq < c.applied {
		return nil
	}
	c.applied = seq
	c.state.Balance = b
	c.state.History = history
	c.state.Err = nil
	return nil
}

// fetchBalance reads from the primary source and, when that fails, from the
// fallback. Both failures are returned joined.
func (c *Cache) fetchBalance(ctx context.Context, userID string) (*balance.Balance, error) {
	b, err := c.primary.Balance(ctx, userID)
	if err == nil {
		return b, nil
	}
	if c.fallback == nil {
		return nil, fmt.Errorf("session: fetch balance: %w", err)
	}

	c.logger.Warn("primary balance read failed, trying fallback", "user_id", userID, "error", err)
	b, ferr := c.fallback.Balance(ctx, userID)
	if ferr == nil {
		return b, nil
	}
	return nil, fmt.Errorf("session: fetch balance: %w", errors.Join(err, ferr))
}

func (c *Cache) fail(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		c.state.Err = err
	}
}

func (c *Cache) nextSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}
