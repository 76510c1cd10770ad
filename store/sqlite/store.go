// Package sqlite implements store.Store on an embedded SQLite database via
// Grove ORM (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/balance"
	ledgerstore "github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// busyTimeout makes a blocked writer wait instead of failing with SQLITE_BUSY.
const busyTimeout = "_pragma=busy_timeout(5000)"

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// Open opens (creating if needed) the database file at path.
func Open(path string) (*Store, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&" + busyTimeout
	} else {
		dsn += "?" + busyTimeout
	}

	sdb := sqlitedriver.New()
	// SQLite has a single writer; one pooled connection also keeps the
	// per-connection pragmas in effect.
	if err := sdb.Open(context.Background(), dsn, driver.WithPoolSize(1)); err != nil {
		return nil, fmt.Errorf("tokenledger/sqlite: open: %w", err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		_ = sdb.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("tokenledger/sqlite: open: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("tokenledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("tokenledger/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ==================== Balance Store ====================

func (s *Store) GetBalance(ctx context.Context, userID string) (*balance.Balance, error) {
	m := new(balanceModel)
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tokenledger.ErrBalanceNotFound
		}
		return nil, err
	}
	return fromBalanceModel(m)
}

func (s *Store) CreateBalance(ctx context.Context, b *balance.Balance) (bool, error) {
	m := toBalanceModel(b)
	res, err := s.sdb.NewInsert(m).
		OnConflict("(user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *Store) UpdateBalance(ctx context.Context, b *balance.Balance) error {
	res, err := s.sdb.NewUpdate((*balanceModel)(nil)).
		Set("tokens_used = ?", b.TokensUsed).
		Set("tokens_remaining = ?", b.TokensRemaining).
		Set("reset_date = ?", formatNullTime(b.ResetDate)).
		Set("updated_at = ?", formatTime(b.UpdatedAt)).
		Where("user_id = ?", b.UserID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tokenledger.ErrBalanceNotFound
	}
	return nil
}

// DebitBalance relies on the WHERE clause for atomicity: the row is only
// touched while it can cover cost.
func (s *Store) DebitBalance(ctx context.Context, userID string, cost int64) (*balance.Balance, error) {
	res, err := s.sdb.Exec(ctx, `
UPDATE tokenledger_balances
SET tokens_remaining = tokens_remaining - ?, tokens_used = tokens_used + ?, updated_at = ?
WHERE user_id = ? AND tokens_remaining >= ?`,
		cost, cost, formatTime(now()), userID, cost)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	b, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, tokenledger.ErrInsufficientTokens
	}
	return b, nil
}

// ==================== Subscription Store ====================

func (s *Store) GetSubscription(ctx context.Context, userID string) (*subscription.Record, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tokenledger.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetSubscriptionByProviderID(ctx context.Context, providerID string) (*subscription.Record, error) {
	if providerID == "" {
		return nil, tokenledger.ErrSubscriptionNotFound
	}
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("stripe_subscription_id = ?", providerID).
		OrderExpr("updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tokenledger.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) CreateSubscription(ctx context.Context, r *subscription.Record) error {
	m := toSubscriptionModel(r)
	res, err := s.sdb.NewInsert(m).
		OnConflict("(user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tokenledger.ErrAlreadyExists
	}
	return nil
}

func (s *Store) UpdateSubscription(ctx context.Context, r *subscription.Record) error {
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("tier = ?", string(r.Tier)).
		Set("is_active = ?", r.IsActive).
		Set("stripe_subscription_id = ?", r.StripeSubscriptionID).
		Set("stripe_customer_id = ?", r.StripeCustomerID).
		Set("start_date = ?", formatNullTime(r.StartDate)).
		Set("end_date = ?", formatNullTime(r.EndDate)).
		Set("updated_at = ?", formatTime(r.UpdatedAt)).
		Where("user_id = ?", r.UserID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tokenledger.ErrSubscriptionNotFound
	}
	return nil
}

// ==================== Transaction Store ====================

func (s *Store) AppendTransaction(ctx context.Context, t *transaction.Transaction) error {
	m := toTransactionModel(t)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ListTransactions(ctx context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	var models []transactionModel
	q := s.sdb.NewSelect(&models).Where("user_id = ?", userID)

	if opts.Type != "" {
		q = q.Where("type = ?", string(opts.Type))
	}
	q = q.OrderExpr("created_at DESC, id DESC")
	switch {
	case opts.Limit > 0:
		q = q.Limit(opts.Limit)
	case opts.Offset > 0:
		// SQLite rejects OFFSET without LIMIT.
		q = q.Limit(math.MaxInt)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*transaction.Transaction, 0, len(models))
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

// ==================== Webhook dedupe ====================

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	m := &webhookEventModel{EventID: eventID, EventType: eventType, ProcessedAt: formatTime(now())}
	res, err := s.sdb.NewInsert(m).
		OnConflict("(event_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *Store) ForgetEvent(ctx context.Context, eventID string) error {
	_, err := s.sdb.NewDelete((*webhookEventModel)(nil)).
		Where("event_id = ?", eventID).
		Exec(ctx)
	return err
}

// ==================== Helpers ====================

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, grove.ErrNoRows)
}
