// Package postgres implements store.Store on PostgreSQL via Grove ORM.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/balance"
	ledgerstore "github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pgdb := pgdriver.New()
	if err := pgdb.Open(ctx, dsn); err != nil {
		return nil, fmt.Errorf("tokenledger/postgres: open: %w", err)
	}
	db, err := grove.Open(pgdb)
	if err != nil {
		_ = pgdb.Close() //nolint:errcheck // best-effort
		return nil, fmt.Errorf("tokenledger/postgres: open: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close() //nolint:errcheck // best-effort
		return nil, fmt.Errorf("tokenledger/postgres: ping: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("tokenledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("tokenledger/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Balance Store ====================

func (s *Store) GetBalance(ctx context.Context, userID string) (*balance.Balance, error) {
	m := new(balanceModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
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
	res, err := s.pg.NewInsert(m).
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
	res, err := s.pg.NewUpdate((*balanceModel)(nil)).
		Set("tokens_used = $1", b.TokensUsed).
		Set("tokens_remaining = $2", b.TokensRemaining).
		Set("reset_date = $3", b.ResetDate).
		Set("updated_at = $4", b.UpdatedAt).
		Where("user_id = $5", b.UserID).
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
	m := new(balanceModel)
	err := s.pg.QueryRow(ctx, `
UPDATE tokenledger_balances
SET tokens_remaining = tokens_remaining - $2, tokens_used = tokens_used + $2, updated_at = $3
WHERE user_id = $1 AND tokens_remaining >= $2
RETURNING id, user_id, tokens_used, tokens_remaining, reset_date, created_at, updated_at`,
		userID, cost, now(),
	).Scan(&m.ID, &m.UserID, &m.TokensUsed, &m.TokensRemaining, &m.ResetDate, &m.CreatedAt, &m.UpdatedAt)
	if err == nil {
		return fromBalanceModel(m)
	}
	if !isNoRows(err) {
		return nil, err
	}

	if _, err := s.GetBalance(ctx, userID); err != nil {
		return nil, err
	}
	return nil, tokenledger.ErrInsufficientTokens
}

// ==================== Subscription Store ====================

func (s *Store) GetSubscription(ctx context.Context, userID string) (*subscription.Record, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
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
	err := s.pg.NewSelect(m).
		Where("stripe_subscription_id = $1", providerID).
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
	res, err := s.pg.NewInsert(m).
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
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("tier = $1", string(r.Tier)).
		Set("is_active = $2", r.IsActive).
		Set("stripe_subscription_id = $3", r.StripeSubscriptionID).
		Set("stripe_customer_id = $4", r.StripeCustomerID).
		Set("start_date = $5", r.StartDate).
		Set("end_date = $6", r.EndDate).
		Set("updated_at = $7", r.UpdatedAt).
		Where("user_id = $8", r.UserID).
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
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ListTransactions(ctx context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	var models []transactionModel
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID)

	if opts.Type != "" {
		q = q.Where("type = $2", string(opts.Type))
	}
	q = q.OrderExpr("created_at DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
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
	m := &webhookEventModel{EventID: eventID, EventType: eventType, ProcessedAt: now()}
	res, err := s.pg.NewInsert(m).
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
	_, err := s.pg.NewDelete((*webhookEventModel)(nil)).
		Where("event_id = $1", eventID).
		Exec(ctx)
	return err
}

// ==================== Helpers ====================

func now() time.Time {
	return time.Now().UTC()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, grove.ErrNoRows)
}
