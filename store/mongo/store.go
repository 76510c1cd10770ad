// Package mongo implements store.Store on MongoDB via Grove ORM.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/balance"
	ledgerstore "github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// Collection name constants.
const (
	colBalances      = "tokenledger_balances"
	colSubscriptions = "tokenledger_subscriptions"
	colTransactions  = "tokenledger_transactions"
	colWebhookEvents = "tokenledger_webhook_events"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// Open connects to uri and selects database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	mdb := mongodriver.New()
	if err := mdb.Open(ctx, uri, mongodriver.WithDatabase(database)); err != nil {
		_ = mdb.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("tokenledger/mongo: open: %w", err)
	}
	db, err := grove.Open(mdb)
	if err != nil {
		_ = mdb.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("tokenledger/mongo: open: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all tokenledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("tokenledger/mongo: migrate %s indexes: %w", col, err)
		}
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
	var m balanceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"user_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tokenledger.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("tokenledger/mongo: get balance: %w", err)
	}
	return fromBalanceModel(&m)
}

// CreateBalance upserts with $setOnInsert so an existing row is never touched.
func (s *Store) CreateBalance(ctx context.Context, b *balance.Balance) (bool, error) {
	res, err := s.mdb.NewUpdate((*balanceModel)(nil)).
		Filter(bson.M{"user_id": b.UserID}).
		SetUpdate(bson.M{"$setOnInsert": toBalanceModel(b)}).
		Upsert().
		Exec(ctx)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tokenledger/mongo: create balance: %w", err)
	}
	return res.UpsertedCount() == 1, nil
}

func (s *Store) UpdateBalance(ctx context.Context, b *balance.Balance) error {
	res, err := s.mdb.NewUpdate((*balanceModel)(nil)).
		Filter(bson.M{"user_id": b.UserID}).
		Set("tokens_used", b.TokensUsed).
		Set("tokens_remaining", b.TokensRemaining).
		Set("reset_date", b.ResetDate).
		Set("updated_at", b.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tokenledger/mongo: update balance: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tokenledger.ErrBalanceNotFound
	}
	return nil
}

// DebitBalance matches only while tokens_remaining >= cost, so the filter and
// the $inc apply atomically to the single document.
func (s *Store) DebitBalance(ctx context.Context, userID string, cost int64) (*balance.Balance, error) {
	var m balanceModel
	err := s.mdb.Collection(colBalances).FindOneAndUpdate(ctx,
		bson.M{"user_id": userID, "tokens_remaining": bson.M{"$gte": cost}},
		bson.M{
			"$inc": bson.M{"tokens_remaining": -cost, "tokens_used": cost},
			"$set": bson.M{"updated_at": now()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return fromBalanceModel(&m)
	}
	if !isNoDocuments(err) {
		return nil, fmt.Errorf("tokenledger/mongo: debit balance: %w", err)
	}

	n, err := s.mdb.NewFind((*balanceModel)(nil)).
		Filter(bson.M{"user_id": userID}).
		Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("tokenledger/mongo: debit balance: %w", err)
	}
	if n == 0 {
		return nil, tokenledger.ErrBalanceNotFound
	}
	return nil, tokenledger.ErrInsufficientTokens
}

// ==================== Subscription Store ====================

func (s *Store) GetSubscription(ctx context.Context, userID string) (*subscription.Record, error) {
	return s.findSubscription(ctx, bson.M{"user_id": userID})
}

func (s *Store) GetSubscriptionByProviderID(ctx context.Context, providerID string) (*subscription.Record, error) {
	if providerID == "" {
		return nil, tokenledger.ErrSubscriptionNotFound
	}
	return s.findSubscription(ctx, bson.M{"stripe_subscription_id": providerID})
}

func (s *Store) findSubscription(ctx context.Context, filter bson.M) (*subscription.Record, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(filter).
		Sort(bson.D{{Key: "updated_at", Value: -1}}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tokenledger.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("tokenledger/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) CreateSubscription(ctx context.Context, r *subscription.Record) error {
	_, err := s.mdb.NewInsert(toSubscriptionModel(r)).Exec(ctx)
	if mongo.IsDuplicateKeyError(err) {
		return tokenledger.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("tokenledger/mongo: create subscription: %w", err)
	}
	return nil
}

func (s *Store) UpdateSubscription(ctx context.Context, r *subscription.Record) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"user_id": r.UserID}).
		Set("tier", string(r.Tier)).
		Set("is_active", r.IsActive).
		Set("stripe_subscription_id", r.StripeSubscriptionID).
		Set("stripe_customer_id", r.StripeCustomerID).
		Set("start_date", r.StartDate).
		Set("end_date", r.EndDate).
		Set("updated_at", r.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tokenledger/mongo: update subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tokenledger.ErrSubscriptionNotFound
	}
	return nil
}

// ==================== Transaction Store ====================

func (s *Store) AppendTransaction(ctx context.Context, t *transaction.Transaction) error {
	if _, err := s.mdb.NewInsert(toTransactionModel(t)).Exec(ctx); err != nil {
		return fmt.Errorf("tokenledger/mongo: append transaction: %w", err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	filter := bson.M{"user_id": userID}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}

	var models []transactionModel
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tokenledger/mongo: list transactions: %w", err)
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
	_, err := s.mdb.NewInsert(&webhookEventModel{
		ID:          eventID,
		EventType:   eventType,
		ProcessedAt: now(),
	}).Exec(ctx)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tokenledger/mongo: mark event: %w", err)
	}
	return true, nil
}

func (s *Store) ForgetEvent(ctx context.Context, eventID string) error {
	_, err := s.mdb.NewDelete((*webhookEventModel)(nil)).
		Filter(bson.M{"_id": eventID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tokenledger/mongo: forget event: %w", err)
	}
	return nil
}

// ==================== Helpers ====================

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func now() time.Time {
	return time.Now().UTC()
}

// migrationIndexes returns the index definitions for all tokenledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colBalances: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "stripe_subscription_id", Value: 1}}},
		},
		colTransactions: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}
}
