package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
	"github.com/xraph/tokenledger/types"
)

// ==================== Balance models ====================

type balanceModel struct {
	grove.BaseModel `grove:"table:tokenledger_balances" bson:"-"`

	ID              string     `grove:"id,pk"            bson:"_id"`
	UserID          string     `grove:"user_id"          bson:"user_id"`
	TokensUsed      int64      `grove:"tokens_used"      bson:"tokens_used"`
	TokensRemaining int64      `grove:"tokens_remaining" bson:"tokens_remaining"`
	ResetDate       *time.Time `grove:"reset_date"       bson:"reset_date"`
	CreatedAt       time.Time  `grove:"created_at"       bson:"created_at"`
	UpdatedAt       time.Time  `grove:"updated_at"       bson:"updated_at"`
}

func toBalanceModel(b *balance.Balance) *balanceModel {
	return &balanceModel{
		ID:              b.ID.String(),
		UserID:          b.UserID,
		TokensUsed:      b.TokensUsed,
		TokensRemaining: b.TokensRemaining,
		ResetDate:       b.ResetDate,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func fromBalanceModel(m *balanceModel) (*balance.Balance, error) {
	balanceID, err := id.ParseBalanceID(m.ID)
	if err != nil {
		return nil, err
	}
	return &balance.Balance{
		Entity:          types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:              balanceID,
		UserID:          m.UserID,
		TokensUsed:      m.TokensUsed,
		TokensRemaining: m.TokensRemaining,
		ResetDate:       utcPtr(m.ResetDate),
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:tokenledger_subscriptions" bson:"-"`

	ID                   string     `grove:"id,pk"                  bson:"_id"`
	UserID               string     `grove:"user_id"                bson:"user_id"`
	Tier                 string     `grove:"tier"                   bson:"tier"`
	IsActive             bool       `grove:"is_active"              bson:"is_active"`
	StripeSubscriptionID string     `grove:"stripe_subscription_id" bson:"stripe_subscription_id"`
	StripeCustomerID     string     `grove:"stripe_customer_id"     bson:"stripe_customer_id"`
	StartDate            *time.Time `grove:"start_date"             bson:"start_date"`
	EndDate              *time.Time `grove:"end_date"               bson:"end_date"`
	CreatedAt            time.Time  `grove:"created_at"             bson:"created_at"`
	UpdatedAt            time.Time  `grove:"updated_at"             bson:"updated_at"`
}

func toSubscriptionModel(r *subscription.Record) *subscriptionModel {
	return &subscriptionModel{
		ID:                   r.ID.String(),
		UserID:               r.UserID,
		Tier:                 string(r.Tier),
		IsActive:             r.IsActive,
		StripeSubscriptionID: r.StripeSubscriptionID,
		StripeCustomerID:     r.StripeCustomerID,
		StartDate:            r.StartDate,
		EndDate:              r.EndDate,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Record, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &subscription.Record{
		Entity:               types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:                   subID,
		UserID:               m.UserID,
		Tier:                 catalog.ParseTier(m.Tier),
		IsActive:             m.IsActive,
		StripeSubscriptionID: m.StripeSubscriptionID,
		StripeCustomerID:     m.StripeCustomerID,
		StartDate:            utcPtr(m.StartDate),
		EndDate:              utcPtr(m.EndDate),
	}, nil
}

// ==================== Transaction models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:tokenledger_transactions" bson:"-"`

	ID         string    `grove:"id,pk"       bson:"_id"`
	UserID     string    `grove:"user_id"     bson:"user_id"`
	TokensUsed int64     `grove:"tokens_used" bson:"tokens_used"`
	Type       string    `grove:"type"        bson:"type"`
	ContentID  string    `grove:"content_id"  bson:"content_id,omitempty"`
	CreatedAt  time.Time `grove:"created_at"  bson:"created_at"`
}

func toTransactionModel(t *transaction.Transaction) *transactionModel {
	return &transactionModel{
		ID:         t.ID.String(),
		UserID:     t.UserID,
		TokensUsed: t.TokensUsed,
		Type:       string(t.Type),
		ContentID:  t.ContentID,
		CreatedAt:  t.CreatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &transaction.Transaction{
		ID:         txID,
		UserID:     m.UserID,
		TokensUsed: m.TokensUsed,
		Type:       catalog.Operation(m.Type),
		ContentID:  m.ContentID,
		CreatedAt:  m.CreatedAt.UTC(),
	}, nil
}

// ==================== Webhook event models ====================

type webhookEventModel struct {
	grove.BaseModel `grove:"table:tokenledger_webhook_events" bson:"-"`

	ID          string    `grove:"id,pk"        bson:"_id"`
	EventType   string    `grove:"event_type"   bson:"event_type"`
	ProcessedAt time.Time `grove:"processed_at" bson:"processed_at"`
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
