package sqlite

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
	"github.com/xraph/tokenledger/types"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseEntity(created, updated string) (types.Entity, error) {
	c, err := parseTime(created)
	if err != nil {
		return types.Entity{}, err
	}
	u, err := parseTime(updated)
	if err != nil {
		return types.Entity{}, err
	}
	return types.Entity{CreatedAt: c, UpdatedAt: u}, nil
}

// ==================== Balance models ====================

type balanceModel struct {
	grove.BaseModel `grove:"table:tokenledger_balances"`

	ID              string  `grove:"id,pk"`
	UserID          string  `grove:"user_id"`
	TokensUsed      int64   `grove:"tokens_used"`
	TokensRemaining int64   `grove:"tokens_remaining"`
	ResetDate       *string `grove:"reset_date"`
	CreatedAt       string  `grove:"created_at"`
	UpdatedAt       string  `grove:"updated_at"`
}

func toBalanceModel(b *balance.Balance) *balanceModel {
	return &balanceModel{
		ID:              b.ID.String(),
		UserID:          b.UserID,
		TokensUsed:      b.TokensUsed,
		TokensRemaining: b.TokensRemaining,
		ResetDate:       formatNullTime(b.ResetDate),
		CreatedAt:       formatTime(b.CreatedAt),
		UpdatedAt:       formatTime(b.UpdatedAt),
	}
}

func fromBalanceModel(m *balanceModel) (*balance.Balance, error) {
	balanceID, err := id.ParseBalanceID(m.ID)
	if err != nil {
		return nil, err
	}
	resetDate, err := parseNullTime(m.ResetDate)
	if err != nil {
		return nil, err
	}
	entity, err := parseEntity(m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &balance.Balance{
		Entity:          entity,
		ID:              balanceID,
		UserID:          m.UserID,
		TokensUsed:      m.TokensUsed,
		TokensRemaining: m.TokensRemaining,
		ResetDate:       resetDate,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:tokenledger_subscriptions"`

	ID                   string  `grove:"id,pk"`
	UserID               string  `grove:"user_id"`
	Tier                 string  `grove:"tier"`
	IsActive             bool    `grove:"is_active"`
	StripeSubscriptionID string  `grove:"stripe_subscription_id"`
	StripeCustomerID     string  `grove:"stripe_customer_id"`
	StartDate            *string `grove:"start_date"`
	EndDate              *string `grove:"end_date"`
	CreatedAt            string  `grove:"created_at"`
	UpdatedAt            string  `grove:"updated_at"`
}

func toSubscriptionModel(r *subscription.Record) *subscriptionModel {
	return &subscriptionModel{
		ID:                   r.ID.String(),
		UserID:               r.UserID,
		Tier:                 string(r.Tier),
		IsActive:             r.IsActive,
		StripeSubscriptionID: r.StripeSubscriptionID,
		StripeCustomerID:     r.StripeCustomerID,
		StartDate:            formatNullTime(r.StartDate),
		EndDate:              formatNullTime(r.EndDate),
		CreatedAt:            formatTime(r.CreatedAt),
		UpdatedAt:            formatTime(r.UpdatedAt),
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Record, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	r := &subscription.Record{
		ID:                   subID,
		UserID:               m.UserID,
		Tier:                 catalog.ParseTier(m.Tier),
		IsActive:             m.IsActive,
		StripeSubscriptionID: m.StripeSubscriptionID,
		StripeCustomerID:     m.StripeCustomerID,
	}
	if r.StartDate, err = parseNullTime(m.StartDate); err != nil {
		return nil, err
	}
	if r.EndDate, err = parseNullTime(m.EndDate); err != nil {
		return nil, err
	}
	if r.Entity, err = parseEntity(m.CreatedAt, m.UpdatedAt); err != nil {
		return nil, err
	}
	return r, nil
}

// ==================== Transaction models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:tokenledger_transactions"`

	ID         string `grove:"id,pk"`
	UserID     string `grove:"user_id"`
	TokensUsed int64  `grove:"tokens_used"`
	Type       string `grove:"type"`
	ContentID  string `grove:"content_id"`
	CreatedAt  string `grove:"created_at"`
}

func toTransactionModel(t *transaction.Transaction) *transactionModel {
	return &transactionModel{
		ID:         t.ID.String(),
		UserID:     t.UserID,
		TokensUsed: t.TokensUsed,
		Type:       string(t.Type),
		ContentID:  t.ContentID,
		CreatedAt:  formatTime(t.CreatedAt),
	}
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &transaction.Transaction{
		ID:         txID,
		UserID:     m.UserID,
		TokensUsed: m.TokensUsed,
		Type:       catalog.Operation(m.Type),
		ContentID:  m.ContentID,
		CreatedAt:  createdAt,
	}, nil
}

// ==================== Webhook event models ====================

type webhookEventModel struct {
	grove.BaseModel `grove:"table:tokenledger_webhook_events"`

	EventID     string `grove:"event_id,pk"`
	EventType   string `grove:"event_type"`
	ProcessedAt string `grove:"processed_at"`
}

func now() time.Time {
	return time.Now().UTC()
}
