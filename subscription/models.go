package subscription

import (
	"time"

	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/types"
)

// Record is a user's subscription state as last synced from the payment
// provider. A user without a paid plan holds an active FREE record.
type Record struct {
	types.Entity
	ID                   id.SubscriptionID `json:"id"`
	UserID               string            `json:"user_id"`
	Tier                 catalog.Tier      `json:"tier"`
	IsActive             bool              `json:"is_active"`
	StripeSubscriptionID string            `json:"stripe_subscription_id,omitempty"`
	StripeCustomerID     string            `json:"stripe_customer_id,omitempty"`
	StartDate            *time.Time        `json:"start_date,omitempty"`
	EndDate              *time.Time        `json:"end_date,omitempty"`
}

// EffectiveTier is the tier used for allotments: the stored tier while the
// subscription is active, FREE otherwise.
func (r *Record) EffectiveTier() catalog.Tier {
	if r == nil || !r.IsActive {
		return catalog.TierFree
	}
	return catalog.ParseTier(string(r.Tier))
}

// NewFree returns an active FREE record for userID.
func NewFree(userID string, now time.Time) *Record {
	return &Record{
		Entity:   types.NewEntityAt(now),
		ID:       id.NewSubscriptionID(),
		UserID:   userID,
		Tier:     catalog.TierFree,
		IsActive: true,
	}
}
