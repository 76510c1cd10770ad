package subscription

import "context"

// Store persists subscription records, one per user.
type Store interface {
	GetSubscription(ctx context.Context, userID string) (*Record, error)
	// GetSubscriptionByProviderID looks a record up by its Stripe subscription id.
	GetSubscriptionByProviderID(ctx context.Context, providerID string) (*Record, error)
	CreateSubscription(ctx context.Context, r *Record) error
	UpdateSubscription(ctx context.Context, r *Record) error
}
