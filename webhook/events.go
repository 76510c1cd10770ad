// Package webhook keeps subscription records and token balances in step with
// Stripe. A Verifier turns a signed delivery into an Event, and a Syncer
// applies the event to the ledger.
package webhook

import "time"

// Stripe event types the Syncer acts on.
const (
	TypeCheckoutCompleted   = "checkout.session.completed"
	TypeSubscriptionUpdated = "customer.subscription.updated"
	TypeSubscriptionDeleted = "customer.subscription.deleted"
)

// Metadata keys read from sessions, subscriptions and customers.
const (
	MetaUserID   = "userId"
	metaUserIDv1 = "user_id"
	MetaPlanName = "planName"
	MetaTier     = "tier"
)

// Event is a verified delivery. At most one payload field is set; an event
// of an unhandled type has none.
type Event struct {
	ID   string
	Type string

	Checkout *CheckoutCompleted
	Updated  *SubscriptionChanged
	Deleted  *SubscriptionDeleted
}

// Ignored reports whether the event type is one the Syncer does not handle.
func (e *Event) Ignored() bool {
	return e.Checkout == nil && e.Updated == nil && e.Deleted == nil
}

// CheckoutCompleted is a finished checkout session.
type CheckoutCompleted struct {
	EventID        string
	SessionID      string
	SubscriptionID string
	CustomerID     string
	Metadata       map[string]string
}

// SubscriptionChanged is a subscription as reported by the provider, either
// fetched directly or carried by an update event.
type SubscriptionChanged struct {
	EventID           string
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	PeriodStart       time.Time
	PeriodEnd         time.Time
	Metadata          map[string]string
	ProductIDs        []string
}

// Live reports whether the subscription currently entitles the customer.
func (s *SubscriptionChanged) Live() bool {
	return s.Status == "active" || s.Status == "trialing"
}

// SubscriptionDeleted is a subscription that has ended.
type SubscriptionDeleted struct {
	EventID    string
	ID         string
	CustomerID string
	Status     string
	Metadata   map[string]string
}

func metaValue(maps ...map[string]string) string {
	for _, m := range maps {
		if v := m[MetaUserID]; v != "" {
			return v
		}
		if v := m[metaUserIDv1]; v != "" {
			return v
		}
	}
	return ""
}
