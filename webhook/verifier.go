package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	stripewebhook "github.com/stripe/stripe-go/v79/webhook"

	"github.com/xraph/tokenledger"
)

// Verifier authenticates and decodes a webhook delivery.
type Verifier interface {
	Parse(payload []byte, signature string) (*Event, error)
}

// StripeVerifier checks the Stripe-Signature header against the endpoint's
// shared secret.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

var _ Verifier = (*StripeVerifier)(nil)

// NewStripeVerifier creates a verifier for secret with Stripe's default
// timestamp tolerance.
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret, tolerance: stripewebhook.DefaultTolerance}
}

// Parse verifies payload and maps it to an Event. Verification failures wrap
// ErrWebhookSignature; undecodable objects wrap ErrWebhookPayload.
func (v *StripeVerifier) Parse(payload []byte, signature string) (*Event, error) {
	if v.secret == "" {
		return nil, fmt.Errorf("%w: no signing secret configured", tokenledger.ErrWebhookSignature)
	}

	event, err := stripewebhook.ConstructEventWithOptions(payload, signature, v.secret,
		stripewebhook.ConstructEventOptions{
			Tolerance:                v.tolerance,
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tokenledger.ErrWebhookSignature, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case TypeCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", tokenledger.ErrWebhookPayload, err)
		}
		out.Checkout = &CheckoutCompleted{
			EventID:   event.ID,
			SessionID: sess.ID,
			Metadata:  sess.Metadata,
		}
		if sess.Subscription != nil {
			out.Checkout.SubscriptionID = sess.Subscription.ID
		}
		if sess.Customer != nil {
			out.Checkout.CustomerID = sess.Customer.ID
		}
		if out.Checkout.Metadata == nil && sess.ClientReferenceID != "" {
			out.Checkout.Metadata = map[string]string{MetaUserID: sess.ClientReferenceID}
		}

	case TypeSubscriptionUpdated, TypeSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription: %v", tokenledger.ErrWebhookPayload, err)
		}
		changed := fromStripeSubscription(&sub)
		changed.EventID = event.ID
		if out.Type == TypeSubscriptionUpdated {
			out.Updated = changed
		} else {
			out.Deleted = &SubscriptionDeleted{
				EventID:    event.ID,
				ID:         changed.ID,
				CustomerID: changed.CustomerID,
				Status:     changed.Status,
				Metadata:   changed.Metadata,
			}
		}
	}

	return out, nil
}
