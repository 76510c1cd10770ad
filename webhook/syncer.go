package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/subscription"
)

// ProviderName labels Stripe deliveries in plugin hooks.
const ProviderName = "stripe"

// Syncer applies provider events to the ledger.
type Syncer struct {
	ledger   *tokenledger.Ledger
	provider Provider
	logger   *slog.Logger
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithLogger sets the logger. Defaults to the ledger's logger.
func WithLogger(logger *slog.Logger) SyncerOption {
	return func(s *Syncer) { s.logger = logger }
}

// NewSyncer creates a Syncer.
func NewSyncer(ledger *tokenledger.Ledger, provider Provider, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		ledger:   ledger,
		provider: provider,
		logger:   ledger.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle applies ev once. Redeliveries of a processed event return nil
// without touching the ledger. A failed attempt clears the delivery mark so
// the provider's retry is applied; an unresolved user does not, because
// retrying cannot resolve it.
func (s *Syncer) Handle(ctx context.Context, ev *Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", tokenledger.ErrWebhookPayload)
	}
	s.ledger.Plugins().EmitWebhookReceived(ctx, ProviderName, ev.Type, ev.ID)

	if ev.Ignored() {
		s.logger.Debug("webhook ignored", "event_id", ev.ID, "event_type", ev.Type)
		return nil
	}

	first, err := s.ledger.MarkEventProcessed(ctx, ev.ID, ev.Type)
	if err != nil {
		return fmt.Errorf("tokenledger: mark event %s: %w", ev.ID, err)
	}
	if !first {
		s.logger.Info("webhook already processed", "event_id", ev.ID, "event_type", ev.Type)
		return nil
	}

	switch {
	case ev.Checkout != nil:
		err = s.HandleCheckoutCompleted(ctx, ev.Checkout)
	case ev.Updated != nil:
		err = s.HandleSubscriptionUpdated(ctx, ev.Updated)
	case ev.Deleted != nil:
		err = s.HandleSubscriptionDeleted(ctx, ev.Deleted)
	}

	if err != nil && !errors.Is(err, tokenledger.ErrUnresolvedUser) {
		if ferr := s.ledger.ForgetEvent(ctx, ev.ID); ferr != nil {
			s.logger.Error("forget webhook event", "event_id", ev.ID, "error", ferr)
		}
	}
	return err
}

// HandleCheckoutCompleted links the checkout's subscription to its user and
// grants the paid tier's tokens for the current period.
func (s *Syncer) HandleCheckoutCompleted(ctx context.Context, c *CheckoutCompleted) error {
	if c.SubscriptionID == "" {
		s.drop(ctx, TypeCheckoutCompleted, c.EventID, "checkout has no subscription")
		return nil
	}

	sub, err := s.provider.Subscription(ctx, c.SubscriptionID)
	if err != nil {
		return err
	}

	userID, err := s.resolveUser(ctx, c.SubscriptionID, firstNonEmpty(c.CustomerID, sub.CustomerID), c.Metadata, sub.Metadata)
	if err != nil {
		s.drop(ctx, TypeCheckoutCompleted, c.EventID, err.Error())
		return err
	}

	if !sub.Live() {
		s.logger.Info("checkout subscription not live",
			"user_id", userID,
			"stripe_subscription_id", sub.ID,
			"status", sub.Status,
		)
		return nil
	}

	tier, err := s.tierFor(ctx, sub, c.Metadata)
	if err != nil {
		return err
	}
	if tier == "" {
		tier = catalog.TierPro
	}

	rec := &subscription.Record{
		UserID:               userID,
		Tier:                 tier,
		IsActive:             true,
		StripeSubscriptionID: sub.ID,
		StripeCustomerID:     firstNonEmpty(sub.CustomerID, c.CustomerID),
		StartDate:            timePtr(sub.PeriodStart),
		EndDate:              timePtr(sub.PeriodEnd),
	}
	if _, err := s.ledger.SyncSubscription(ctx, rec); err != nil {
		return err
	}

	_, err = s.ledger.Grant(ctx, userID, tier, sub.PeriodEnd)
	return err
}

// HandleSubscriptionUpdated refreshes the stored record. It never grants
// tokens; renewals arrive through the monthly reset.
func (s *Syncer) HandleSubscriptionUpdated(ctx context.Context, u *SubscriptionChanged) error {
	existing, err := s.ledger.SubscriptionByProviderID(ctx, u.ID)
	if err != nil && !tokenledger.IsNotFound(err) {
		return err
	}

	var userID string
	if existing != nil {
		userID = existing.UserID
	} else {
		userID, err = s.resolveUser(ctx, u.ID, u.CustomerID, u.Metadata)
		if err != nil {
			s.drop(ctx, TypeSubscriptionUpdated, u.EventID, err.Error())
			return err
		}
		// The record may be linked to the user but not yet to this subscription.
		if existing, err = s.ledger.Subscription(ctx, userID); err != nil && !tokenledger.IsNotFound(err) {
			return err
		}
	}

	tier, err := s.tierFor(ctx, u, nil)
	if err != nil {
		return err
	}
	if tier == "" && existing != nil && existing.Tier != catalog.TierFree {
		tier = existing.Tier
	}
	if tier == "" {
		tier = catalog.TierPro
	}

	rec := &subscription.Record{
		UserID:               userID,
		Tier:                 tier,
		IsActive:             u.Live() && !u.CancelAtPeriodEnd,
		StripeSubscriptionID: u.ID,
		StripeCustomerID:     u.CustomerID,
		StartDate:            timePtr(u.PeriodStart),
		EndDate:              timePtr(u.PeriodEnd),
	}
	_, err = s.ledger.SyncSubscription(ctx, rec)
	return err
}

// HandleSubscriptionDeleted deactivates the record and downgrades the user's
// balance to the free allotment.
func (s *Syncer) HandleSubscriptionDeleted(ctx context.Context, d *SubscriptionDeleted) error {
	rec, err := s.ledger.SubscriptionByProviderID(ctx, d.ID)
	switch {
	case err == nil:
	case tokenledger.IsNotFound(err):
		userID, rerr := s.resolveUser(ctx, "", d.CustomerID, d.Metadata)
		if rerr != nil {
			s.drop(ctx, TypeSubscriptionDeleted, d.EventID, rerr.Error())
			return rerr
		}
		rec, err = s.ledger.Subscription(ctx, userID)
		if tokenledger.IsNotFound(err) {
			rec, err = subscription.NewFree(userID, time.Time{}), nil
			rec.StripeSubscriptionID = d.ID
			rec.StripeCustomerID = d.CustomerID
		}
		if err != nil {
			return err
		}
		if rec.StripeSubscriptionID != "" && rec.StripeSubscriptionID != d.ID {
			s.logger.Info("deleted subscription is not the user's current one",
				"event_id", d.EventID, "user_id", userID,
				"subscription", d.ID, "current", rec.StripeSubscriptionID)
			s.drop(ctx, TypeSubscriptionDeleted, d.EventID, "subscription superseded")
			return nil
		}
	default:
		return err
	}

	_, err = s.ledger.CancelSubscription(ctx, rec)
	return err
}

// resolveUser tries event metadata, then the stored record for the
// subscription, then the customer's metadata.
func (s *Syncer) resolveUser(ctx context.Context, subscriptionID, customerID string, metas ...map[string]string) (string, error) {
	if userID := metaValue(metas...); userID != "" {
		return userID, nil
	}

	if subscriptionID != "" {
		rec, err := s.ledger.SubscriptionByProviderID(ctx, subscriptionID)
		if err == nil {
			return rec.UserID, nil
		}
		if !tokenledger.IsNotFound(err) {
			return "", err
		}
	}

	if customerID != "" {
		meta, err := s.provider.CustomerMetadata(ctx, customerID)
		if err != nil {
			return "", err
		}
		if userID := metaValue(meta); userID != "" {
			return userID, nil
		}
	}

	return "", fmt.Errorf("%w: subscription %q customer %q", tokenledger.ErrUnresolvedUser, subscriptionID, customerID)
}

// tierFor reads planName from the event metadata, then the subscription's
// own metadata, then the first product with a tier label. It returns "" when
// nothing names a tier.
func (s *Syncer) tierFor(ctx context.Context, sub *SubscriptionChanged, meta map[string]string) (catalog.Tier, error) {
	for _, m := range []map[string]string{meta, sub.Metadata} {
		if t, ok := catalog.ParseTierStrict(m[MetaPlanName]); ok {
			return t, nil
		}
	}
	for _, productID := range sub.ProductIDs {
		t, ok, err := s.provider.ProductTier(ctx, productID)
		if err != nil {
			return "", err
		}
		if ok {
			return t, nil
		}
	}
	return "", nil
}

func (s *Syncer) drop(ctx context.Context, eventType, eventID, reason string) {
	s.logger.Warn("webhook dropped",
		"event_id", eventID,
		"event_type", eventType,
		"reason", reason,
	)
	s.ledger.Plugins().EmitWebhookDropped(ctx, eventType, eventID, reason)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
