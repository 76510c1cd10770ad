package webhook

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/catalog"
)

// Provider reads payment-provider state the events only reference by ID.
type Provider interface {
	Subscription(ctx context.Context, subscriptionID string) (*SubscriptionChanged, error)
	CustomerMetadata(ctx context.Context, customerID string) (map[string]string, error)
	// ProductTier maps a product to a tier. ok is false when the product
	// carries no recognizable tier label.
	ProductTier(ctx context.Context, productID string) (tier catalog.Tier, ok bool, err error)
}

// StripeProvider implements Provider with the Stripe API.
type StripeProvider struct {
	api *client.API
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider creates a provider authenticated with secretKey.
func NewStripeProvider(secretKey string) *StripeProvider {
	return NewStripeProviderWithBackends(secretKey, nil)
}

// NewStripeProviderWithBackends lets tests point the client at a fake API.
func NewStripeProviderWithBackends(secretKey string, backends *stripe.Backends) *StripeProvider {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeProvider{api: api}
}

func (p *StripeProvider) Subscription(ctx context.Context, subscriptionID string) (*SubscriptionChanged, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("%w: get subscription %s: %v", tokenledger.ErrProviderSync, subscriptionID, err)
	}
	return fromStripeSubscription(sub), nil
}

func (p *StripeProvider) CustomerMetadata(ctx context.Context, customerID string) (map[string]string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := p.api.Customers.Get(customerID, params)
	if err != nil {
		return nil, fmt.Errorf("%w: get customer %s: %v", tokenledger.ErrProviderSync, customerID, err)
	}
	return cust.Metadata, nil
}

func (p *StripeProvider) ProductTier(ctx context.Context, productID string) (catalog.Tier, bool, error) {
	params := &stripe.ProductParams{}
	params.Context = ctx
	prod, err := p.api.Products.Get(productID, params)
	if err != nil {
		return "", false, fmt.Errorf("%w: get product %s: %v", tokenledger.ErrProviderSync, productID, err)
	}
	tier, ok := tierFromProduct(prod.Metadata, prod.Name)
	return tier, ok, nil
}

func fromStripeSubscription(sub *stripe.Subscription) *SubscriptionChanged {
	out := &SubscriptionChanged{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodStart > 0 {
		out.PeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		out.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil || item.Price.Product == nil || item.Price.Product.ID == "" {
				continue
			}
			out.ProductIDs = append(out.ProductIDs, item.Price.Product.ID)
		}
	}
	return out
}

// tierFromProduct prefers an explicit metadata label and falls back to a
// tier word in the product name, e.g. "Pro Monthly".
func tierFromProduct(meta map[string]string, name string) (catalog.Tier, bool) {
	for _, key := range []string{MetaTier, MetaPlanName} {
		if t, ok := catalog.ParseTierStrict(meta[key]); ok {
			return t, true
		}
	}

	words := strings.FieldsFunc(name, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, want := range []catalog.Tier{catalog.TierEnterprise, catalog.TierPro} {
		for _, w := range words {
			if strings.EqualFold(w, string(want)) {
				return want, true
			}
		}
	}
	return "", false
}
