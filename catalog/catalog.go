// Package catalog holds the static operation-cost and tier-allotment tables.
//
// A Catalog is built once and never mutated afterwards. Tier strings coming
// from the payment provider, the database or HTTP requests are normalized
// here and nowhere else.
package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Operation is a billable kind of work, or a ledger-only transaction kind.
type Operation string

const (
	OpTextRepurpose      Operation = "TEXT_REPURPOSE"
	OpImageGeneration    Operation = "IMAGE_GENERATION"
	OpVideoProcessing    Operation = "VIDEO_PROCESSING"
	OpAdvancedFormatting Operation = "ADVANCED_FORMATTING"
	OpContentAnalysis    Operation = "CONTENT_ANALYSIS"

	// OpSubscriptionGrant only appears in the transaction log; it is never priced.
	OpSubscriptionGrant Operation = "SUBSCRIPTION_GRANT"
)

// Tier is a subscription tier.
type Tier string

const (
	TierFree       Tier = "FREE"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

var (
	// ErrUnknownOperation is returned for operation strings outside the catalog.
	ErrUnknownOperation = errors.New("tokenledger: unknown operation")

	// ErrUnpricedOperation is returned for operations the catalog knows about
	// but that have no configured cost.
	ErrUnpricedOperation = errors.New("tokenledger: operation has no configured cost")
)

// knownOperations lists every operation in display order.
var knownOperations = []Operation{
	OpTextRepurpose,
	OpImageGeneration,
	OpVideoProcessing,
	OpAdvancedFormatting,
	OpContentAnalysis,
}

var knownTiers = []Tier{TierFree, TierPro, TierEnterprise}

// Catalog maps operations to token costs and tiers to monthly allotments.
type Catalog struct {
	costs      map[Operation]int64
	allotments map[Tier]int64
}

// Option configures a Catalog at construction time.
type Option func(*Catalog)

// WithCost sets the token cost of op. Non-positive costs are ignored so a
// zero value in a config file cannot make an operation free by accident.
func WithCost(op Operation, cost int64) Option {
	return func(c *Catalog) {
		if cost > 0 && op != OpSubscriptionGrant {
			c.costs[op] = cost
		}
	}
}

// WithAllotment sets the monthly token allotment of tier.
func WithAllotment(tier Tier, tokens int64) Option {
	return func(c *Catalog) {
		if tokens >= 0 {
			c.allotments[tier] = tokens
		}
	}
}

// New builds a catalog from the default tables plus opts.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		costs: map[Operation]int64{
			OpTextRepurpose:      1,
			OpImageGeneration:    5,
			OpVideoProcessing:    10,
			OpAdvancedFormatting: 2,
		},
		allotments: map[Tier]int64{
			TierFree:       50,
			TierPro:        500,
			TierEnterprise: 2000,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCatalog = New()

// Default returns the shared catalog with the built-in tables.
func Default() *Catalog { return defaultCatalog }

// Cost returns the token cost of op.
func (c *Catalog) Cost(op Operation) (int64, error) {
	if cost, ok := c.costs[op]; ok {
		return cost, nil
	}
	if IsKnownOperation(op) {
		return 0, fmt.Errorf("%w: %s", ErrUnpricedOperation, op)
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, string(op))
}

// Allotment returns the monthly allotment for tier, falling back to FREE.
func (c *Catalog) Allotment(tier Tier) int64 {
	if tokens, ok := c.allotments[tier]; ok {
		return tokens
	}
	return c.allotments[TierFree]
}

// Price pairs an operation with its cost.
type Price struct {
	Operation Operation `json:"operation"`
	Cost      int64     `json:"cost"`
}

// Prices lists every priced operation in a stable order.
func (c *Catalog) Prices() []Price {
	out := make([]Price, 0, len(knownOperations))
	for _, op := range knownOperations {
		if cost, ok := c.costs[op]; ok {
			out = append(out, Price{Operation: op, Cost: cost})
		}
	}
	return out
}

// Operations lists the priced operations in display order.
func (c *Catalog) Operations() []Operation {
	prices := c.Prices()
	out := make([]Operation, len(prices))
	for i, p := range prices {
		out[i] = p.Operation
	}
	return out
}

// Allotments returns the allotment of every known tier.
func (c *Catalog) Allotments() map[Tier]int64 {
	out := make(map[Tier]int64, len(knownTiers))
	for _, t := range knownTiers {
		out[t] = c.Allotment(t)
	}
	return out
}

// Unpriced lists known operations without a cost.
func (c *Catalog) Unpriced() []Operation {
	var out []Operation
	for _, op := range knownOperations {
		if _, ok := c.costs[op]; !ok {
			out = append(out, op)
		}
	}
	return out
}

// ──────────────────────────────────────────────────
// Normalization
// ──────────────────────────────────────────────────

// ParseTier normalizes s to a Tier. Unknown or empty strings map to FREE.
func ParseTier(s string) Tier {
	t, _ := ParseTierStrict(s)
	return t
}

// ParseTierStrict normalizes s and reports whether it named a known tier.
// The returned tier is FREE when ok is false.
func ParseTierStrict(s string) (Tier, bool) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range knownTiers {
		if t == known {
			return t, true
		}
	}
	return TierFree, false
}

// ParseOperation normalizes s to a known Operation.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToUpper(strings.TrimSpace(s)))
	if !IsKnownOperation(op) {
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
	}
	return op, nil
}

// IsKnownOperation reports whether op is a billable operation kind.
func IsKnownOperation(op Operation) bool {
	for _, known := range knownOperations {
		if op == known {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────
// Billing period
// ──────────────────────────────────────────────────

// NextResetDate returns midnight UTC on the first day of the month after now.
func NextResetDate(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
