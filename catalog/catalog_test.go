package catalog

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultCosts(t *testing.T) {
	c := Default()
	tests := []struct {
		op   Operation
		cost int64
	}{
		{OpTextRepurpose, 1},
		{OpImageGeneration, 5},
		{OpVideoProcessing, 10},
		{OpAdvancedFormatting, 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			got, err := c.Cost(tt.op)
			if err != nil {
				t.Fatalf("Cost(%s): %v", tt.op, err)
			}
			if got != tt.cost {
				t.Errorf("Cost(%s): got %d, want %d", tt.op, got, tt.cost)
			}
			again, _ := c.Cost(tt.op)
			if again != got {
				t.Errorf("Cost(%s) not deterministic: %d then %d", tt.op, got, again)
			}
		})
	}
}

func TestContentAnalysisIsUnpricedByDefault(t *testing.T) {
	_, err := Default().Cost(OpContentAnalysis)
	if !errors.Is(err, ErrUnpricedOperation) {
		t.Fatalf("expected ErrUnpricedOperation, got %v", err)
	}

	unpriced := Default().Unpriced()
	if len(unpriced) != 1 || unpriced[0] != OpContentAnalysis {
		t.Errorf("Unpriced: got %v", unpriced)
	}

	c := New(WithCost(OpContentAnalysis, 3))
	cost, err := c.Cost(OpContentAnalysis)
	if err != nil || cost != 3 {
		t.Errorf("configured cost: got %d, %v", cost, err)
	}
}

func TestCostUnknownOperation(t *testing.T) {
	_, err := Default().Cost(Operation("TELEPORT"))
	if !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}

	_, err = Default().Cost(OpSubscriptionGrant)
	if !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("grant must not be priced, got %v", err)
	}
}

func TestWithCostIgnoresNonPositive(t *testing.T) {
	c := New(WithCost(OpTextRepurpose, 0), WithCost(OpContentAnalysis, -4))
	if cost, _ := c.Cost(OpTextRepurpose); cost != 1 {
		t.Errorf("zero override applied: got %d", cost)
	}
	if _, err := c.Cost(OpContentAnalysis); !errors.Is(err, ErrUnpricedOperation) {
		t.Errorf("negative override applied: %v", err)
	}
}

func TestAllotment(t *testing.T) {
	c := Default()
	tests := []struct {
		tier Tier
		want int64
	}{
		{TierFree, 50},
		{TierPro, 500},
		{TierEnterprise, 2000},
		{Tier("PLATINUM"), 50},
		{Tier(""), 50},
	}
	for _, tt := range tests {
		if got := c.Allotment(tt.tier); got != tt.want {
			t.Errorf("Allotment(%q): got %d, want %d", tt.tier, got, tt.want)
		}
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in    string
		want  Tier
		known bool
	}{
		{"pro", TierPro, true},
		{" Enterprise ", TierEnterprise, true},
		{"FREE", TierFree, true},
		{"", TierFree, false},
		{"gold", TierFree, false},
	}
	for _, tt := range tests {
		got, ok := ParseTierStrict(tt.in)
		if got != tt.want || ok != tt.known {
			t.Errorf("ParseTierStrict(%q): got (%s, %v), want (%s, %v)", tt.in, got, ok, tt.want, tt.known)
		}
		if ParseTier(tt.in) != tt.want {
			t.Errorf("ParseTier(%q): got %s", tt.in, ParseTier(tt.in))
		}
	}
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation("text_repurpose")
	if err != nil || op != OpTextRepurpose {
		t.Fatalf("ParseOperation: got %q, %v", op, err)
	}
	if _, err := ParseOperation("SUBSCRIPTION_GRANT"); !errors.Is(err, ErrUnknownOperation) {
		t.Errorf("grant parsed as billable: %v", err)
	}
}

func TestPricesStableOrder(t *testing.T) {
	prices := Default().Prices()
	want := []Operation{OpTextRepurpose, OpImageGeneration, OpVideoProcessing, OpAdvancedFormatting}
	if len(prices) != len(want) {
		t.Fatalf("Prices: got %d entries, want %d", len(prices), len(want))
	}
	for i, p := range prices {
		if p.Operation != want[i] {
			t.Errorf("Prices[%d]: got %s, want %s", i, p.Operation, want[i])
		}
	}
}

func TestNextResetDate(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"mid month", time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"december rolls year", time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"first of month", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"non-UTC input", time.Date(2026, 1, 31, 23, 0, 0, 0, time.FixedZone("UTC-5", -5*60*60)), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextResetDate(tt.now); !got.Equal(tt.want) {
				t.Errorf("NextResetDate(%v): got %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}
