package subscription

import (
	"testing"
	"time"

	"github.com/xraph/tokenledger/catalog"
)

func TestEffectiveTier(t *testing.T) {
	tests := []struct {
		name string
		rec  *Record
		want catalog.Tier
	}{
		{"nil record", nil, catalog.TierFree},
		{"active pro", &Record{Tier: catalog.TierPro, IsActive: true}, catalog.TierPro},
		{"inactive pro", &Record{Tier: catalog.TierPro, IsActive: false}, catalog.TierFree},
		{"lower-case tier", &Record{Tier: "enterprise", IsActive: true}, catalog.TierEnterprise},
		{"unknown tier", &Record{Tier: "GOLD", IsActive: true}, catalog.TierFree},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.EffectiveTier(); got != tt.want {
				t.Errorf("EffectiveTier: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewFree(t *testing.T) {
	now := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	r := NewFree("u1", now)
	if r.Tier != catalog.TierFree || !r.IsActive || r.UserID != "u1" {
		t.Errorf("unexpected record: %+v", r)
	}
	if r.ID.IsNil() {
		t.Error("expected an ID")
	}
	if !r.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt: got %v", r.CreatedAt)
	}
}
