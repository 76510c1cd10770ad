package balance

import (
	"testing"
	"time"
)

func TestIsResetDue(t *testing.T) {
	reset := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		reset *time.Time
		now   time.Time
		want  bool
	}{
		{"nil reset date", nil, reset, true},
		{"before boundary", &reset, reset.Add(-time.Nanosecond), false},
		{"exactly at boundary", &reset, reset, true},
		{"after boundary", &reset, reset.Add(time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Balance{ResetDate: tt.reset}
			if got := b.IsResetDue(tt.now); got != tt.want {
				t.Errorf("IsResetDue: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCloneDetachesResetDate(t *testing.T) {
	reset := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	b := &Balance{UserID: "u1", TokensRemaining: 7, ResetDate: &reset}

	c := b.Clone()
	*c.ResetDate = c.ResetDate.AddDate(0, 1, 0)
	c.TokensRemaining = 0

	if !b.ResetDate.Equal(reset) {
		t.Errorf("clone shares reset date: %v", *b.ResetDate)
	}
	if b.TokensRemaining != 7 {
		t.Errorf("clone shares counters: %d", b.TokensRemaining)
	}
	if (*Balance)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}
