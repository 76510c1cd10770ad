package types

import (
	"testing"
	"time"
)

func TestNewEntityAtNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, loc)

	e := NewEntityAt(at)
	if e.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt location: got %v, want UTC", e.CreatedAt.Location())
	}
	if !e.CreatedAt.Equal(at) || !e.UpdatedAt.Equal(at) {
		t.Errorf("timestamps: got %v/%v, want %v", e.CreatedAt, e.UpdatedAt, at)
	}
}

func TestTouchAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := NewEntityAt(created)

	later := created.Add(time.Hour)
	e.TouchAt(later)

	if !e.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed: %v", e.CreatedAt)
	}
	if !e.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt: got %v, want %v", e.UpdatedAt, later)
	}
}

func TestIsStale(t *testing.T) {
	e := NewEntityAt(time.Now().Add(-2 * time.Hour))
	if !e.IsStale(time.Hour) {
		t.Error("expected entity to be stale after two hours")
	}
	if e.IsStale(3 * time.Hour) {
		t.Error("expected entity to be fresh within three hours")
	}
}
