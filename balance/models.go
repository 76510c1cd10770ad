package balance

import (
	"time"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/types"
)

// Balance is a user's token position for the current billing period.
type Balance struct {
	types.Entity
	ID              id.BalanceID `json:"id"`
	UserID          string       `json:"user_id"`
	TokensUsed      int64        `json:"tokens_used"`
	TokensRemaining int64        `json:"tokens_remaining"`
	ResetDate       *time.Time   `json:"reset_date,omitempty"`
}

// IsResetDue reports whether the period has ended at now. The boundary is
// inclusive and a missing reset date is always due.
func (b *Balance) IsResetDue(now time.Time) bool {
	return b.ResetDate == nil || !now.Before(*b.ResetDate)
}

// Clone returns a deep copy of b.
func (b *Balance) Clone() *Balance {
	if b == nil {
		return nil
	}
	out := *b
	if b.ResetDate != nil {
		rd := *b.ResetDate
		out.ResetDate = &rd
	}
	return &out
}
