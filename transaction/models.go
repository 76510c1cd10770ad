package transaction

import (
	"time"

	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/id"
)

// Transaction is one append-only ledger entry. TokensUsed is positive for
// debits and negative for grants.
type Transaction struct {
	ID         id.TransactionID  `json:"id"`
	UserID     string            `json:"user_id"`
	TokensUsed int64             `json:"tokens_used"`
	Type       catalog.Operation `json:"type"`
	ContentID  string            `json:"content_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// IsCredit reports whether the entry added tokens.
func (t *Transaction) IsCredit() bool { return t.TokensUsed < 0 }
