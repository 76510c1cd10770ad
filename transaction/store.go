package transaction

import (
	"context"

	"github.com/xraph/tokenledger/catalog"
)

// Store is the append-only transaction log.
type Store interface {
	AppendTransaction(ctx context.Context, t *Transaction) error
	// ListTransactions returns the user's entries newest first.
	ListTransactions(ctx context.Context, userID string, opts ListOpts) ([]*Transaction, error)
}

// ListOpts narrows a history query. A zero Type matches every kind.
type ListOpts struct {
	Limit  int
	Offset int
	Type   catalog.Operation
}
