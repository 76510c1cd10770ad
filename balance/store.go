package balance

import "context"

// Store persists balances, one row per user.
type Store interface {
	// GetBalance returns the user's balance or ErrBalanceNotFound.
	GetBalance(ctx context.Context, userID string) (*Balance, error)

	// CreateBalance inserts b unless the user already has a row. It reports
	// whether b was inserted; losing a concurrent insert is not an error.
	CreateBalance(ctx context.Context, b *Balance) (bool, error)

	// UpdateBalance overwrites the stored row with b.
	UpdateBalance(ctx context.Context, b *Balance) error

	// DebitBalance subtracts cost only while tokens_remaining >= cost and
	// returns the updated row. It fails with ErrInsufficientTokens otherwise.
	DebitBalance(ctx context.Context, userID string, cost int64) (*Balance, error)
}
