package tokenledger

import (
	"errors"
	"fmt"

	"github.com/xraph/tokenledger/catalog"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrAlreadyExists = errors.New("tokenledger: already exists")
	ErrInvalidInput  = errors.New("tokenledger: invalid input")
	ErrUnauthorized  = errors.New("tokenledger: unauthorized")
	ErrForbidden     = errors.New("tokenledger: forbidden")

	// Balance errors
	ErrBalanceNotFound    = errors.New("tokenledger: balance not found")
	ErrInsufficientTokens = errors.New("tokenledger: insufficient tokens")

	// Catalog errors
	ErrUnknownOperation  = catalog.ErrUnknownOperation
	ErrUnpricedOperation = catalog.ErrUnpricedOperation

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("tokenledger: subscription not found")

	// Webhook errors
	ErrWebhookSignature = errors.New("tokenledger: webhook signature verification failed")
	ErrWebhookPayload   = errors.New("tokenledger: malformed webhook payload")
	ErrUnresolvedUser   = errors.New("tokenledger: webhook event has no resolvable user")
	ErrProviderSync     = errors.New("tokenledger: payment provider request failed")

	// Store errors
	ErrStoreNotReady   = errors.New("tokenledger: store not ready")
	ErrStoreClosed     = errors.New("tokenledger: store is closed")
	ErrMigrationFailed = errors.New("tokenledger: migration failed")
)

// InsufficientTokensError carries the numbers behind a refused debit.
type InsufficientTokensError struct {
	UserID    string
	Operation catalog.Operation
	Cost      int64
	Remaining int64
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("tokenledger: insufficient tokens for %s: need %d, have %d", e.Operation, e.Cost, e.Remaining)
}

// Is makes errors.Is(err, ErrInsufficientTokens) match.
func (e *InsufficientTokensError) Is(target error) bool {
	return target == ErrInsufficientTokens
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBalanceNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrProviderSync)
}

// IsClientError reports whether err was caused by the caller's input rather
// than by the ledger or its dependencies.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUnknownOperation) ||
		errors.Is(err, ErrInsufficientTokens) ||
		errors.Is(err, ErrWebhookSignature) ||
		errors.Is(err, ErrWebhookPayload)
}
