package client

import (
	"errors"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/transaction"
)

// OperationRequest is the body of the debit and record routes.
type OperationRequest struct {
	Operation catalog.Operation `json:"operation"`
	ContentID string            `json:"content_id,omitempty"`
}

// HistoryResponse wraps a page of transactions.
type HistoryResponse struct {
	Transactions []*transaction.Transaction `json:"transactions"`
}

// CheckResponse answers whether a user can afford an operation.
type CheckResponse struct {
	Operation  catalog.Operation `json:"operation"`
	Cost       int64             `json:"cost"`
	Sufficient bool              `json:"sufficient"`
}

// CatalogResponse lists prices and tier allotments.
type CatalogResponse struct {
	Prices     []catalog.Price        `json:"prices"`
	Allotments map[catalog.Tier]int64 `json:"allotments"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// Set on insufficient_tokens.
	Cost      int64 `json:"cost,omitempty"`
	Remaining int64 `json:"remaining,omitempty"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeInsufficientTokens   = "insufficient_tokens"
	CodeBalanceNotFound      = "balance_not_found"
	CodeSubscriptionNotFound = "subscription_not_found"
	CodeUnknownOperation     = "unknown_operation"
	CodeUnpricedOperation    = "unpriced_operation"
	CodeInvalidInput         = "invalid_input"
	CodeUnauthorized         = "unauthorized"
	CodeForbidden            = "forbidden"
	CodeUnavailable          = "unavailable"
	CodeInternal             = "internal"
)

var codeErrors = []struct {
	code string
	err  error
}{
	{CodeInsufficientTokens, tokenledger.ErrInsufficientTokens},
	{CodeBalanceNotFound, tokenledger.ErrBalanceNotFound},
	{CodeSubscriptionNotFound, tokenledger.ErrSubscriptionNotFound},
	{CodeUnknownOperation, tokenledger.ErrUnknownOperation},
	{CodeUnpricedOperation, tokenledger.ErrUnpricedOperation},
	{CodeInvalidInput, tokenledger.ErrInvalidInput},
	{CodeUnauthorized, tokenledger.ErrUnauthorized},
	{CodeForbidden, tokenledger.ErrForbidden},
	{CodeUnavailable, tokenledger.ErrStoreNotReady},
}

// ErrorCode maps err to its wire code, CodeInternal when unrecognized.
func ErrorCode(err error) string {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeInternal
}

func errorForCode(code string) error {
	for _, ce := range codeErrors {
		if ce.code == code {
			return ce.err
		}
	}
	return nil
}
