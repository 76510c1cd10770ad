// Package client talks to a tokenledger server over HTTP. A Client can back
// a session.Cache in place of an in-process Ledger.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	maxErrorBody       = 4 << 10
)

// Client calls the /v1 routes of a tokenledger server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      func(ctx context.Context) (string, error)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithToken sends a static bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = func(context.Context) (string, error) { return token, nil }
	}
}

// WithTokenSource fetches a bearer token per request, for tokens that expire.
func WithTokenSource(fn func(ctx context.Context) (string, error)) Option {
	return func(c *Client) { c.token = fn }
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-2xx response the server did not map to a known code.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tokenledger client: http %d: %s", e.StatusCode, e.Message)
}

// Balance fetches the user's current balance.
func (c *Client) Balance(ctx context.Context, userID string) (*balance.Balance, error) {
	var out balance.Balance
	if err := c.do(ctx, http.MethodGet, userPath(userID, "tokens/balance"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Initialize creates the user's balance if needed.
func (c *Client) Initialize(ctx context.Context, userID string) (*balance.Balance, error) {
	var out balance.Balance
	if err := c.do(ctx, http.MethodPost, userPath(userID, "tokens/initialize"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History fetches the user's most recent transactions.
func (c *Client) History(ctx context.Context, userID string, limit int) ([]*transaction.Transaction, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out HistoryResponse
	if err := c.do(ctx, http.MethodGet, userPath(userID, "tokens/history"), q, nil, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// Subscription fetches the user's subscription record.
func (c *Client) Subscription(ctx context.Context, userID string) (*subscription.Record, error) {
	var out subscription.Record
	if err := c.do(ctx, http.MethodGet, userPath(userID, "subscription"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Check reports whether the user can afford op.
func (c *Client) Check(ctx context.Context, userID string, op catalog.Operation) (*CheckResponse, error) {
	q := url.Values{"operation": {string(op)}}
	var out CheckResponse
	if err := c.do(ctx, http.MethodGet, userPath(userID, "tokens/check"), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Debit charges op. Insufficiency is Success=false, not an error.
func (c *Client) Debit(ctx context.Context, userID string, op catalog.Operation, contentID string) (*tokenledger.DebitResult, error) {
	var out tokenledger.DebitResult
	body := OperationRequest{Operation: op, ContentID: contentID}
	if err := c.do(ctx, http.MethodPost, userPath(userID, "tokens/debit"), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Record charges op and fails with an error matching
// tokenledger.ErrInsufficientTokens when the balance cannot cover it.
func (c *Client) Record(ctx context.Context, userID string, op catalog.Operation, contentID string) (*balance.Balance, error) {
	var out balance.Balance
	body := OperationRequest{Operation: op, ContentID: contentID}
	err := c.do(ctx, http.MethodPost, userPath(userID, "tokens/record"), nil, body, &out)
	var ite *tokenledger.InsufficientTokensError
	if errors.As(err, &ite) {
		ite.UserID = userID
		ite.Operation = op
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Catalog fetches the server's price table.
func (c *Client) Catalog(ctx context.Context) (*CatalogResponse, error) {
	var out CatalogResponse
	if err := c.do(ctx, http.MethodGet, "/v1/catalog", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func userPath(userID, rest string) string {
	return "/v1/users/" + url.PathEscape(userID) + "/" + rest
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("tokenledger client: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("tokenledger client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("tokenledger client: token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tokenledger client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tokenledger client: decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // body is informational
	var er ErrorResponse
	if err := json.Unmarshal(raw, &er); err != nil || er.Error == "" {
		er.Error = strings.TrimSpace(string(raw))
	}

	if resp.StatusCode == http.StatusPaymentRequired || er.Code == CodeInsufficientTokens {
		return &tokenledger.InsufficientTokensError{Cost: er.Cost, Remaining: er.Remaining}
	}
	if sentinel := errorForCode(er.Code); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, er.Error)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", tokenledger.ErrBalanceNotFound, er.Error)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", tokenledger.ErrUnauthorized, er.Error)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", tokenledger.ErrForbidden, er.Error)
	}
	return &StatusError{StatusCode: resp.StatusCode, Code: er.Code, Message: er.Error}
}
