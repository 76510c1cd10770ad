// Package id defines the TypeID identifiers of tokenledger rows.
//
// IDs are K-sortable, globally unique and URL-safe ("ttx_01h2x..."). Users are
// identified by the caller's auth subject, never by an ID from this package.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the row kind encoded in an ID.
type Prefix string

const (
	PrefixBalance      Prefix = "tbal"
	PrefixSubscription Prefix = "tsub"
	PrefixTransaction  Prefix = "ttx"
)

// New generates an ID of kind p. It panics on an invalid prefix, which can
// only be a programming error.
func (p Prefix) New() ID {
	tid, err := typeid.Generate(string(p))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", p, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses s and rejects IDs of any other kind.
func (p Prefix) Parse(s string) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return ID{}, err
	}
	if parsed.Prefix() != p {
		return ID{}, fmt.Errorf("id: expected prefix %q, got %q", p, parsed.Prefix())
	}
	return parsed, nil
}

// ID wraps a TypeID. The zero value is the nil ID.
//
//nolint:recvcheck // pointer receivers only where the ID is decoded in place.
type ID struct {
	inner typeid.TypeID
	valid bool
}

type (
	BalanceID      = ID
	SubscriptionID = ID
	TransactionID  = ID
)

func NewBalanceID() ID      { return PrefixBalance.New() }
func NewSubscriptionID() ID { return PrefixSubscription.New() }
func NewTransactionID() ID  { return PrefixTransaction.New() }

func ParseBalanceID(s string) (ID, error)      { return PrefixBalance.Parse(s) }
func ParseSubscriptionID(s string) (ID, error) { return PrefixSubscription.Parse(s) }
func ParseTransactionID(s string) (ID, error)  { return PrefixTransaction.Parse(s) }

// Parse parses any TypeID string.
func Parse(s string) (ID, error) {
	if s == "" {
		return ID{}, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// String returns "prefix_suffix", or "" for the nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the kind of i.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields the
// nil ID.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = ID{}
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer; the nil ID is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = ID{}
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
