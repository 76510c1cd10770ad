package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/tokenledger/id"
)

var kinds = []struct {
	name   string
	newFn  func() id.ID
	parse  func(string) (id.ID, error)
	prefix string
}{
	{"balance", id.NewBalanceID, id.ParseBalanceID, "tbal_"},
	{"subscription", id.NewSubscriptionID, id.ParseSubscriptionID, "tsub_"},
	{"transaction", id.NewTransactionID, id.ParseTransactionID, "ttx_"},
}

func TestKinds(t *testing.T) {
	for i, k := range kinds {
		t.Run(k.name, func(t *testing.T) {
			v := k.newFn()
			if !strings.HasPrefix(v.String(), k.prefix) {
				t.Fatalf("got %q, want prefix %q", v, k.prefix)
			}
			parsed, err := k.parse(v.String())
			if err != nil || parsed.String() != v.String() {
				t.Fatalf("parse %q: %v, %v", v, parsed, err)
			}

			other := kinds[(i+1)%len(kinds)]
			if _, err := k.parse(other.newFn().String()); err == nil {
				t.Errorf("%s parser accepted a %s id", k.name, other.name)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() || i.String() != "" || i.Prefix() != "" {
		t.Errorf("zero ID = %q (nil=%v)", i, i.IsNil())
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewTransactionID()
	val, err := original.Value()
	if err != nil {
		t.Fatal(err)
	}
	var scanned id.ID
	if err := scanned.Scan(val); err != nil || scanned.String() != original.String() {
		t.Fatalf("scan = %q, %v", scanned, err)
	}

	val, _ = id.ID{}.Value() //nolint:errcheck // never fails for nil
	if val != nil {
		t.Errorf("nil ID value = %v, want NULL", val)
	}
	for _, src := range []any{nil, "", []byte{}} {
		var s id.ID
		if err := s.Scan(src); err != nil || !s.IsNil() {
			t.Errorf("Scan(%#v) = %q, %v", src, s, err)
		}
	}
	if err := new(id.ID).Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}

func TestJSON(t *testing.T) {
	type row struct {
		ID id.TransactionID `json:"id"`
	}
	in := row{ID: id.NewTransactionID()}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out row
	if err := json.Unmarshal(raw, &out); err != nil || out.ID.String() != in.ID.String() {
		t.Errorf("round trip %s -> %q, %v", raw, out.ID, err)
	}
}

func TestUniqueness(t *testing.T) {
	if a, b := id.NewTransactionID(), id.NewTransactionID(); a.String() == b.String() {
		t.Errorf("consecutive ids equal: %q", a)
	}
}
