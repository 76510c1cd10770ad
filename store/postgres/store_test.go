package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/store/storetest"
)

// Set TOKENLEDGER_TEST_POSTGRES_DSN to run against a scratch database.
func TestStore(t *testing.T) {
	dsn := os.Getenv("TOKENLEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TOKENLEDGER_TEST_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := Open(ctx, dsn)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		if _, err := s.pg.Exec(ctx, `TRUNCATE tokenledger_balances, tokenledger_subscriptions,
tokenledger_transactions, tokenledger_webhook_events`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
