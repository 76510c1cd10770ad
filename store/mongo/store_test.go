package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/store/storetest"
)

// Set TOKENLEDGER_TEST_MONGO_URI to run against a scratch server.
func TestStore(t *testing.T) {
	uri := os.Getenv("TOKENLEDGER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TOKENLEDGER_TEST_MONGO_URI not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		dbName := fmt.Sprintf("tokenledger_test_%d", time.Now().UnixNano())
		s, err := Open(ctx, uri, dbName)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		t.Cleanup(func() {
			_ = s.mdb.Database().Drop(context.Background())
			_ = s.Close()
		})
		return s
	})
}
