package observability_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/observability"
	"github.com/xraph/tokenledger/store/memory"
)

func TestMetricsFollowLedger(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	l := tokenledger.New(memory.New(),
		tokenledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		tokenledger.WithPlugin(m),
	)
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if _, err := l.Debit(ctx, "u1", catalog.OpVideoProcessing, ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := l.Debit(ctx, "u1", catalog.OpImageGeneration, ""); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		c    observability.Counter
		want float64
	}{
		{"initialized", m.BalanceInitialized, 1},
		{"debits", m.TokensDebited, 5},
		{"spent", m.TokensSpent, 50},
		{"refused", m.DebitsRefused, 1},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(tt.c.(prometheus.Counter))
		if got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}

	n, err := testutil.GatherAndCount(reg, "tokenledger_tokens_debit_cost")
	if err != nil || n != 1 {
		t.Errorf("debit cost histogram: n=%d err=%v", n, err)
	}
}

func TestFactoryReusesCollectors(t *testing.T) {
	f := observability.NewPrometheusFactory(prometheus.NewRegistry())
	a := f.Counter("tokenledger.webhook.received")
	b := f.Counter("tokenledger.webhook.received")
	if a != b {
		t.Error("same name should return the same counter")
	}
}
