package api_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	stripewebhook "github.com/stripe/stripe-go/v79/webhook"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/api"
	"github.com/xraph/tokenledger/auth"
	"github.com/xraph/tokenledger/catalog"
	"github.com/xraph/tokenledger/client"
	"github.com/xraph/tokenledger/store/memory"
	"github.com/xraph/tokenledger/webhook"
)

const webhookSecret = "whsec_api_test"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func init() { gin.SetMode(gin.TestMode) }

type stubProvider struct {
	sub *webhook.SubscriptionChanged
}

func (p *stubProvider) Subscription(context.Context, string) (*webhook.SubscriptionChanged, error) {
	if p.sub == nil {
		return nil, tokenledger.ErrProviderSync
	}
	out := *p.sub
	return &out, nil
}

func (p *stubProvider) CustomerMetadata(context.Context, string) (map[string]string, error) {
	return nil, nil
}

func (p *stubProvider) ProductTier(context.Context, string) (catalog.Tier, bool, error) {
	return "", false, nil
}

func newServer(t *testing.T, provider *stubProvider, opts ...api.Option) (*httptest.Server, *tokenledger.Ledger) {
	t.Helper()
	l := tokenledger.New(memory.New(), tokenledger.WithLogger(quiet))
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	syncer := webhook.NewSyncer(l, provider)
	base := []api.Option{
		api.WithLogger(quiet),
		api.WithWebhook(webhook.NewStripeVerifier(webhookSecret), syncer),
		api.WithAuth(nil, auth.MiddlewareConfig{Disabled: true}),
	}
	srv := httptest.NewServer(api.New(l, append(base, opts...)...).Handler())
	t.Cleanup(srv.Close)
	return srv, l
}

func TestTokenRoutesThroughClient(t *testing.T) {
	ctx := context.Background()
	srv, l := newServer(t, &stubProvider{})
	c := client.New(srv.URL)

	b, err := c.Initialize(ctx, "u1")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if b.TokensRemaining != 50 {
		t.Fatalf("initial remaining = %d", b.TokensRemaining)
	}

	res, err := c.Debit(ctx, "u1", catalog.OpImageGeneration, "c1")
	if err != nil || !res.Success || res.TokensRemaining != 45 {
		t.Fatalf("Debit = %+v, %v", res, err)
	}
	if _, err := c.Record(ctx, "u1", catalog.OpVideoProcessing, "c2"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	check, err := c.Check(ctx, "u1", catalog.OpVideoProcessing)
	if err != nil || !check.Sufficient || check.Cost != 10 {
		t.Fatalf("Check = %+v, %v", check, err)
	}

	txs, err := c.History(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(txs) != 1 || txs[0].Type != catalog.OpVideoProcessing {
		t.Errorf("history = %+v", txs)
	}

	rec, err := c.Subscription(ctx, "u1")
	if err != nil || rec.Tier != catalog.TierFree {
		t.Fatalf("Subscription = %+v, %v", rec, err)
	}

	got, err := c.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	want, _ := l.Balance(ctx, "u1")
	if got.TokensRemaining != want.TokensRemaining || got.ID != want.ID {
		t.Errorf("client balance %+v, ledger %+v", got, want)
	}
}

func TestInsufficientContracts(t *testing.T) {
	ctx := context.Background()
	srv, _ := newServer(t, &stubProvider{})
	c := client.New(srv.URL)

	for i := 0; i < 5; i++ {
		if _, err := c.Record(ctx, "u1", catalog.OpVideoProcessing, ""); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	res, err := c.Debit(ctx, "u1", catalog.OpTextRepurpose, "")
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if res.Success || res.TokensRemaining != 0 {
		t.Errorf("Debit = %+v, want refused", res)
	}

	_, err = c.Record(ctx, "u1", catalog.OpTextRepurpose, "")
	var ite *tokenledger.InsufficientTokensError
	if !errors.As(err, &ite) || ite.Cost != 1 || ite.Remaining != 0 || ite.UserID != "u1" {
		t.Fatalf("Record err = %v (%+v)", err, ite)
	}
}

func TestBadOperation(t *testing.T) {
	srv, _ := newServer(t, &stubProvider{})
	tests := []struct {
		body string
		want int
	}{
		{`{"operation":"TELEPORT"}`, http.StatusBadRequest},
		{`{"operation":"CONTENT_ANALYSIS"}`, http.StatusBadRequest},
		{`{"operation":"SUBSCRIPTION_GRANT"}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, err := http.Post(srv.URL+"/v1/users/u1/tokens/record", "application/json", strings.NewReader(tt.body))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s: status %d, want %d", tt.body, resp.StatusCode, tt.want)
		}
	}
}

func TestSubjectMustMatchUser(t *testing.T) {
	v, err := auth.NewHMACVerifier("secret")
	if err != nil {
		t.Fatal(err)
	}
	srv, _ := newServer(t, &stubProvider{}, api.WithAuth(v, auth.MiddlewareConfig{}))
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := client.New(srv.URL, client.WithToken(token)).Balance(ctx, "u1"); err != nil {
		t.Errorf("own balance: %v", err)
	}
	if _, err := client.New(srv.URL, client.WithToken(token)).Balance(ctx, "u2"); !errors.Is(err, tokenledger.ErrForbidden) {
		t.Errorf("other balance err = %v, want ErrForbidden", err)
	}
	if _, err := client.New(srv.URL).Balance(ctx, "u1"); !errors.Is(err, tokenledger.ErrUnauthorized) {
		t.Errorf("anonymous err = %v, want ErrUnauthorized", err)
	}
}

func TestCatalogAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv, _ := newServer(t, &stubProvider{}, api.WithMetrics(reg, reg))

	cat, err := client.New(srv.URL).Catalog(context.Background())
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if cat.Allotments[catalog.TierPro] != 500 || len(cat.Prices) != 4 {
		t.Errorf("catalog = %+v", cat)
	}

	for _, path := range []string{"/health", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status %d", path, resp.StatusCode)
		}
		if path == "/metrics" && !bytes.Contains(body, []byte("tokenledger_http_request_duration_seconds")) {
			t.Error("request histogram not exported")
		}
	}
}

func postWebhook(t *testing.T, url, payload, header string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/webhooks/stripe", strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST webhook: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func signed(payload string) string {
	return stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	}).Header
}

func checkoutPayload(eventID, meta string) string {
	return `{"id":"` + eventID + `","object":"event","type":"checkout.session.completed",` +
		`"data":{"object":{"id":"cs_1","object":"checkout.session","customer":"cus_1","subscription":"sub_1","metadata":` + meta + `}}}`
}

func TestStripeWebhook(t *testing.T) {
	periodEnd := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	provider := &stubProvider{sub: &webhook.SubscriptionChanged{
		ID: "sub_1", CustomerID: "cus_1", Status: "active",
		PeriodStart: time.Now().UTC().Truncate(time.Second), PeriodEnd: periodEnd,
	}}
	srv, l := newServer(t, provider)
	ctx := context.Background()

	good := checkoutPayload("evt_1", `{"userId":"u1","planName":"PRO"}`)
	if code := postWebhook(t, srv.URL, good, "t=1,v1=bad"); code != http.StatusBadRequest {
		t.Errorf("bad signature: status %d, want 400", code)
	}
	if _, err := l.SubscriptionByProviderID(ctx, "sub_1"); !tokenledger.IsNotFound(err) {
		t.Fatal("rejected delivery mutated the ledger")
	}

	if code := postWebhook(t, srv.URL, good, signed(good)); code != http.StatusOK {
		t.Fatalf("checkout: status %d", code)
	}
	if code := postWebhook(t, srv.URL, good, signed(good)); code != http.StatusOK {
		t.Errorf("redelivery: status %d", code)
	}
	b, err := l.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if b.TokensRemaining != 500 || !b.ResetDate.Equal(periodEnd) {
		t.Errorf("balance after checkout = %+v", b)
	}
	txs, _ := l.History(ctx, "u1", 0)
	if len(txs) != 1 {
		t.Errorf("redelivery granted again: %d transactions", len(txs))
	}

	unresolved := checkoutPayload("evt_2", `{}`)
	if code := postWebhook(t, srv.URL, unresolved, signed(unresolved)); code != http.StatusOK {
		t.Errorf("unresolved user: status %d, want 200", code)
	}

	provider.sub = nil
	failing := checkoutPayload("evt_3", `{"userId":"u2"}`)
	if code := postWebhook(t, srv.URL, failing, signed(failing)); code != http.StatusInternalServerError {
		t.Errorf("provider failure: status %d, want 500", code)
	}

	other := `{"id":"evt_4","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`
	if code := postWebhook(t, srv.URL, other, signed(other)); code != http.StatusOK {
		t.Errorf("ignored event: status %d", code)
	}

	big := checkoutPayload("evt_5", `{"pad":"`+strings.Repeat("x", api.MaxWebhookBody)+`"}`)
	if code := postWebhook(t, srv.URL, big, signed(big)); code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized: status %d", code)
	}
}
