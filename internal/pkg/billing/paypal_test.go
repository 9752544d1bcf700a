package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/inkpress/inkpress/app/models"
)

// payPalTestServer fakes the OAuth token endpoint plus one API route.
func payPalTestServer(t *testing.T, route string, handler http.HandlerFunc) (*PayPalGateway, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "test-token"})
	})
	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		handler(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &PayPalGateway{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		WebhookID:    "WH-123",
		APIBaseURL:   srv.URL,
		HTTPClient:   srv.Client(),
	}, srv
}

func TestPayPalVerifySignature(t *testing.T) {
	g, _ := payPalTestServer(t, "/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad verify request: %v", err)
		}
		if req["webhook_id"] != "WH-123" || req["transmission_id"] != "tx-1" {
			t.Errorf("verify request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]string{"verification_status": "SUCCESS"})
	})

	header := func(name string) string {
		if name == "Paypal-Transmission-Id" {
			return "tx-1"
		}
		return "x"
	}
	if err := g.VerifySignature(context.Background(), []byte(`{"id":"WH-EVT-1"}`), header); err != nil {
		t.Fatalf("VerifySignature failed: %v", err)
	}
}

func TestPayPalVerifySignatureFailure(t *testing.T) {
	g, _ := payPalTestServer(t, "/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"verification_status": "FAILURE"})
	})

	err := g.VerifySignature(context.Background(), []byte(`{"id":"WH-EVT-1"}`), func(string) string { return "x" })
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestPayPalCreateCheckoutSession(t *testing.T) {
	g, _ := payPalTestServer(t, "/v1/billing/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad subscription request: %v", err)
		}
		if req["plan_id"] != "P-PREMIUM-USD-M" || req["custom_id"] != "42:premium" {
			t.Errorf("subscription request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "I-SUB1",
			"links": []map[string]string{
				{"href": "https://paypal.test/self", "rel": "self"},
				{"href": "https://paypal.test/approve", "rel": "approve"},
			},
		})
	})

	url, err := g.CreateCheckoutSession(context.Background(), CheckoutParams{
		Member: &models.Member{ID: 42, Email: "member@example.com"},
		Tier:   models.TierPremium,
		Price:  ResolvedPrice{Amount: 999, Currency: "usd", PriceRef: "P-PREMIUM-USD-M"},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession failed: %v", err)
	}
	if url != "https://paypal.test/approve" {
		t.Fatalf("url = %q", url)
	}
}

func TestPayPalNormalizeSubscriptionActivated(t *testing.T) {
	g := &PayPalGateway{}
	payload := []byte(`{
		"id": "WH-7YX32",
		"event_type": "BILLING.SUBSCRIPTION.ACTIVATED",
		"create_time": "2026-08-01T10:30:00Z",
		"resource": {
			"id": "I-BW452GLLEP1G",
			"custom_id": "42:vip",
			"subscriber": {"payer_id": "PAYER123"}
		}
	}`)

	ev, err := g.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.Gateway != models.GatewayPayPal || ev.EventID != "WH-7YX32" {
		t.Fatalf("identity = %s/%s", ev.Gateway, ev.EventID)
	}
	if ev.Type != EventCheckoutCompleted {
		t.Fatalf("type = %s", ev.Type)
	}
	if ev.Subject.MemberID != 42 || ev.Subject.CustomerID != "PAYER123" || ev.Subject.SubscriptionID != "I-BW452GLLEP1G" {
		t.Fatalf("subject = %+v", ev.Subject)
	}
	if ev.Tier != models.TierVIP {
		t.Fatalf("tier = %q", ev.Tier)
	}
	want := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v", ev.Timestamp)
	}
}

func TestPayPalNormalizeSuspendedAndCancelled(t *testing.T) {
	g := &PayPalGateway{}

	ev, err := g.Normalize([]byte(`{
		"id": "WH-1",
		"event_type": "BILLING.SUBSCRIPTION.SUSPENDED",
		"create_time": "2026-08-02T00:00:00Z",
		"resource": {"id": "I-BW452GLLEP1G", "status": "SUSPENDED"}
	}`))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.Type != EventSubscriptionUpdated || ev.Status != models.SubscriptionStatusPastDue {
		t.Fatalf("ev = %+v", ev)
	}

	ev, err = g.Normalize([]byte(`{
		"id": "WH-2",
		"event_type": "BILLING.SUBSCRIPTION.CANCELLED",
		"create_time": "2026-08-03T00:00:00Z",
		"resource": {"id": "I-BW452GLLEP1G"}
	}`))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.Type != EventSubscriptionCanceled || ev.Subject.SubscriptionID != "I-BW452GLLEP1G" {
		t.Fatalf("ev = %+v", ev)
	}
}

func TestPayPalNormalizeSaleCompleted(t *testing.T) {
	g := &PayPalGateway{}
	payload := []byte(`{
		"id": "WH-3",
		"event_type": "PAYMENT.SALE.COMPLETED",
		"create_time": "2026-08-04T12:00:00Z",
		"resource": {
			"id": "SALE123",
			"amount": {"total": "9.99", "currency": "USD"},
			"billing_agreement_id": "I-BW452GLLEP1G"
		}
	}`)

	ev, err := g.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.Type != EventPaymentSucceeded {
		t.Fatalf("type = %s", ev.Type)
	}
	if ev.PaymentID != "SALE123" || ev.Amount != 999 || ev.Currency != "usd" {
		t.Fatalf("payment = %q %d %q", ev.PaymentID, ev.Amount, ev.Currency)
	}
	if ev.Subject.SubscriptionID != "I-BW452GLLEP1G" {
		t.Fatalf("subject = %+v", ev.Subject)
	}

	ev, err = g.Normalize([]byte(`{
		"id": "WH-4",
		"event_type": "PAYMENT.SALE.DENIED",
		"create_time": "2026-08-05T12:00:00Z",
		"resource": {"id": "SALE124", "amount": {"total": "9.99", "currency": "USD"}, "billing_agreement_id": "I-BW452GLLEP1G"}
	}`))
	if err != nil || ev.Type != EventPaymentFailed {
		t.Fatalf("denied sale: %v %+v", err, ev)
	}
}

func TestPayPalNormalizeMalformed(t *testing.T) {
	g := &PayPalGateway{}
	for _, payload := range []string{
		`not json`,
		`{"event_type":"PAYMENT.SALE.COMPLETED"}`,
		`{"id":"WH-5"}`,
	} {
		if _, err := g.Normalize([]byte(payload)); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("payload %q: expected ErrMalformedPayload, got %v", payload, err)
		}
	}
}

func TestParsePayPalCustomID(t *testing.T) {
	if id, tier := parsePayPalCustomID("42:premium"); id != 42 || tier != "premium" {
		t.Fatalf("got %d/%q", id, tier)
	}
	for _, s := range []string{"", "42", "abc:premium", ":premium"} {
		if id, tier := parsePayPalCustomID(s); id != 0 || tier != "" {
			t.Fatalf("%q parsed to %d/%q", s, id, tier)
		}
	}
}

func TestParseDecimalMinorUnits(t *testing.T) {
	tests := map[string]int64{
		"9.99":   999,
		"24.9":   2490,
		"10":     1000,
		"0.05":   5,
		"9.999":  999,
		"-9.99":  -999,
		"":       0,
		"abc":    0,
		" 9.99 ": 999,
	}
	for in, want := range tests {
		if got := parseDecimalMinorUnits(in); got != want {
			t.Errorf("%q -> %d, want %d", in, got, want)
		}
	}
}

func TestPayPalStatusMapping(t *testing.T) {
	tests := map[string]string{
		"ACTIVE":    models.SubscriptionStatusActive,
		"APPROVED":  models.SubscriptionStatusTrialing,
		"SUSPENDED": models.SubscriptionStatusPastDue,
		"CANCELLED": models.SubscriptionStatusCanceled,
		"EXPIRED":   models.SubscriptionStatusCanceled,
		"cancelled": models.SubscriptionStatusCanceled,
		"other":     models.SubscriptionStatusPastDue,
	}
	for in, want := range tests {
		if got := payPalStatusToSubscriptionStatus(in); got != want {
			t.Errorf("%s -> %s, want %s", in, got, want)
		}
	}
}
