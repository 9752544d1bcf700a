package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inkpress/inkpress/app/models"
)

func newPaystackTestGateway(srv *httptest.Server) *PaystackGateway {
	return &PaystackGateway{
		SecretKey:  "sk_test_secret",
		APIBaseURL: srv.URL,
		HTTPClient: srv.Client(),
		prices:     DefaultPriceTable(),
	}
}

func TestPaystackVerifySignature(t *testing.T) {
	g := &PaystackGateway{SecretKey: "sk_test_secret"}
	payload := []byte(`{"event":"charge.success","data":{"id":1}}`)
	sig := paystackSign(payload, "sk_test_secret")

	headers := map[string]string{"x-paystack-signature": sig}
	header := func(name string) string { return headers[strings.ToLower(name)] }

	if err := g.VerifySignature(context.Background(), payload, header); err != nil {
		t.Fatalf("VerifySignature failed: %v", err)
	}

	headers["x-paystack-signature"] = paystackSign(payload, "sk_other")
	if err := g.VerifySignature(context.Background(), payload, header); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestPaystackNormalizeChargeSuccess(t *testing.T) {
	g := &PaystackGateway{prices: DefaultPriceTable()}
	payload := []byte(`{
		"event": "charge.success",
		"data": {
			"id": 302961,
			"reference": "ref_abc123",
			"amount": 450000,
			"currency": "NGN",
			"paid_at": "2026-08-10T09:15:00Z",
			"customer": {"customer_code": "CUS_xnxdt6s1zg1f4nx"},
			"metadata": {"member_id": "42"}
		}
	}`)

	ev, err := g.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.Gateway != models.GatewayPaystack {
		t.Fatalf("gateway = %s", ev.Gateway)
	}
	if ev.EventID != "charge.success:302961" {
		t.Fatalf("event id = %q", ev.EventID)
	}
	if ev.Type != EventPaymentSucceeded {
		t.Fatalf("type = %s", ev.Type)
	}
	if ev.Subject.MemberID != 42 || ev.Subject.CustomerID != "CUS_xnxdt6s1zg1f4nx" {
		t.Fatalf("subject = %+v", ev.Subject)
	}
	if ev.PaymentID != "ref_abc123" || ev.Amount != 450000 || ev.Currency != "ngn" {
		t.Fatalf("payment = %q %d %q", ev.PaymentID, ev.Amount, ev.Currency)
	}
	want := time.Date(2026, 8, 10, 9, 15, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v", ev.Timestamp)
	}
}

func TestPaystackNormalizeSubscriptionCreate(t *testing.T) {
	g := &PaystackGateway{prices: DefaultPriceTable()}
	payload := []byte(`{
		"event": "subscription.create",
		"data": {
			"subscription_code": "SUB_vsyqdmlzble3uii",
			"createdAt": "2026-08-10T09:16:00Z",
			"customer": {"customer_code": "CUS_xnxdt6s1zg1f4nx"},
			"plan": {"plan_code": "PLN_premium_ngn"}
		}
	}`)

	ev, err := g.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.Type != EventCheckoutCompleted {
		t.Fatalf("type = %s", ev.Type)
	}
	if ev.EventID != "subscription.create:SUB_vsyqdmlzble3uii" {
		t.Fatalf("event id = %q", ev.EventID)
	}
	// Tier is recovered from the plan code.
	if ev.Tier != models.TierPremium {
		t.Fatalf("tier = %q", ev.Tier)
	}
	if ev.Subject.CustomerID != "CUS_xnxdt6s1zg1f4nx" || ev.Subject.SubscriptionID != "SUB_vsyqdmlzble3uii" {
		t.Fatalf("subject = %+v", ev.Subject)
	}
}

func TestPaystackNormalizeSubscriptionCreateUnknownPlan(t *testing.T) {
	g := &PaystackGateway{prices: DefaultPriceTable()}
	ev, err := g.Normalize([]byte(`{
		"event": "subscription.create",
		"data": {
			"subscription_code": "SUB_1",
			"customer": {"customer_code": "CUS_1"},
			"plan": {"plan_code": "PLN_legacy"}
		}
	}`))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.Tier != "" {
		t.Fatalf("unknown plan should leave tier empty, got %q", ev.Tier)
	}
}

func TestPaystackNormalizeSubscriptionDisable(t *testing.T) {
	g := &PaystackGateway{prices: DefaultPriceTable()}
	ev, err := g.Normalize([]byte(`{
		"event": "subscription.disable",
		"data": {
			"subscription_code": "SUB_vsyqdmlzble3uii",
			"customer": {"customer_code": "CUS_xnxdt6s1zg1f4nx"}
		}
	}`))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.Type != EventSubscriptionCanceled {
		t.Fatalf("type = %s", ev.Type)
	}
	if ev.EventID != "subscription.disable:SUB_vsyqdmlzble3uii" {
		t.Fatalf("event id = %q", ev.EventID)
	}
}

func TestPaystackNormalizeNotRenew(t *testing.T) {
	g := &PaystackGateway{prices: DefaultPriceTable()}
	ev, err := g.Normalize([]byte(`{
		"event": "subscription.not_renew",
		"data": {
			"subscription_code": "SUB_vsyqdmlzble3uii",
			"next_payment_date": "2026-09-10T00:00:00Z"
		}
	}`))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.Type != EventSubscriptionUpdated || ev.Status != models.SubscriptionStatusActive {
		t.Fatalf("ev = %+v", ev)
	}
	if ev.CancelAt == nil || !ev.CancelAt.Equal(time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("cancel_at = %v", ev.CancelAt)
	}
}

func TestPaystackNormalizeInvoiceFailed(t *testing.T) {
	g := &PaystackGateway{prices: DefaultPriceTable()}
	ev, err := g.Normalize([]byte(`{
		"event": "invoice.payment_failed",
		"data": {
			"invoice_code": "INV_wpf2bhfmvjhpzaj",
			"amount": 450000,
			"currency": "NGN",
			"customer": {"customer_code": "CUS_xnxdt6s1zg1f4nx"},
			"subscription": {"subscription_code": "SUB_vsyqdmlzble3uii"}
		}
	}`))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.Type != EventPaymentFailed {
		t.Fatalf("type = %s", ev.Type)
	}
	if ev.EventID != "invoice.payment_failed:INV_wpf2bhfmvjhpzaj" {
		t.Fatalf("event id = %q", ev.EventID)
	}
	if ev.PaymentID != "INV_wpf2bhfmvjhpzaj" || ev.Subject.SubscriptionID != "SUB_vsyqdmlzble3uii" {
		t.Fatalf("ev = %+v", ev)
	}
}

func TestPaystackNormalizeHashFallbackID(t *testing.T) {
	g := &PaystackGateway{prices: DefaultPriceTable()}
	payload := []byte(`{"event":"transfer.success","data":{"reference":"tr_1"}}`)

	ev, err := g.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.Type != EventUnrecognized {
		t.Fatalf("type = %s", ev.Type)
	}
	if !strings.HasPrefix(ev.EventID, "hash:") || len(ev.EventID) != len("hash:")+64 {
		t.Fatalf("event id = %q", ev.EventID)
	}

	// Same bytes, same id: a retried delivery still dedups.
	ev2, _ := g.Normalize(payload)
	if ev2.EventID != ev.EventID {
		t.Fatalf("hash id not stable: %q vs %q", ev.EventID, ev2.EventID)
	}
}

func TestPaystackNormalizeMalformed(t *testing.T) {
	g := &PaystackGateway{prices: DefaultPriceTable()}
	for _, payload := range []string{`not json`, `{"data":{}}`} {
		if _, err := g.Normalize([]byte(payload)); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("payload %q: expected ErrMalformedPayload, got %v", payload, err)
		}
	}
}

func TestPaystackCreateCheckoutSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/initialize" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test_secret" {
			t.Errorf("missing bearer auth")
		}
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req["plan"] != "PLN_premium_ngn" || req["currency"] != "NGN" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data":   map[string]string{"authorization_url": "https://checkout.paystack.com/abc123"},
		})
	}))
	defer srv.Close()

	g := newPaystackTestGateway(srv)
	url, err := g.CreateCheckoutSession(context.Background(), CheckoutParams{
		Member: &models.Member{ID: 42, Email: "member@example.com"},
		Tier:   models.TierPremium,
		Price:  ResolvedPrice{Amount: 450000, Currency: "ngn", PriceRef: "PLN_premium_ngn"},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession failed: %v", err)
	}
	if url != "https://checkout.paystack.com/abc123" {
		t.Fatalf("url = %q", url)
	}
}

func TestPaystackCreateCustomer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/customer" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data":   map[string]string{"customer_code": "CUS_new1"},
		})
	}))
	defer srv.Close()

	g := newPaystackTestGateway(srv)
	code, err := g.CreateCustomer(context.Background(), &models.Member{ID: 42, Email: "member@example.com", Name: "Test"})
	if err != nil {
		t.Fatalf("CreateCustomer failed: %v", err)
	}
	if code != "CUS_new1" {
		t.Fatalf("code = %q", code)
	}
}

func TestPaystackCreatePortalSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/subscription/SUB_1/manage/link" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data":   map[string]string{"link": "https://paystack.com/manage/sub_1"},
		})
	}))
	defer srv.Close()

	g := newPaystackTestGateway(srv)
	link, err := g.CreatePortalSession(context.Background(), "CUS_1", "SUB_1", "")
	if err != nil {
		t.Fatalf("CreatePortalSession failed: %v", err)
	}
	if link != "https://paystack.com/manage/sub_1" {
		t.Fatalf("link = %q", link)
	}

	if _, err := g.CreatePortalSession(context.Background(), "CUS_1", "", ""); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription, got %v", err)
	}
}
