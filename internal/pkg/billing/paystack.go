package billing

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/inkpress/inkpress/app/models"
	"github.com/inkpress/inkpress/internal/pkg/env"
)

const defaultPaystackAPIBaseURL = "https://api.paystack.co"

// PaystackGateway adapts Paystack (card and mobile-money charges). Webhooks
// are authenticated with an HMAC-SHA512 of the raw body under the secret
// key; Paystack events carry no envelope id, so the dedup key falls back to
// a payload hash.
type PaystackGateway struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client

	prices PriceTable
}

func NewPaystackGatewayFromEnv(prices PriceTable) *PaystackGateway {
	return &PaystackGateway{
		SecretKey:  strings.TrimSpace(env.GetEnv("PAYSTACK_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("PAYSTACK_API_BASE_URL", defaultPaystackAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		prices: prices,
	}
}

func (g *PaystackGateway) Name() string { return models.GatewayPaystack }

func (g *PaystackGateway) VerifySignature(_ context.Context, payload []byte, header HeaderFunc) error {
	if !VerifyPaystackWebhookSignature(payload, header("x-paystack-signature"), g.SecretKey) {
		return ErrBadSignature
	}
	return nil
}

type paystackEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (g *PaystackGateway) Normalize(payload []byte) (*NormalizedEvent, error) {
	var envlp paystackEnvelope
	if err := json.Unmarshal(payload, &envlp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if envlp.Event == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}

	ev := &NormalizedEvent{
		Gateway:   models.GatewayPaystack,
		RawType:   envlp.Event,
		Timestamp: time.Now().UTC(),
		Raw:       json.RawMessage(payload),
	}

	switch envlp.Event {
	case "charge.success":
		var data struct {
			ID        int64  `json:"id"`
			Reference string `json:"reference"`
			Amount    int64  `json:"amount"`
			Currency  string `json:"currency"`
			PaidAt    string `json:"paid_at"`
			Customer  struct {
				CustomerCode string `json:"customer_code"`
			} `json:"customer"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(envlp.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		ev.Type = EventPaymentSucceeded
		ev.EventID = fmt.Sprintf("%s:%d", envlp.Event, data.ID)
		ev.Subject = SubjectRef{
			MemberID:   parseMemberID(data.Metadata["member_id"]),
			CustomerID: data.Customer.CustomerCode,
		}
		ev.PaymentID = data.Reference
		ev.Amount = data.Amount
		ev.Currency = strings.ToLower(data.Currency)
		ev.Description = "paystack charge " + data.Reference
		if t, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
			ev.Timestamp = t.UTC()
		}

	case "invoice.payment_failed":
		var data struct {
			InvoiceCode string `json:"invoice_code"`
			Amount      int64  `json:"amount"`
			Currency    string `json:"currency"`
			Customer    struct {
				CustomerCode string `json:"customer_code"`
			} `json:"customer"`
			Subscription struct {
				SubscriptionCode string `json:"subscription_code"`
			} `json:"subscription"`
		}
		if err := json.Unmarshal(envlp.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		ev.Type = EventPaymentFailed
		ev.EventID = fmt.Sprintf("%s:%s", envlp.Event, data.InvoiceCode)
		ev.Subject = SubjectRef{
			CustomerID:     data.Customer.CustomerCode,
			SubscriptionID: data.Subscription.SubscriptionCode,
		}
		ev.PaymentID = data.InvoiceCode
		ev.Amount = data.Amount
		ev.Currency = strings.ToLower(data.Currency)
		ev.Description = "paystack invoice " + data.InvoiceCode

	case "subscription.create":
		var data struct {
			SubscriptionCode string `json:"subscription_code"`
			CreatedAt        string `json:"createdAt"`
			Customer         struct {
				CustomerCode string `json:"customer_code"`
			} `json:"customer"`
			Plan struct {
				PlanCode string `json:"plan_code"`
			} `json:"plan"`
		}
		if err := json.Unmarshal(envlp.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		ev.Type = EventCheckoutCompleted
		ev.EventID = fmt.Sprintf("%s:%s", envlp.Event, data.SubscriptionCode)
		ev.Subject = SubjectRef{
			CustomerID:     data.Customer.CustomerCode,
			SubscriptionID: data.SubscriptionCode,
		}
		// Paystack subscription events carry no metadata; the tier comes
		// from the plan code.
		if tier, ok := g.prices.TierForPriceRef(models.GatewayPaystack, data.Plan.PlanCode); ok {
			ev.Tier = tier
		}
		if t, err := time.Parse(time.RFC3339, data.CreatedAt); err == nil {
			ev.Timestamp = t.UTC()
		}

	case "subscription.disable":
		var data struct {
			SubscriptionCode string `json:"subscription_code"`
			Customer         struct {
				CustomerCode string `json:"customer_code"`
			} `json:"customer"`
		}
		if err := json.Unmarshal(envlp.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		ev.Type = EventSubscriptionCanceled
		ev.EventID = fmt.Sprintf("%s:%s", envlp.Event, data.SubscriptionCode)
		ev.Subject = SubjectRef{
			CustomerID:     data.Customer.CustomerCode,
			SubscriptionID: data.SubscriptionCode,
		}

	case "subscription.not_renew":
		var data struct {
			SubscriptionCode string `json:"subscription_code"`
			NextPaymentDate  string `json:"next_payment_date"`
		}
		if err := json.Unmarshal(envlp.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		ev.Type = EventSubscriptionUpdated
		ev.EventID = fmt.Sprintf("%s:%s", envlp.Event, data.SubscriptionCode)
		ev.Subject = SubjectRef{SubscriptionID: data.SubscriptionCode}
		ev.Status = models.SubscriptionStatusActive
		if t, err := time.Parse(time.RFC3339, data.NextPaymentDate); err == nil {
			tt := t.UTC()
			ev.CancelAt = &tt
		}

	default:
		ev.Type = EventUnrecognized
	}

	// No envelope-level event id: fall back to a payload hash so retried
	// deliveries still dedup.
	if ev.EventID == "" {
		sum := sha256.Sum256(payload)
		ev.EventID = "hash:" + hex.EncodeToString(sum[:])
	}

	return ev, nil
}

func (g *PaystackGateway) CreateCustomer(ctx context.Context, m *models.Member) (string, error) {
	body := map[string]interface{}{
		"email":      m.Email,
		"first_name": m.Name,
		"metadata":   map[string]string{"member_id": strconv.FormatUint(uint64(m.ID), 10)},
	}

	var out struct {
		Status bool `json:"status"`
		Data   struct {
			CustomerCode string `json:"customer_code"`
		} `json:"data"`
	}
	if err := g.doJSON(ctx, http.MethodPost, "/customer", body, &out); err != nil {
		return "", fmt.Errorf("paystack create customer: %w", err)
	}
	if !out.Status || out.Data.CustomerCode == "" {
		return "", errors.New("paystack create customer: no customer code in response")
	}
	return out.Data.CustomerCode, nil
}

func (g *PaystackGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error) {
	body := map[string]interface{}{
		"email":        p.Member.Email,
		"amount":       p.Price.Amount,
		"currency":     strings.ToUpper(p.Price.Currency),
		"plan":         p.Price.PriceRef,
		"callback_url": p.SuccessURL,
		"metadata": map[string]string{
			"member_id": strconv.FormatUint(uint64(p.Member.ID), 10),
			"tier":      p.Tier,
		},
	}

	var out struct {
		Status bool `json:"status"`
		Data   struct {
			AuthorizationURL string `json:"authorization_url"`
		} `json:"data"`
	}
	if err := g.doJSON(ctx, http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return "", fmt.Errorf("paystack initialize transaction: %w", err)
	}
	if !out.Status || out.Data.AuthorizationURL == "" {
		return "", errors.New("paystack initialize transaction: no authorization url in response")
	}
	return out.Data.AuthorizationURL, nil
}

func (g *PaystackGateway) CreatePortalSession(ctx context.Context, _, subscriptionID, _ string) (string, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return "", ErrNoActiveSubscription
	}

	var out struct {
		Status bool `json:"status"`
		Data   struct {
			Link string `json:"link"`
		} `json:"data"`
	}
	if err := g.doJSON(ctx, http.MethodGet, "/subscription/"+subscriptionID+"/manage/link", nil, &out); err != nil {
		return "", fmt.Errorf("paystack manage link: %w", err)
	}
	if !out.Status || out.Data.Link == "" {
		return "", errors.New("paystack manage link: no link in response")
	}
	return out.Data.Link, nil
}

func (g *PaystackGateway) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	if g.SecretKey == "" {
		return errors.New("PAYSTACK_SECRET_KEY is not configured")
	}

	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.APIBaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("paystack %s %s failed: status=%d body=%s", method, path, resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}
