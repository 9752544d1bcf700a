package billing

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

	"github.com/inkpress/inkpress/app/models"
	"github.com/inkpress/inkpress/internal/pkg/env"
)

const (
	defaultPayPalAPIBaseURL = "https://api-m.paypal.com"

	// PayPal has no hosted billing portal; subscribers manage automatic
	// payments from their own account.
	payPalManageURL = "https://www.paypal.com/myaccount/autopay/"
)

// PayPalGateway adapts PayPal subscriptions. Webhook authenticity is
// checked through PayPal's verify-webhook-signature endpoint (the payload
// is signed against a provider-managed certificate, so there is no local
// HMAC to compute).
type PayPalGateway struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	APIBaseURL   string

	HTTPClient *http.Client
}

func NewPayPalGatewayFromEnv() *PayPalGateway {
	return &PayPalGateway{
		ClientID:     strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
		ClientSecret: strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_SECRET", "")),
		WebhookID:    strings.TrimSpace(env.GetEnv("PAYPAL_WEBHOOK_ID", "")),
		APIBaseURL:   strings.TrimRight(env.GetEnv("PAYPAL_API_BASE_URL", defaultPayPalAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (g *PayPalGateway) Name() string { return models.GatewayPayPal }

func (g *PayPalGateway) token(ctx context.Context) (string, error) {
	if g.ClientID == "" || g.ClientSecret == "" {
		return "", errors.New("PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET are not configured")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.APIBaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.ClientID, g.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("paypal token request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errors.New("paypal token request returned empty access_token")
	}
	return out.AccessToken, nil
}

func (g *PayPalGateway) VerifySignature(ctx context.Context, payload []byte, header HeaderFunc) error {
	if g.WebhookID == "" {
		return fmt.Errorf("%w: PAYPAL_WEBHOOK_ID is not configured", ErrBadSignature)
	}

	verifyReq := map[string]interface{}{
		"auth_algo":         header("Paypal-Auth-Algo"),
		"cert_url":          header("Paypal-Cert-Url"),
		"transmission_id":   header("Paypal-Transmission-Id"),
		"transmission_sig":  header("Paypal-Transmission-Sig"),
		"transmission_time": header("Paypal-Transmission-Time"),
		"webhook_id":        g.WebhookID,
		"webhook_event":     json.RawMessage(payload),
	}

	out := struct {
		VerificationStatus string `json:"verification_status"`
	}{}
	if err := g.doJSON(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", verifyReq, &out); err != nil {
		// Verification requires a round trip; a failed call is transient,
		// not proof of forgery.
		return fmt.Errorf("paypal signature verification: %w", err)
	}
	if out.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: verification_status=%s", ErrBadSignature, out.VerificationStatus)
	}
	return nil
}

type payPalEnvelope struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime string          `json:"create_time"`
	Resource   json.RawMessage `json:"resource"`
}

func (g *PayPalGateway) Normalize(payload []byte) (*NormalizedEvent, error) {
	var envlp payPalEnvelope
	if err := json.Unmarshal(payload, &envlp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if envlp.ID == "" || envlp.EventType == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrMalformedPayload)
	}

	ts := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, envlp.CreateTime); err == nil {
		ts = t.UTC()
	}

	ev := &NormalizedEvent{
		Gateway:   models.GatewayPayPal,
		EventID:   envlp.ID,
		RawType:   envlp.EventType,
		Timestamp: ts,
		Raw:       json.RawMessage(payload),
	}

	switch envlp.EventType {
	case "BILLING.SUBSCRIPTION.ACTIVATED":
		var res struct {
			ID         string `json:"id"`
			CustomID   string `json:"custom_id"`
			Subscriber struct {
				PayerID string `json:"payer_id"`
			} `json:"subscriber"`
		}
		if err := json.Unmarshal(envlp.Resource, &res); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		memberID, tier := parsePayPalCustomID(res.CustomID)
		ev.Type = EventCheckoutCompleted
		ev.Subject = SubjectRef{
			MemberID:       memberID,
			CustomerID:     res.Subscriber.PayerID,
			SubscriptionID: res.ID,
		}
		ev.Tier = tier

	case "BILLING.SUBSCRIPTION.UPDATED", "BILLING.SUBSCRIPTION.SUSPENDED":
		var res struct {
			ID          string `json:"id"`
			Status      string `json:"status"`
			BillingInfo struct {
				NextBillingTime string `json:"next_billing_time"`
			} `json:"billing_info"`
		}
		if err := json.Unmarshal(envlp.Resource, &res); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		ev.Type = EventSubscriptionUpdated
		ev.Subject = SubjectRef{SubscriptionID: res.ID}
		ev.Status = payPalStatusToSubscriptionStatus(res.Status)

	case "BILLING.SUBSCRIPTION.CANCELLED", "BILLING.SUBSCRIPTION.EXPIRED":
		var res struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(envlp.Resource, &res); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		ev.Type = EventSubscriptionCanceled
		ev.Subject = SubjectRef{SubscriptionID: res.ID}

	case "PAYMENT.SALE.COMPLETED", "PAYMENT.SALE.DENIED":
		var res struct {
			ID     string `json:"id"`
			Amount struct {
				Total    string `json:"total"`
				Currency string `json:"currency"`
			} `json:"amount"`
			BillingAgreementID string `json:"billing_agreement_id"`
		}
		if err := json.Unmarshal(envlp.Resource, &res); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if envlp.EventType == "PAYMENT.SALE.COMPLETED" {
			ev.Type = EventPaymentSucceeded
		} else {
			ev.Type = EventPaymentFailed
		}
		ev.Subject = SubjectRef{SubscriptionID: res.BillingAgreementID}
		ev.PaymentID = res.ID
		ev.Amount = parseDecimalMinorUnits(res.Amount.Total)
		ev.Currency = strings.ToLower(res.Amount.Currency)
		ev.Description = "paypal sale " + res.ID

	default:
		ev.Type = EventUnrecognized
	}

	return ev, nil
}

// CreateCustomer is a no-op: PayPal has no standalone customer object. The
// payer reference arrives with the subscription-activated webhook.
func (g *PayPalGateway) CreateCustomer(_ context.Context, _ *models.Member) (string, error) {
	return "", nil
}

func (g *PayPalGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error) {
	body := map[string]interface{}{
		"plan_id":   p.Price.PriceRef,
		"custom_id": formatPayPalCustomID(p.Member.ID, p.Tier),
		"application_context": map[string]interface{}{
			"brand_name":  "InkPress",
			"user_action": "SUBSCRIBE_NOW",
			"return_url":  p.SuccessURL,
			"cancel_url":  p.CancelURL,
		},
	}

	var out struct {
		ID    string `json:"id"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := g.doJSON(ctx, http.MethodPost, "/v1/billing/subscriptions", body, &out); err != nil {
		return "", fmt.Errorf("paypal create subscription: %w", err)
	}
	for _, l := range out.Links {
		if l.Rel == "approve" && l.Href != "" {
			return l.Href, nil
		}
	}
	return "", errors.New("paypal create subscription: no approve link in response")
}

func (g *PayPalGateway) CreatePortalSession(_ context.Context, _, _, _ string) (string, error) {
	return payPalManageURL, nil
}

// doJSON performs an authenticated JSON request against the PayPal API.
func (g *PayPalGateway) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	token, err := g.token(ctx)
	if err != nil {
		return err
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
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("paypal %s %s failed: status=%d body=%s", method, path, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func formatPayPalCustomID(memberID uint, tier string) string {
	return fmt.Sprintf("%d:%s", memberID, tier)
}

func parsePayPalCustomID(customID string) (uint, string) {
	parts := strings.SplitN(strings.TrimSpace(customID), ":", 2)
	if len(parts) != 2 {
		return 0, ""
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, ""
	}
	return uint(id), parts[1]
}

func payPalStatusToSubscriptionStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "ACTIVE":
		return models.SubscriptionStatusActive
	case "APPROVAL_PENDING", "APPROVED":
		return models.SubscriptionStatusTrialing
	case "SUSPENDED":
		return models.SubscriptionStatusPastDue
	case "CANCELLED", "EXPIRED":
		return models.SubscriptionStatusCanceled
	default:
		return models.SubscriptionStatusPastDue
	}
}

// parseDecimalMinorUnits converts a decimal money string ("9.99") into
// minor units (999). PayPal reports sale amounts as decimal strings.
func parseDecimalMinorUnits(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.SplitN(s, ".", 2)
	whole, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0
	}
	var frac int64
	if len(parts) == 2 {
		f := parts[1]
		if len(f) > 2 {
			f = f[:2]
		}
		for len(f) < 2 {
			f += "0"
		}
		frac, err = strconv.ParseInt(f, 10, 64)
		if err != nil {
			return 0
		}
	}
	if whole < 0 {
		return whole*100 - frac
	}
	return whole*100 + frac
}
