package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"
	bpsession "github.com/stripe/stripe-go/v82/billingportal/session"
	cosession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/inkpress/inkpress/app/models"
	"github.com/inkpress/inkpress/internal/pkg/env"
)

// StripeGateway adapts Stripe: hosted checkout sessions, the customer
// billing portal and signed webhooks (Stripe-Signature, HMAC-SHA256 over
// the raw body, verified by the SDK).
type StripeGateway struct {
	webhookSecret string
}

func NewStripeGatewayFromEnv() *StripeGateway {
	// The stripe-go resource packages read the package-level key.
	stripe.Key = env.GetEnv("STRIPE_SECRET_KEY", "")
	return &StripeGateway{
		webhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	}
}

func (g *StripeGateway) Name() string { return models.GatewayStripe }

func (g *StripeGateway) VerifySignature(_ context.Context, payload []byte, header HeaderFunc) error {
	if err := webhook.ValidatePayload(payload, header("Stripe-Signature"), g.webhookSecret); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// stripeEnvelope is the subset of the event envelope we need. Object
// references (customer, subscription) arrive as plain ids in webhook
// payloads.
type stripeEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (g *StripeGateway) Normalize(payload []byte) (*NormalizedEvent, error) {
	var evp stripeEnvelope
	if err := json.Unmarshal(payload, &evp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if evp.ID == "" || evp.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrMalformedPayload)
	}

	ev := &NormalizedEvent{
		Gateway:   models.GatewayStripe,
		EventID:   evp.ID,
		RawType:   evp.Type,
		Timestamp: time.Unix(evp.Created, 0).UTC(),
		Raw:       json.RawMessage(payload),
	}

	switch evp.Type {
	case "checkout.session.completed":
		var obj struct {
			Customer     string            `json:"customer"`
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
			AmountTotal  int64             `json:"amount_total"`
			Currency     string            `json:"currency"`
		}
		if err := json.Unmarshal(evp.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		ev.Type = EventCheckoutCompleted
		ev.Subject = SubjectRef{
			MemberID:       parseMemberID(obj.Metadata["member_id"]),
			CustomerID:     obj.Customer,
			SubscriptionID: obj.Subscription,
		}
		ev.Tier = obj.Metadata["tier"]
		ev.Amount = obj.AmountTotal
		ev.Currency = obj.Currency

	case "customer.subscription.updated":
		var obj struct {
			ID         string `json:"id"`
			Customer   string `json:"customer"`
			Status     string `json:"status"`
			CancelAt   int64  `json:"cancel_at"`
			CanceledAt int64  `json:"canceled_at"`
		}
		if err := json.Unmarshal(evp.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		ev.Type = EventSubscriptionUpdated
		ev.Subject = SubjectRef{CustomerID: obj.Customer, SubscriptionID: obj.ID}
		ev.Status = stripeStatusToSubscriptionStatus(obj.Status)
		if obj.CancelAt > 0 {
			t := time.Unix(obj.CancelAt, 0).UTC()
			ev.CancelAt = &t
		} else if obj.CanceledAt > 0 {
			t := time.Unix(obj.CanceledAt, 0).UTC()
			ev.CancelAt = &t
		}

	case "customer.subscription.deleted":
		var obj struct {
			ID       string `json:"id"`
			Customer string `json:"customer"`
		}
		if err := json.Unmarshal(evp.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		ev.Type = EventSubscriptionCanceled
		ev.Subject = SubjectRef{CustomerID: obj.Customer, SubscriptionID: obj.ID}

	case "invoice.payment_succeeded", "invoice.paid":
		var obj struct {
			ID         string `json:"id"`
			Customer   string `json:"customer"`
			AmountPaid int64  `json:"amount_paid"`
			Currency   string `json:"currency"`
			Number     string `json:"number"`
		}
		if err := json.Unmarshal(evp.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		ev.Type = EventPaymentSucceeded
		ev.Subject = SubjectRef{CustomerID: obj.Customer}
		ev.PaymentID = obj.ID
		ev.Amount = obj.AmountPaid
		ev.Currency = obj.Currency
		ev.Description = "invoice " + obj.Number

	case "invoice.payment_failed":
		var obj struct {
			ID        string `json:"id"`
			Customer  string `json:"customer"`
			AmountDue int64  `json:"amount_due"`
			Currency  string `json:"currency"`
			Number    string `json:"number"`
		}
		if err := json.Unmarshal(evp.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		ev.Type = EventPaymentFailed
		ev.Subject = SubjectRef{CustomerID: obj.Customer}
		ev.PaymentID = obj.ID
		ev.Amount = obj.AmountDue
		ev.Currency = obj.Currency
		ev.Description = "invoice " + obj.Number

	default:
		ev.Type = EventUnrecognized
	}

	return ev, nil
}

func (g *StripeGateway) CreateCustomer(_ context.Context, m *models.Member) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(m.Email),
		Name:  stripe.String(m.Name),
	}
	params.AddMetadata("member_id", strconv.FormatUint(uint64(m.ID), 10))
	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create customer: %w", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) CreateCheckoutSession(_ context.Context, p CheckoutParams) (string, error) {
	memberID := strconv.FormatUint(uint64(p.Member.ID), 10)
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(p.CustomerID),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.Price.PriceRef),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"member_id": memberID,
				"tier":      p.Tier,
			},
		},
	}
	params.AddMetadata("member_id", memberID)
	params.AddMetadata("tier", p.Tier)

	s, err := cosession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create checkout session: %w", err)
	}
	return s.URL, nil
}

func (g *StripeGateway) CreatePortalSession(_ context.Context, customerID, _ string, returnURL string) (string, error) {
	s, err := bpsession.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return "", fmt.Errorf("stripe create portal session: %w", err)
	}
	return s.URL, nil
}

func stripeStatusToSubscriptionStatus(status string) string {
	switch status {
	case "active":
		return models.SubscriptionStatusActive
	case "trialing":
		return models.SubscriptionStatusTrialing
	case "past_due", "unpaid", "incomplete":
		return models.SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return models.SubscriptionStatusCanceled
	default:
		return models.SubscriptionStatusPastDue
	}
}

func parseMemberID(s string) uint {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}
