package billing

import (
	"encoding/json"
	"time"
)

// EventType is the tagged variant the normalizers produce. The state
// machine is written against these and knows nothing about provider
// event schemas.
type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout_completed"
	EventSubscriptionUpdated  EventType = "subscription_updated"
	EventSubscriptionCanceled EventType = "subscription_canceled"
	EventPaymentSucceeded     EventType = "payment_succeeded"
	EventPaymentFailed        EventType = "payment_failed"
	EventUnrecognized         EventType = "unrecognized"
)

// SubjectRef carries whichever identifiers the gateway exposed for the
// affected member. Resolution tries MemberID, then CustomerID, then
// SubscriptionID.
type SubjectRef struct {
	MemberID       uint   `json:"member_id,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// NormalizedEvent is the provider-agnostic event shape produced by the
// gateway adapters. EventID is only unique within one gateway and must be
// gateway-qualified before use as a dedup key.
type NormalizedEvent struct {
	Gateway string     `json:"gateway"`
	EventID string     `json:"event_id"`
	Type    EventType  `json:"type"`
	RawType string     `json:"raw_type"`
	Subject SubjectRef `json:"subject"`

	// Checkout events.
	Tier string `json:"tier,omitempty"`

	// Subscription update events.
	Status   string     `json:"status,omitempty"`
	CancelAt *time.Time `json:"cancel_at,omitempty"`

	// Payment events. Amount is in minor units.
	PaymentID   string `json:"payment_id,omitempty"`
	Amount      int64  `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Description string `json:"description,omitempty"`

	// Timestamp is the gateway's own event time, used by the ordering
	// policy, not the wall clock of receipt.
	Timestamp time.Time       `json:"timestamp"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Outcome describes how a webhook delivery was concluded. Everything but
// a returned error is acknowledged 200 to the gateway.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeStale     Outcome = "stale"
	OutcomeParked    Outcome = "parked"
)
