package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/inkpress/inkpress/app/models"
)

// casRetries bounds how often a transition is retried when a concurrent
// writer bumps the member's version between load and store.
const casRetries = 3

// StateMachine applies normalized events to member billing state. It is
// the only writer of tier/status and runs strictly after the idempotency
// guard has admitted the event.
//
// Ordering policy: deliveries are not ordered, so transitions are decided
// by event semantics and the gateway's own event timestamps, not arrival
// time. A cancellation is terminal against any older event: an update or
// payment failure whose timestamp predates the member's cancellation
// marker is discarded as stale.
type StateMachine struct {
	repo   Repository
	ledger *LedgerWriter
}

func NewStateMachine(repo Repository) *StateMachine {
	return &StateMachine{repo: repo, ledger: NewLedgerWriter(repo)}
}

// Apply runs one normalized event against member state and the ledger.
// ErrSubjectUnresolved means the member could not be found yet (checkout
// race); the caller parks the event for a bounded retry.
func (sm *StateMachine) Apply(ctx context.Context, ev *NormalizedEvent) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch ev.Type {
	case EventCheckoutCompleted:
		return sm.applyCheckoutCompleted(ev)
	case EventSubscriptionUpdated:
		return sm.applySubscriptionUpdated(ev)
	case EventSubscriptionCanceled:
		return sm.applySubscriptionCanceled(ev)
	case EventPaymentSucceeded:
		return sm.applyPaymentSucceeded(ev)
	case EventPaymentFailed:
		return sm.applyPaymentFailed(ev)
	case EventUnrecognized:
		log.Infof("[Billing] Ignoring unrecognized %s event %s (type=%s)", ev.Gateway, ev.EventID, ev.RawType)
		return OutcomeIgnored, nil
	default:
		return "", fmt.Errorf("billing: unhandled event type %q", ev.Type)
	}
}

// resolveMember finds the member an event refers to, trying the embedded
// member id first, then the gateway customer link, then the subscription
// reference.
func (sm *StateMachine) resolveMember(ev *NormalizedEvent) (*models.Member, error) {
	if ev.Subject.MemberID != 0 {
		m, err := sm.repo.GetMemberByID(ev.Subject.MemberID)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if ev.Subject.CustomerID != "" {
		m, err := sm.repo.GetMemberByGatewayCustomer(ev.Gateway, ev.Subject.CustomerID)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if ev.Subject.SubscriptionID != "" {
		m, err := sm.repo.GetMemberByGatewaySubscription(ev.Gateway, ev.Subject.SubscriptionID)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s event %s", ErrSubjectUnresolved, ev.Gateway, ev.EventID)
}

// supersededByCancellation implements the last-writer-wins-by-semantics
// rule: a member whose cancellation marker is newer than the incoming
// event must not be resurrected or downgraded by it.
func supersededByCancellation(m *models.Member, ev *NormalizedEvent) bool {
	return m.CanceledAt != nil && !ev.Timestamp.IsZero() && ev.Timestamp.Before(*m.CanceledAt)
}

// mutate loads-mutates-stores a member under the version CAS, retrying a
// bounded number of times. The apply func returns false to abort without
// writing (stale event).
func (sm *StateMachine) mutate(memberID uint, apply func(*models.Member) bool) (Outcome, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		m, err := sm.repo.GetMemberByID(memberID)
		if err != nil {
			return "", err
		}
		if !apply(m) {
			return OutcomeStale, nil
		}
		ok, err := sm.repo.UpdateMemberBilling(m, m.Version)
		if err != nil {
			return "", err
		}
		if ok {
			return OutcomeProcessed, nil
		}
		log.Warnf("[Billing] CAS conflict updating member %d (attempt %d/%d)", memberID, attempt+1, casRetries)
	}
	return "", fmt.Errorf("billing: member %d version conflict after %d attempts", memberID, casRetries)
}

func (sm *StateMachine) applyCheckoutCompleted(ev *NormalizedEvent) (Outcome, error) {
	if !models.IsKnownTier(ev.Tier) {
		return "", fmt.Errorf("%w: checkout event %s carries no known tier", ErrMalformedPayload, ev.EventID)
	}

	m, err := sm.resolveMember(ev)
	if err != nil {
		return "", err
	}

	// Record the gateway customer link as soon as it is known so later
	// payment events resolve without metadata.
	if ev.Subject.CustomerID != "" {
		created, _, err := sm.repo.CreateGatewayCustomer(&models.GatewayCustomer{
			MemberID:   m.ID,
			Gateway:    ev.Gateway,
			CustomerID: ev.Subject.CustomerID,
		})
		if err != nil {
			return "", err
		}
		if !created {
			log.Debugf("[Billing] Gateway customer link %s/%s already present for member %d", ev.Gateway, ev.Subject.CustomerID, m.ID)
		}
	}

	start := ev.Timestamp
	if start.IsZero() {
		start = time.Now().UTC()
	}

	return sm.mutate(m.ID, func(m *models.Member) bool {
		if supersededByCancellation(m, ev) {
			log.Infof("[Billing] Discarding stale checkout event %s/%s for member %d", ev.Gateway, ev.EventID, m.ID)
			return false
		}
		m.Tier = ev.Tier
		m.SubscriptionStatus = models.SubscriptionStatusActive
		m.Gateway = ev.Gateway
		m.GatewaySubscriptionID = ev.Subject.SubscriptionID
		m.SubscriptionStartDate = &start
		m.SubscriptionEndDate = nil
		m.CanceledAt = nil
		return true
	})
}

func (sm *StateMachine) applySubscriptionUpdated(ev *NormalizedEvent) (Outcome, error) {
	m, err := sm.resolveMember(ev)
	if err != nil {
		return "", err
	}

	return sm.mutate(m.ID, func(m *models.Member) bool {
		if supersededByCancellation(m, ev) {
			log.Infof("[Billing] Discarding stale update event %s/%s for member %d", ev.Gateway, ev.EventID, m.ID)
			return false
		}
		m.SubscriptionStatus = ev.Status
		m.SubscriptionEndDate = ev.CancelAt
		if ev.Status == models.SubscriptionStatusCanceled {
			ts := ev.Timestamp
			m.CanceledAt = &ts
			if m.SubscriptionEndDate == nil {
				m.SubscriptionEndDate = &ts
			}
		}
		return true
	})
}

func (sm *StateMachine) applySubscriptionCanceled(ev *NormalizedEvent) (Outcome, error) {
	m, err := sm.resolveMember(ev)
	if err != nil {
		return "", err
	}

	end := ev.Timestamp
	if end.IsZero() {
		end = time.Now().UTC()
	}

	return sm.mutate(m.ID, func(m *models.Member) bool {
		if m.CanceledAt != nil && !end.After(*m.CanceledAt) {
			return false
		}
		m.Tier = models.TierFree
		m.SubscriptionStatus = models.SubscriptionStatusCanceled
		m.GatewaySubscriptionID = ""
		m.SubscriptionEndDate = &end
		m.CanceledAt = &end
		return true
	})
}

func (sm *StateMachine) applyPaymentSucceeded(ev *NormalizedEvent) (Outcome, error) {
	m, err := sm.resolveMember(ev)
	if err != nil {
		return "", err
	}

	// Successful payments only feed the ledger; tier and status are owned
	// by the subscription events.
	if _, err := sm.ledger.Record(m.ID, ev.Gateway, ev.PaymentID, ev.Amount, ev.Currency, models.PaymentStatusSucceeded, ev.Description); err != nil {
		return "", err
	}
	return OutcomeProcessed, nil
}

func (sm *StateMachine) applyPaymentFailed(ev *NormalizedEvent) (Outcome, error) {
	m, err := sm.resolveMember(ev)
	if err != nil {
		return "", err
	}

	// The attempt is recorded even when the status change below turns out
	// to be stale; the ledger is an audit trail, not current state.
	if ev.PaymentID != "" {
		if _, err := sm.ledger.Record(m.ID, ev.Gateway, ev.PaymentID, ev.Amount, ev.Currency, models.PaymentStatusFailed, ev.Description); err != nil {
			return "", err
		}
	}

	return sm.mutate(m.ID, func(m *models.Member) bool {
		if supersededByCancellation(m, ev) {
			log.Infof("[Billing] Discarding stale payment-failed event %s/%s for member %d", ev.Gateway, ev.EventID, m.ID)
			return false
		}
		m.SubscriptionStatus = models.SubscriptionStatusPastDue
		return true
	})
}
