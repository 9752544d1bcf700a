package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/inkpress/inkpress/app/models"
)

// Parker hands a normalized event whose member cannot be resolved yet to
// the background queue for a bounded retry. Implemented by the job queue
// manager; an interface here keeps the engine free of queue imports.
type Parker interface {
	ParkEvent(ev *NormalizedEvent) error
}

// Notifier delivers member-facing billing notifications. Also implemented
// by the job queue manager.
type Notifier interface {
	EnqueueDunningNotice(memberID uint, email, gateway string) error
}

// Service is the reconciliation engine's front door. One instance is
// constructed at startup with all gateway adapters and shared by the
// webhook controller and the job queue.
type Service struct {
	repo     Repository
	gateways map[string]Gateway
	machine  *StateMachine
	checkout *CheckoutInitiator
	parker   Parker
	notifier Notifier
}

type ServiceConfig struct {
	Repository Repository
	Gateways   []Gateway
	Prices     PriceTable
	SuccessURL string
	CancelURL  string
	ReturnURL  string
}

func NewService(cfg ServiceConfig) *Service {
	gateways := make(map[string]Gateway, len(cfg.Gateways))
	for _, gw := range cfg.Gateways {
		gateways[gw.Name()] = gw
	}
	return &Service{
		repo:     cfg.Repository,
		gateways: gateways,
		machine:  NewStateMachine(cfg.Repository),
		checkout: NewCheckoutInitiator(cfg.Repository, gateways, cfg.Prices, cfg.SuccessURL, cfg.CancelURL, cfg.ReturnURL),
	}
}

// SetParker wires the background queue in after construction (the queue
// needs the service to process parked events, so the dependency is
// circular at startup).
func (s *Service) SetParker(p Parker) {
	s.parker = p
}

// SetNotifier wires member notification delivery in after construction.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Service) Checkout() *CheckoutInitiator {
	return s.checkout
}

func (s *Service) Repository() Repository {
	return s.repo
}

// HandleWebhook runs one raw delivery through the full pipeline:
// verify signature, normalize, admit through the idempotency gate, apply.
// Permanent failures (bad signature, malformed payload) happen before the
// gate so they leave no trace; transient failures after admission release
// the dedup record so the gateway's redelivery is re-admitted.
func (s *Service) HandleWebhook(ctx context.Context, gatewayName string, payload []byte, header HeaderFunc) (Outcome, error) {
	gw, ok := s.gateways[strings.ToLower(strings.TrimSpace(gatewayName))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownGateway, gatewayName)
	}

	if err := gw.VerifySignature(ctx, payload, header); err != nil {
		log.Warnf("[Billing] Rejected %s webhook: %v", gw.Name(), err)
		return "", err
	}

	ev, err := gw.Normalize(payload)
	if err != nil {
		log.Warnf("[Billing] Malformed %s webhook: %v", gw.Name(), err)
		return "", err
	}

	admitted, err := s.repo.MarkEventProcessed(&models.ProcessedEvent{
		Gateway:   ev.Gateway,
		EventID:   ev.EventID,
		EventType: string(ev.Type),
	})
	if err != nil {
		return "", err
	}
	if !admitted {
		log.Infof("[Billing] Duplicate %s event %s, acknowledging without effect", ev.Gateway, ev.EventID)
		return OutcomeDuplicate, nil
	}

	outcome, err := s.apply(ctx, ev)
	if err != nil {
		return "", err
	}
	log.Infof("[Billing] %s event %s (%s) %s", ev.Gateway, ev.EventID, ev.RawType, outcome)
	return outcome, nil
}

// apply runs an admitted event through the state machine, deciding what
// happens to the dedup record on failure.
func (s *Service) apply(ctx context.Context, ev *NormalizedEvent) (Outcome, error) {
	outcome, err := s.machine.Apply(ctx, ev)
	if err == nil {
		if outcome == OutcomeProcessed && ev.Type == EventPaymentFailed {
			s.notifyPaymentFailed(ev)
		}
		return outcome, nil
	}

	if errors.Is(err, ErrSubjectUnresolved) && s.parker != nil {
		// Checkout race: the confirming webhook can beat the checkout
		// response. Park and retry in the background; the dedup record
		// stays so the gateway's own redelivery is a clean duplicate.
		if perr := s.parker.ParkEvent(ev); perr != nil {
			s.release(ev)
			return "", perr
		}
		log.Infof("[Billing] Parked %s event %s: subject not resolvable yet", ev.Gateway, ev.EventID)
		return OutcomeParked, nil
	}

	// Transient failure after admission: release the gate so redelivery
	// gets another attempt.
	s.release(ev)
	return "", err
}

func (s *Service) release(ev *NormalizedEvent) {
	if err := s.repo.ReleaseEvent(ev.Gateway, ev.EventID); err != nil {
		log.Errorf("[Billing] Failed to release dedup record for %s event %s: %v", ev.Gateway, ev.EventID, err)
	}
}

// notifyPaymentFailed queues a dunning mail for the member behind a
// processed payment failure. Best effort; the event is already applied.
func (s *Service) notifyPaymentFailed(ev *NormalizedEvent) {
	if s.notifier == nil {
		return
	}
	m, err := s.machine.resolveMember(ev)
	if err != nil {
		return
	}
	if err := s.notifier.EnqueueDunningNotice(m.ID, m.Email, ev.Gateway); err != nil {
		log.Errorf("[Billing] Failed to queue dunning notice for member %d: %v", m.ID, err)
	}
}

// RetryEvent re-applies a parked event from the job queue. Returning
// ErrSubjectUnresolved makes the queue back off and retry until its
// budget runs out.
func (s *Service) RetryEvent(ctx context.Context, raw []byte) error {
	var ev NormalizedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("%w: parked event: %v", ErrMalformedPayload, err)
	}
	outcome, err := s.machine.Apply(ctx, &ev)
	if err != nil {
		return err
	}
	log.Infof("[Billing] Parked %s event %s resolved: %s", ev.Gateway, ev.EventID, outcome)
	return nil
}

// SubscriptionStatus is the member-facing view of billing state.
type SubscriptionStatus struct {
	Tier      string  `json:"tier"`
	Status    string  `json:"status"`
	Gateway   string  `json:"gateway,omitempty"`
	StartDate *string `json:"start_date,omitempty"`
	EndDate   *string `json:"end_date,omitempty"`
}

// GetSubscriptionStatus reloads the member and reports current tier and
// status with the subscription window.
func (s *Service) GetSubscriptionStatus(memberID uint) (*SubscriptionStatus, error) {
	m, err := s.repo.GetMemberByID(memberID)
	if err != nil {
		return nil, err
	}
	st := &SubscriptionStatus{
		Tier:    m.Tier,
		Status:  m.SubscriptionStatus,
		Gateway: m.Gateway,
	}
	if m.SubscriptionStartDate != nil {
		v := m.SubscriptionStartDate.UTC().Format("2006-01-02T15:04:05Z07:00")
		st.StartDate = &v
	}
	if m.SubscriptionEndDate != nil {
		v := m.SubscriptionEndDate.UTC().Format("2006-01-02T15:04:05Z07:00")
		st.EndDate = &v
	}
	return st, nil
}

