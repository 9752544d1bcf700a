package billing

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/inkpress/inkpress/app/models"
)

// fakeRepository is an in-memory Repository for engine tests.
type fakeRepository struct {
	mu sync.Mutex

	members   map[uint]*models.Member
	customers map[string]*models.GatewayCustomer // "gateway/customerID"
	byMember  map[string]*models.GatewayCustomer // "memberID/gateway"
	events    map[string]bool                    // "gateway/eventID"
	ledger    map[string]*models.PaymentLedgerEntry

	failUpdates int // next n CAS updates report a version conflict
	updateErr   error

	missCustomerLookups int // next n GetGatewayCustomer calls miss
}

func newFakeRepository(members ...*models.Member) *fakeRepository {
	r := &fakeRepository{
		members:   make(map[uint]*models.Member),
		customers: make(map[string]*models.GatewayCustomer),
		byMember:  make(map[string]*models.GatewayCustomer),
		events:    make(map[string]bool),
		ledger:    make(map[string]*models.PaymentLedgerEntry),
	}
	for _, m := range members {
		cp := *m
		r.members[m.ID] = &cp
	}
	return r
}

func (r *fakeRepository) GetMemberByID(id uint) (*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *fakeRepository) GetMemberByGatewayCustomer(gateway, customerID string) (*models.Member, error) {
	r.mu.Lock()
	gc, ok := r.customers[gateway+"/"+customerID]
	r.mu.Unlock()
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return r.GetMemberByID(gc.MemberID)
}

func (r *fakeRepository) GetMemberByGatewaySubscription(gateway, subscriptionID string) (*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.Gateway == gateway && m.GatewaySubscriptionID == subscriptionID && subscriptionID != "" {
			cp := *m
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepository) UpdateMemberBilling(m *models.Member, expectedVersion uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return false, r.updateErr
	}
	if r.failUpdates > 0 {
		r.failUpdates--
		return false, nil
	}
	stored, ok := r.members[m.ID]
	if !ok || stored.Version != expectedVersion {
		return false, nil
	}
	cp := *m
	cp.Version = expectedVersion + 1
	r.members[m.ID] = &cp
	m.Version = cp.Version
	return true, nil
}

func (r *fakeRepository) CreateGatewayCustomer(gc *models.GatewayCustomer) (bool, *models.GatewayCustomer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%d/%s", gc.MemberID, gc.Gateway)
	if existing, ok := r.byMember[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	cp := *gc
	r.byMember[key] = &cp
	r.customers[gc.Gateway+"/"+gc.CustomerID] = &cp
	out := cp
	return true, &out, nil
}

func (r *fakeRepository) GetGatewayCustomer(memberID uint, gateway string) (*models.GatewayCustomer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.missCustomerLookups > 0 {
		r.missCustomerLookups--
		return nil, gorm.ErrRecordNotFound
	}
	gc, ok := r.byMember[fmt.Sprintf("%d/%s", memberID, gateway)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *gc
	return &cp, nil
}

func (r *fakeRepository) MarkEventProcessed(event *models.ProcessedEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Gateway + "/" + event.EventID
	if r.events[key] {
		return false, nil
	}
	r.events[key] = true
	return true, nil
}

func (r *fakeRepository) ReleaseEvent(gateway, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, gateway+"/"+eventID)
	return nil
}

func (r *fakeRepository) AppendLedgerEntry(entry *models.PaymentLedgerEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entry.Gateway + "/" + entry.GatewayPaymentID
	if _, ok := r.ledger[key]; ok {
		return false, nil
	}
	cp := *entry
	r.ledger[key] = &cp
	return true, nil
}

func (r *fakeRepository) ListLedgerEntriesByMember(memberID uint) ([]models.PaymentLedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentLedgerEntry
	for _, e := range r.ledger {
		if e.MemberID == memberID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *fakeRepository) eventSeen(gateway, eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[gateway+"/"+eventID]
}

// fakeGateway is a scriptable Gateway for pipeline tests.
type fakeGateway struct {
	name string

	verifyErr    error
	normalized   *NormalizedEvent
	normalizeErr error

	customerID      string
	createCustomers int

	checkoutURL string
	portalURL   string
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) VerifySignature(_ context.Context, _ []byte, _ HeaderFunc) error {
	return g.verifyErr
}

func (g *fakeGateway) Normalize(_ []byte) (*NormalizedEvent, error) {
	if g.normalizeErr != nil {
		return nil, g.normalizeErr
	}
	cp := *g.normalized
	return &cp, nil
}

func (g *fakeGateway) CreateCustomer(_ context.Context, _ *models.Member) (string, error) {
	g.createCustomers++
	return g.customerID, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, _ CheckoutParams) (string, error) {
	return g.checkoutURL, nil
}

func (g *fakeGateway) CreatePortalSession(_ context.Context, _, _, _ string) (string, error) {
	return g.portalURL, nil
}

// fakeParker records parked events.
type fakeParker struct {
	parked []*NormalizedEvent
}

func (p *fakeParker) ParkEvent(ev *NormalizedEvent) error {
	p.parked = append(p.parked, ev)
	return nil
}
