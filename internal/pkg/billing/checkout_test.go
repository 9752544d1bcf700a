package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/inkpress/inkpress/app/models"
)

func newTestCheckout(repo Repository, gw Gateway) *CheckoutInitiator {
	return NewCheckoutInitiator(repo, map[string]Gateway{gw.Name(): gw}, DefaultPriceTable(),
		"https://example.com/success", "https://example.com/cancel", "https://example.com/account")
}

func TestStartCheckout(t *testing.T) {
	repo := newFakeRepository(testMember())
	gw := &fakeGateway{name: models.GatewayStripe, customerID: "cus_new", checkoutURL: "https://pay.example/cs_1"}
	ci := newTestCheckout(repo, gw)

	m, _ := repo.GetMemberByID(1)
	url, err := ci.StartCheckout(context.Background(), m, "stripe", models.TierPremium, "usd")
	if err != nil {
		t.Fatalf("StartCheckout failed: %v", err)
	}
	if url != "https://pay.example/cs_1" {
		t.Fatalf("url = %q", url)
	}
	if gw.createCustomers != 1 {
		t.Fatalf("expected 1 upstream customer creation, got %d", gw.createCustomers)
	}

	gc, err := repo.GetGatewayCustomer(1, models.GatewayStripe)
	if err != nil {
		t.Fatalf("customer link not recorded: %v", err)
	}
	if gc.CustomerID != "cus_new" {
		t.Fatalf("customer id = %q", gc.CustomerID)
	}

	// Second checkout reuses the stored customer.
	if _, err := ci.StartCheckout(context.Background(), m, "stripe", models.TierVIP, "usd"); err != nil {
		t.Fatalf("second checkout failed: %v", err)
	}
	if gw.createCustomers != 1 {
		t.Fatalf("second checkout created another upstream customer")
	}
}

func TestStartCheckoutAlreadyOnTier(t *testing.T) {
	m := testMember()
	m.Tier = models.TierPremium
	m.SubscriptionStatus = models.SubscriptionStatusActive
	m.Gateway = models.GatewayStripe
	repo := newFakeRepository(m)
	ci := newTestCheckout(repo, &fakeGateway{name: models.GatewayStripe})

	if _, err := ci.StartCheckout(context.Background(), m, "stripe", models.TierPremium, "usd"); !errors.Is(err, ErrAlreadyOnTier) {
		t.Fatalf("expected ErrAlreadyOnTier, got %v", err)
	}

	// Upgrading to a higher tier is allowed.
	gw := &fakeGateway{name: models.GatewayStripe, customerID: "cus_1", checkoutURL: "https://pay.example/cs_2"}
	ci = newTestCheckout(repo, gw)
	if _, err := ci.StartCheckout(context.Background(), m, "stripe", models.TierVIP, "usd"); err != nil {
		t.Fatalf("upgrade checkout failed: %v", err)
	}
}

func TestStartCheckoutGatewayMismatch(t *testing.T) {
	m := testMember()
	m.Tier = models.TierPremium
	m.SubscriptionStatus = models.SubscriptionStatusActive
	m.Gateway = models.GatewayPayPal
	repo := newFakeRepository(m)
	ci := newTestCheckout(repo, &fakeGateway{name: models.GatewayStripe})

	if _, err := ci.StartCheckout(context.Background(), m, "stripe", models.TierVIP, "usd"); !errors.Is(err, ErrGatewayMismatch) {
		t.Fatalf("expected ErrGatewayMismatch, got %v", err)
	}
}

func TestStartCheckoutUnsupportedCurrency(t *testing.T) {
	repo := newFakeRepository(testMember())
	ci := newTestCheckout(repo, &fakeGateway{name: models.GatewayStripe})
	m, _ := repo.GetMemberByID(1)

	// KES rows are display-only.
	if _, err := ci.StartCheckout(context.Background(), m, "stripe", models.TierPremium, "kes"); !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
	// NGN exists only at paystack.
	if _, err := ci.StartCheckout(context.Background(), m, "stripe", models.TierPremium, "ngn"); !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency for ngn at stripe, got %v", err)
	}
}

func TestStartCheckoutUnknownTier(t *testing.T) {
	repo := newFakeRepository(testMember())
	ci := newTestCheckout(repo, &fakeGateway{name: models.GatewayStripe})
	m, _ := repo.GetMemberByID(1)

	for _, tier := range []string{"free", "platinum", ""} {
		if _, err := ci.StartCheckout(context.Background(), m, "stripe", tier, "usd"); !errors.Is(err, ErrUnknownTier) {
			t.Fatalf("tier %q: expected ErrUnknownTier, got %v", tier, err)
		}
	}
}

// Two concurrent first checkouts both create an upstream customer; the
// insert race picks one winner and the loser's id is discarded.
func TestEnsureGatewayCustomerRace(t *testing.T) {
	repo := newFakeRepository(testMember())
	// The other request won the insert while ours was still talking to
	// the provider.
	if _, _, err := repo.CreateGatewayCustomer(&models.GatewayCustomer{
		MemberID: 1, Gateway: models.GatewayStripe, CustomerID: "cus_winner",
	}); err != nil {
		t.Fatal(err)
	}
	repo.missCustomerLookups = 1

	gw := &fakeGateway{name: models.GatewayStripe, customerID: "cus_loser"}
	ci := newTestCheckout(repo, gw)
	m, _ := repo.GetMemberByID(1)

	id, err := ci.ensureGatewayCustomer(context.Background(), gw, m)
	if err != nil {
		t.Fatalf("ensureGatewayCustomer failed: %v", err)
	}
	if id != "cus_winner" {
		t.Fatalf("expected surviving customer id cus_winner, got %q", id)
	}
	if gw.createCustomers != 1 {
		t.Fatalf("expected one upstream creation attempt, got %d", gw.createCustomers)
	}

	gc, _ := repo.GetGatewayCustomer(1, models.GatewayStripe)
	if gc.CustomerID != "cus_winner" {
		t.Fatalf("stored link changed: %q", gc.CustomerID)
	}
}

func TestStartPortalSession(t *testing.T) {
	m := testMember()
	m.Tier = models.TierPremium
	m.SubscriptionStatus = models.SubscriptionStatusActive
	m.Gateway = models.GatewayStripe
	m.GatewaySubscriptionID = "sub_1"
	repo := newFakeRepository(m)
	if _, _, err := repo.CreateGatewayCustomer(&models.GatewayCustomer{
		MemberID: 1, Gateway: models.GatewayStripe, CustomerID: "cus_1",
	}); err != nil {
		t.Fatal(err)
	}

	gw := &fakeGateway{name: models.GatewayStripe, portalURL: "https://portal.example/ps_1"}
	ci := newTestCheckout(repo, gw)

	url, err := ci.StartPortalSession(context.Background(), m, "stripe")
	if err != nil {
		t.Fatalf("StartPortalSession failed: %v", err)
	}
	if url != "https://portal.example/ps_1" {
		t.Fatalf("url = %q", url)
	}
}

func TestStartPortalSessionWithoutSubscription(t *testing.T) {
	repo := newFakeRepository(testMember())
	ci := newTestCheckout(repo, &fakeGateway{name: models.GatewayStripe})
	m, _ := repo.GetMemberByID(1)

	if _, err := ci.StartPortalSession(context.Background(), m, "stripe"); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription, got %v", err)
	}
}
