package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/inkpress/inkpress/app/models"
)

// CheckoutInitiator opens hosted checkout and billing-portal sessions. It
// owns the lazy creation of gateway customer records: the first checkout a
// member starts against a gateway creates the provider-side customer, and
// concurrent first checkouts are resolved by the unique (member, gateway)
// constraint, with the losing provider-side customer discarded.
type CheckoutInitiator struct {
	repo     Repository
	gateways map[string]Gateway
	prices   PriceTable

	successURL string
	cancelURL  string
	returnURL  string
}

func NewCheckoutInitiator(repo Repository, gateways map[string]Gateway, prices PriceTable, successURL, cancelURL, returnURL string) *CheckoutInitiator {
	return &CheckoutInitiator{
		repo:       repo,
		gateways:   gateways,
		prices:     prices,
		successURL: successURL,
		cancelURL:  cancelURL,
		returnURL:  returnURL,
	}
}

func (c *CheckoutInitiator) gateway(name string) (Gateway, error) {
	gw, ok := c.gateways[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, name)
	}
	return gw, nil
}

// StartCheckout opens a hosted checkout for upgrading member to tier,
// billed in currency through the named gateway. Returns the redirect URL.
func (c *CheckoutInitiator) StartCheckout(ctx context.Context, member *models.Member, gatewayName, tier, currency string) (string, error) {
	gw, err := c.gateway(gatewayName)
	if err != nil {
		return "", err
	}
	if !models.IsKnownTier(tier) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	if member.Tier == tier && member.HasActiveSubscription() {
		return "", ErrAlreadyOnTier
	}
	// One billing relationship at a time: an active subscription on another
	// gateway must be canceled before checking out elsewhere.
	if member.HasActiveSubscription() && member.Gateway != "" && member.Gateway != gw.Name() {
		return "", fmt.Errorf("%w: active subscription via %s", ErrGatewayMismatch, member.Gateway)
	}

	price, err := c.prices.Resolve(tier, currency, gw.Name())
	if err != nil {
		return "", err
	}

	customerID, err := c.ensureGatewayCustomer(ctx, gw, member)
	if err != nil {
		return "", err
	}

	return gw.CreateCheckoutSession(ctx, CheckoutParams{
		Member:     member,
		CustomerID: customerID,
		Tier:       tier,
		Price:      price,
		SuccessURL: c.successURL,
		CancelURL:  c.cancelURL,
	})
}

// StartPortalSession opens the gateway's self-service portal for an
// existing subscription.
func (c *CheckoutInitiator) StartPortalSession(ctx context.Context, member *models.Member, gatewayName string) (string, error) {
	gw, err := c.gateway(gatewayName)
	if err != nil {
		return "", err
	}
	if member.Gateway != gw.Name() || member.GatewaySubscriptionID == "" {
		return "", ErrNoActiveSubscription
	}

	gc, err := c.repo.GetGatewayCustomer(member.ID, gw.Name())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNoActiveSubscription
		}
		return "", err
	}

	return gw.CreatePortalSession(ctx, gc.CustomerID, member.GatewaySubscriptionID, c.returnURL)
}

// ensureGatewayCustomer returns the member's customer id at the gateway,
// creating it on first use. Two concurrent first checkouts both create an
// upstream customer; the insert race picks one winner and the loser's
// upstream customer is abandoned (providers tolerate orphaned customers,
// our side must stay unique).
func (c *CheckoutInitiator) ensureGatewayCustomer(ctx context.Context, gw Gateway, member *models.Member) (string, error) {
	gc, err := c.repo.GetGatewayCustomer(member.ID, gw.Name())
	if err == nil {
		return gc.CustomerID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	customerID, err := gw.CreateCustomer(ctx, member)
	if err != nil {
		return "", fmt.Errorf("create %s customer for member %d: %w", gw.Name(), member.ID, err)
	}
	if customerID == "" {
		// Provider has no customer objects; the link is recorded when the
		// first webhook carrying one arrives.
		return "", nil
	}

	created, stored, err := c.repo.CreateGatewayCustomer(&models.GatewayCustomer{
		MemberID:   member.ID,
		Gateway:    gw.Name(),
		CustomerID: customerID,
	})
	if err != nil {
		return "", err
	}
	if !created && stored.CustomerID != customerID {
		log.Warnf("[Billing] Concurrent customer creation for member %d at %s, discarding %s in favor of %s",
			member.ID, gw.Name(), customerID, stored.CustomerID)
	}
	return stored.CustomerID, nil
}
