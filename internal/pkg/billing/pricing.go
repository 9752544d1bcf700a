package billing

import (
	"fmt"
	"strings"
)

// Price is one row of the pricing table: the display amount (minor units)
// for a (tier, currency) pair plus the gateway-specific price references
// needed to actually start a checkout. A row with no gateway refs is
// display-only and is rejected at checkout time.
type Price struct {
	Amount   int64
	Currency string
	// GatewayPriceRefs maps gateway name to its price/plan identifier.
	GatewayPriceRefs map[string]string
}

// ResolvedPrice is a Price pinned to one gateway.
type ResolvedPrice struct {
	Amount   int64
	Currency string
	PriceRef string
}

type priceKey struct {
	tier     string
	currency string
}

// PriceTable maps (tier, currency) to pricing rows. It is immutable after
// construction and safe for concurrent reads.
type PriceTable struct {
	rows map[priceKey]Price
}

// NewPriceTable builds a table from rows keyed "tier/currency".
func NewPriceTable(rows map[string]Price) PriceTable {
	t := PriceTable{rows: make(map[priceKey]Price, len(rows))}
	for k, p := range rows {
		parts := strings.SplitN(k, "/", 2)
		if len(parts) != 2 {
			continue
		}
		t.rows[priceKey{tier: normalize(parts[0]), currency: normalize(parts[1])}] = p
	}
	return t
}

// DefaultPriceTable is the production pricing catalogue. KES rows are
// display-only until the gateways carry KES plans.
func DefaultPriceTable() PriceTable {
	return NewPriceTable(map[string]Price{
		"premium/usd": {Amount: 999, Currency: "usd", GatewayPriceRefs: map[string]string{
			"stripe":   "price_premium_usd_monthly",
			"paypal":   "P-PREMIUM-USD-M",
			"paystack": "PLN_premium_usd",
		}},
		"premium/eur": {Amount: 899, Currency: "eur", GatewayPriceRefs: map[string]string{
			"stripe": "price_premium_eur_monthly",
			"paypal": "P-PREMIUM-EUR-M",
		}},
		"premium/ngn": {Amount: 450000, Currency: "ngn", GatewayPriceRefs: map[string]string{
			"paystack": "PLN_premium_ngn",
		}},
		"vip/usd": {Amount: 2499, Currency: "usd", GatewayPriceRefs: map[string]string{
			"stripe":   "price_vip_usd_monthly",
			"paypal":   "P-VIP-USD-M",
			"paystack": "PLN_vip_usd",
		}},
		"vip/eur": {Amount: 2299, Currency: "eur", GatewayPriceRefs: map[string]string{
			"stripe": "price_vip_eur_monthly",
			"paypal": "P-VIP-EUR-M",
		}},
		"vip/ngn": {Amount: 1150000, Currency: "ngn", GatewayPriceRefs: map[string]string{
			"paystack": "PLN_vip_ngn",
		}},
		"premium/kes": {Amount: 129900, Currency: "kes"},
		"vip/kes":     {Amount: 324900, Currency: "kes"},
	})
}

// Price returns the display row for (tier, currency).
func (t PriceTable) Price(tier, currency string) (Price, error) {
	p, ok := t.rows[priceKey{tier: normalize(tier), currency: normalize(currency)}]
	if !ok {
		return Price{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedCurrency, tier, currency)
	}
	return p, nil
}

// Resolve pins a price to one gateway. Display-only rows and rows the
// gateway has no reference for are rejected rather than silently falling
// back to another currency.
func (t PriceTable) Resolve(tier, currency, gateway string) (ResolvedPrice, error) {
	p, err := t.Price(tier, currency)
	if err != nil {
		return ResolvedPrice{}, err
	}
	ref, ok := p.GatewayPriceRefs[normalize(gateway)]
	if !ok || ref == "" {
		return ResolvedPrice{}, fmt.Errorf("%w: %s/%s has no %s price", ErrUnsupportedCurrency, tier, currency, gateway)
	}
	return ResolvedPrice{Amount: p.Amount, Currency: p.Currency, PriceRef: ref}, nil
}

// TierForPriceRef reverse-maps a gateway plan/price reference back to the
// internal tier. Used by normalizers whose events carry only plan codes.
func (t PriceTable) TierForPriceRef(gateway, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	g := normalize(gateway)
	for k, p := range t.rows {
		if p.GatewayPriceRefs[g] == ref {
			return k.tier, true
		}
	}
	return "", false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
