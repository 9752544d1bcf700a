package billing

import (
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/inkpress/inkpress/app/models"
)

// LedgerWriter appends immutable payment-attempt records. It is idempotent
// on (gateway, gatewayPaymentID): this guards against duplicates that slip
// past the event-level dedup, e.g. an invoice-level and a charge-level
// event referencing the same payment.
type LedgerWriter struct {
	repo Repository
}

func NewLedgerWriter(repo Repository) *LedgerWriter {
	return &LedgerWriter{repo: repo}
}

// Record appends one payment attempt. A duplicate payment id is a no-op,
// logged as informational, never an error.
func (w *LedgerWriter) Record(memberID uint, gateway, gatewayPaymentID string, amount int64, currency, status, description string) (bool, error) {
	if strings.TrimSpace(gatewayPaymentID) == "" {
		return false, ErrMalformedPayload
	}

	entry := &models.PaymentLedgerEntry{
		MemberID:         memberID,
		Gateway:          gateway,
		GatewayPaymentID: strings.TrimSpace(gatewayPaymentID),
		Amount:           amount,
		Currency:         strings.ToLower(strings.TrimSpace(currency)),
		Status:           status,
		Description:      description,
	}
	created, err := w.repo.AppendLedgerEntry(entry)
	if err != nil {
		return false, err
	}
	if !created {
		log.Infof("[Billing] Ledger entry %s/%s already recorded, skipping", gateway, gatewayPaymentID)
	}
	return created, nil
}
