package models

import "time"

const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// PaymentLedgerEntry is one append-only payment-attempt record. Rows are
// never updated or deleted; (gateway, gateway_payment_id) is the natural
// idempotency key, so a retried webhook cannot produce a second row.
type PaymentLedgerEntry struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	MemberID         uint      `gorm:"not null;index" json:"member_id"`
	Gateway          string    `gorm:"type:varchar(20);not null;index:ux_payment_ledger_gateway_payment,unique,priority:1" json:"gateway"`
	GatewayPaymentID string    `gorm:"type:varchar(191);not null;index:ux_payment_ledger_gateway_payment,unique,priority:2" json:"gateway_payment_id"`
	Amount           int64     `gorm:"not null" json:"amount"`
	Currency         string    `gorm:"type:varchar(8);not null" json:"currency"`
	Status           string    `gorm:"type:varchar(16);not null" json:"status"`
	Description      string    `gorm:"type:varchar(255);default:''" json:"description"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
