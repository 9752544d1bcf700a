package models

import "time"

// GatewayCustomer links a member to their customer object at one gateway.
// The row is created lazily on first checkout and is immutable afterwards;
// a concurrent create loses on the unique index and the extra upstream
// customer is discarded.
type GatewayCustomer struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MemberID   uint      `gorm:"not null;index:ux_gateway_customers_member_gateway,unique,priority:1" json:"member_id"`
	Gateway    string    `gorm:"type:varchar(20);not null;index:ux_gateway_customers_member_gateway,unique,priority:2;index:ux_gateway_customers_ref,unique,priority:1" json:"gateway"`
	CustomerID string    `gorm:"type:varchar(191);not null;index:ux_gateway_customers_ref,unique,priority:2" json:"customer_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
