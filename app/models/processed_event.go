package models

import "time"

// ProcessedEvent is the dedup store for webhook deliveries. Existence of a
// row for (gateway, event_id) is the sole gate against re-application; the
// check-and-insert happens via an ON CONFLICT DO NOTHING create so that two
// concurrent deliveries of the same event cannot both pass.
type ProcessedEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Gateway     string    `gorm:"type:varchar(20);not null;index:ux_processed_events_gateway_event,unique,priority:1" json:"gateway"`
	EventID     string    `gorm:"type:varchar(191);not null;index:ux_processed_events_gateway_event,unique,priority:2" json:"event_id"`
	EventType   string    `gorm:"type:varchar(100);not null;default:''" json:"event_type"`
	ProcessedAt time.Time `gorm:"autoCreateTime;index" json:"processed_at"`
}
