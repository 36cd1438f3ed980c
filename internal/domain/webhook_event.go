package domain

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent is the durable record of one inbound gateway event. Its ID is
// the gateway-assigned event id and acts as the idempotency key.
type WebhookEvent struct {
	ID          string         `json:"id" gorm:"primaryKey;type:varchar(128)"`
	Type        string         `json:"type" gorm:"type:varchar(64);not null;index"`
	RawPayload  datatypes.JSON `json:"raw_payload"`
	BookingID   string         `json:"booking_id,omitempty" gorm:"type:varchar(64);index"`
	Processed   bool           `json:"processed" gorm:"not null;default:false;index"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	Result      string         `json:"result,omitempty" gorm:"type:varchar(64)"`
	Error       string         `json:"error,omitempty" gorm:"type:text"`
	Attempts    int            `json:"attempts" gorm:"not null;default:0"`
	ReceivedAt  time.Time      `json:"received_at" gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
