package domain

import "time"

// PaymentTransactionLog is an append-only trail correlating gateway
// transactions with bookings.
type PaymentTransactionLog struct {
	ID               int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	BookingID        string    `json:"booking_id" gorm:"type:varchar(64);index"`
	PaymentReference string    `json:"payment_reference" gorm:"type:varchar(128);index"`
	EventID          string    `json:"event_id" gorm:"type:varchar(128);index"`
	Kind             string    `json:"kind" gorm:"type:varchar(64);not null"`
	Amount           int64     `json:"amount"`
	Status           string    `json:"status" gorm:"type:varchar(32)"`
	Detail           string    `json:"detail" gorm:"type:text"`
	CreatedAt        time.Time `json:"created_at"`
}

func (PaymentTransactionLog) TableName() string { return "payment_transaction_logs" }

// AuditEntry records a failure with enough context for manual reconciliation.
type AuditEntry struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	EventID   string    `json:"event_id" gorm:"type:varchar(128);index"`
	BookingID string    `json:"booking_id" gorm:"type:varchar(64);index"`
	Component string    `json:"component" gorm:"type:varchar(32);not null"`
	Action    string    `json:"action" gorm:"type:varchar(64);not null"`
	Kind      string    `json:"kind" gorm:"type:varchar(32)"`
	Error     string    `json:"error" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

func (AuditEntry) TableName() string { return "audit_logs" }
