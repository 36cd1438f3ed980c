package domain

import "time"

// ArchivedBooking is the cold copy of a booking whose date has long passed.
type ArchivedBooking struct {
	Booking
	ArchivedAt time.Time `json:"archived_at" gorm:"not null"`
}

func (ArchivedBooking) TableName() string { return "archived_bookings" }

// Models lists every entity managed by AutoMigrate on non-postgres databases.
func Models() []any {
	return []any{
		&Booking{},
		&MonthlyAvailability{},
		&WebhookEvent{},
		&SequenceCounter{},
		&PaymentTransactionLog{},
		&AuditEntry{},
		&ArchivedBooking{},
	}
}
