package domain

import "time"

type BookingStatus string

const (
	BookingHolding   BookingStatus = "holding"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentProcessing        PaymentStatus = "processing"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentCancelled         PaymentStatus = "cancelled"
	PaymentAbandoned         PaymentStatus = "abandoned"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

type RefundStatus string

const (
	RefundNone      RefundStatus = ""
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

const (
	AttentionSlotConflict = "slot_conflict"
	AttentionSlotsMissing = "slots_missing"
	AttentionRefundFailed = "refund_failed"
	// A second charge succeeded for a booking already settled by another.
	AttentionDuplicateCharge = "duplicate_charge"
)

type Booking struct {
	ID                   string         `json:"id" gorm:"primaryKey;type:varchar(64)"`
	VenueID              string         `json:"venue_id" gorm:"type:varchar(64);not null;index"`
	CourtID              string         `json:"court_id" gorm:"type:varchar(64);not null;index"`
	UserID               string         `json:"user_id" gorm:"type:varchar(64);index"`
	Date                 string         `json:"date" gorm:"type:varchar(10);not null;index"`
	StartTime            time.Time      `json:"start_time" gorm:"not null"`
	EndTime              time.Time      `json:"end_time" gorm:"not null"`
	Price                int64          `json:"price"`
	Currency             string         `json:"currency" gorm:"type:varchar(8)"`
	Status               BookingStatus  `json:"status" gorm:"type:varchar(20);not null;index"`
	PaymentStatus        PaymentStatus  `json:"payment_status" gorm:"type:varchar(32);not null;index"`
	PaymentReference     *string        `json:"payment_reference,omitempty" gorm:"type:varchar(128);uniqueIndex"`
	PaymentClaim         string         `json:"-" gorm:"type:varchar(64)"`
	PaymentClaimedAt     *time.Time     `json:"-"`
	InvoiceNumber        *string        `json:"invoice_number,omitempty" gorm:"type:varchar(32);uniqueIndex"`
	SlotsReserved        bool           `json:"slots_reserved" gorm:"not null;default:false"`
	LastActive           *time.Time     `json:"last_active,omitempty"`
	RecoveredFromPayment bool           `json:"recovered_from_payment" gorm:"not null;default:false"`
	AttentionReason      string         `json:"attention_reason,omitempty" gorm:"type:varchar(64)"`
	RefundReference      *string        `json:"refund_reference,omitempty" gorm:"type:varchar(128)"`
	RefundStatus         RefundStatus   `json:"refund_status,omitempty" gorm:"type:varchar(20)"`
	RefundAmount         int64          `json:"refund_amount,omitempty"`
	RefundReason         string         `json:"refund_reason,omitempty" gorm:"type:text"`
	ConfirmationSentAt   *time.Time     `json:"confirmation_sent_at,omitempty"`
	ConfirmationAttempts int            `json:"confirmation_attempts" gorm:"not null;default:0"`
	ConfirmationError    string         `json:"confirmation_error,omitempty" gorm:"type:text"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	CancelledAt          *time.Time     `json:"cancelled_at,omitempty"`
}

func (Booking) TableName() string { return "bookings" }

// Reference returns the payment reference or "" when none was created yet.
func (b *Booking) Reference() string {
	if b.PaymentReference == nil {
		return ""
	}
	return *b.PaymentReference
}

func (b *Booking) HasInvoice() bool {
	return b.InvoiceNumber != nil && *b.InvoiceNumber != ""
}

// ActivityAt is the last heartbeat, falling back to creation time.
func (b *Booking) ActivityAt() time.Time {
	if b.LastActive != nil {
		return *b.LastActive
	}
	return b.CreatedAt
}

func (b *Booking) Refunding() bool {
	return b.RefundStatus == RefundPending
}

// Terminal payment states never move again.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentRefunded
}

// Settled reports whether the payment has reached an outcome that a
// processing/failed/canceled signal must not overwrite.
func (s PaymentStatus) Settled() bool {
	switch s {
	case PaymentPaid, PaymentRefunded, PaymentPartiallyRefunded:
		return true
	}
	return false
}

// Unsettled states are still waiting for the gateway.
func (s PaymentStatus) Unsettled() bool {
	return s == "" || s == PaymentPending || s == PaymentProcessing
}

// FromStatesForProcessing lists payment states a processing signal may move.
func FromStatesForProcessing() []PaymentStatus {
	return []PaymentStatus{"", PaymentPending}
}

// FromStatesForFailure lists payment states a failed/canceled signal may move.
func FromStatesForFailure() []PaymentStatus {
	return []PaymentStatus{"", PaymentPending, PaymentProcessing}
}

// FromStatesForPaid lists payment states a succeeded signal may move. A late
// success outranks an earlier failure, cancellation or abandonment.
func FromStatesForPaid() []PaymentStatus {
	return []PaymentStatus{"", PaymentPending, PaymentProcessing, PaymentFailed, PaymentCancelled, PaymentAbandoned}
}

// FromStatesForAbandon lists payment states the staleness sweep may expire.
func FromStatesForAbandon() []PaymentStatus {
	return []PaymentStatus{"", PaymentPending, PaymentProcessing}
}

func CanTransition(from PaymentStatus, allowed []PaymentStatus) bool {
	for _, s := range allowed {
		if s == from {
			return true
		}
	}
	return false
}
