package notification

import (
	"time"

	"courtbook/internal/domain"
)

// Confirmation is the message published on booking.confirmed. Email, PDF
// and wallet-pass services render from it.
type Confirmation struct {
	BookingID        string    `json:"booking_id"`
	InvoiceNumber    string    `json:"invoice_number,omitempty"`
	VenueID          string    `json:"venue_id"`
	CourtID          string    `json:"court_id"`
	UserID           string    `json:"user_id,omitempty"`
	Date             string    `json:"date"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	Price            int64     `json:"price"`
	Currency         string    `json:"currency"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	Recovered        bool      `json:"recovered,omitempty"`
	SentAt           time.Time `json:"sent_at"`
}

func confirmationFor(b *domain.Booking, at time.Time) Confirmation {
	c := Confirmation{
		BookingID:        b.ID,
		VenueID:          b.VenueID,
		CourtID:          b.CourtID,
		UserID:           b.UserID,
		Date:             b.Date,
		StartTime:        b.StartTime,
		EndTime:          b.EndTime,
		Price:            b.Price,
		Currency:         b.Currency,
		PaymentReference: b.Reference(),
		Recovered:        b.RecoveredFromPayment,
		SentAt:           at,
	}
	if b.InvoiceNumber != nil {
		c.InvoiceNumber = *b.InvoiceNumber
	}
	return c
}
