package live

import (
	"time"

	"courtbook/internal/domain"
)

const (
	EventStatus       = "status"
	EventHeartbeatAck = "heartbeat_ack"
	EventPong         = "pong"
	EventError        = "error"
)

// Event is pushed to the payment page.
type Event struct {
	Type      string      `json:"type"`
	BookingID string      `json:"booking_id"`
	Payload   interface{} `json:"payload,omitempty"`
}

type StatusPayload struct {
	Status        domain.BookingStatus `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	InvoiceNumber string               `json:"invoice_number,omitempty"`
	Attention     string               `json:"attention,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// clientMessage is what the page sends: heartbeat or ping.
type clientMessage struct {
	Type string `json:"type"`
}

func statusEvent(b *domain.Booking) *Event {
	p := StatusPayload{
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		Attention:     b.AttentionReason,
	}
	if b.InvoiceNumber != nil {
		p.InvoiceNumber = *b.InvoiceNumber
	}
	return &Event{Type: EventStatus, BookingID: b.ID, Payload: p}
}

func heartbeatAck(bookingID string, at time.Time) *Event {
	return &Event{Type: EventHeartbeatAck, BookingID: bookingID, Payload: map[string]time.Time{"last_active": at}}
}

func errorEvent(bookingID, code, message string) *Event {
	return &Event{Type: EventError, BookingID: bookingID, Payload: ErrorPayload{Code: code, Message: message}}
}
