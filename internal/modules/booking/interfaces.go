package booking

import (
	"context"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/gateway"
	"courtbook/internal/modules/reservation"
	"courtbook/internal/repository"
)

// BookingRepository defines the booking store operations the state machine
// needs. Every write that depends on the current state is a conditional
// Transition.
type BookingRepository interface {
	Create(ctx context.Context, b *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	GetByPaymentReference(ctx context.Context, ref string) (*domain.Booking, error)
	Transition(ctx context.Context, id string, guard repository.Guard, fields map[string]interface{}) (bool, error)
	Update(ctx context.Context, id string, fields map[string]interface{}) error
	Touch(ctx context.Context, id string, at time.Time) (bool, error)
	ClaimPayment(ctx context.Context, id, claim string, at, staleBefore time.Time) (bool, error)
	ReleasePaymentClaim(ctx context.Context, id, claim string) error
	SetPaymentReference(ctx context.Context, id, ref, claim string, at time.Time) (bool, error)
}

type AvailabilityReader interface {
	Get(ctx context.Context, venueID, month string) (*domain.MonthlyAvailability, error)
}

type SlotReserver interface {
	Reserve(ctx context.Context, b *domain.Booking) (reservation.Outcome, error)
	Release(ctx context.Context, b *domain.Booking) error
}

type InvoiceMinter interface {
	MintInvoice(ctx context.Context, bookingID string) (string, error)
}

type PaymentGateway interface {
	CreatePayment(ctx context.Context, req gateway.CreatePaymentRequest) (*gateway.Payment, error)
	GetPayment(ctx context.Context, reference string) (*gateway.Payment, error)
}
