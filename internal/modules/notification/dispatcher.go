package notification

import (
	"context"

	"courtbook/internal/domain"
	"courtbook/internal/modules/booking"
	"courtbook/internal/pkg/clock"
	"courtbook/internal/pkg/queue"

	"go.uber.org/zap"
)

const (
	ReasonPaid  = "paid"
	ReasonRetry = "retry"
)

// Dispatcher turns booking transitions into confirmation jobs.
type Dispatcher struct {
	queue    jobQueue
	bookings bookingStore
	clock    clock.Clock
	logger   *zap.Logger
}

func NewDispatcher(q jobQueue, bookings bookingStore, clk clock.Clock, logger *zap.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: q, bookings: bookings, clock: clk, logger: logger}
}

// Attach subscribes the dispatcher to the booking service.
func (d *Dispatcher) Attach(svc interface{ OnTransition(booking.Listener) }) {
	svc.OnTransition(d.Listen)
}

// Listen enqueues a confirmation the first time a booking becomes paid.
func (d *Dispatcher) Listen(ctx context.Context, t booking.Transition) {
	b := t.Booking
	if b == nil || b.PaymentStatus != domain.PaymentPaid || t.From.Settled() {
		return
	}
	if b.ConfirmationSentAt != nil {
		return
	}
	err := d.queue.EnqueueConfirmation(ctx, queue.ConfirmationPayload{BookingID: b.ID, Reason: ReasonPaid})
	if err == nil {
		return
	}
	d.logger.Error("enqueue confirmation failed", zap.String("booking_id", b.ID), zap.Error(err))
	// the retry sweep picks it up from the attempt counter
	if rerr := d.bookings.RecordConfirmationFailure(ctx, b.ID, "enqueue: "+err.Error(), d.clock.Now()); rerr != nil {
		d.logger.Error("record confirmation failure", zap.String("booking_id", b.ID), zap.Error(rerr))
	}
}
