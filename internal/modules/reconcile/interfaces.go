package reconcile

import (
	"context"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/gateway"
	"courtbook/internal/modules/booking"
	"courtbook/internal/modules/payment"
)

type bookingStore interface {
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	GetByPaymentReference(ctx context.Context, ref string) (*domain.Booking, error)
	ListStaleHolds(ctx context.Context, cutoff time.Time, limit int) ([]domain.Booking, error)
	ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]domain.Booking, error)
	ListIncomplete(ctx context.Context, limit int) ([]domain.Booking, error)
	ListLeakedSlots(ctx context.Context, limit int) ([]domain.Booking, error)
}

type bookingTransitions interface {
	Abandon(ctx context.Context, bookingID string) (*booking.Result, error)
	Sync(ctx context.Context, bookingID string, p *gateway.Payment) (*booking.Result, error)
	RepairSlots(ctx context.Context, b *domain.Booking) (*booking.Result, error)
	ReleaseLeaked(ctx context.Context, b *domain.Booking) error
}

type paymentLookup interface {
	GetPayment(ctx context.Context, reference string) (*gateway.Payment, error)
}

type archiver interface {
	MoveBatch(ctx context.Context, cutoffDate string, limit int, at time.Time) ([]domain.Booking, error)
}

// ArchiveSink receives each archived batch, e.g. an S3 bucket.
type ArchiveSink interface {
	Export(ctx context.Context, key string, rows any) error
}

type eventLister interface {
	ListUnprocessed(ctx context.Context, cutoff time.Time, limit int) ([]domain.WebhookEvent, error)
}

type eventReplayer interface {
	Reprocess(ctx context.Context, eventID string) (payment.ProcessingResult, error)
}
