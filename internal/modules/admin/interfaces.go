package admin

import (
	"context"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/modules/payment"
)

type BookingRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	ListAttention(ctx context.Context, limit int) ([]domain.Booking, error)
	CountByPaymentStatus(ctx context.Context) (map[domain.PaymentStatus]int64, error)
	ClearAttention(ctx context.Context, id string, at time.Time) (bool, error)
}

type EventRepository interface {
	Get(ctx context.Context, id string) (*domain.WebhookEvent, error)
	CountUnprocessed(ctx context.Context) (int64, error)
}

type LedgerReader interface {
	TransactionsForBooking(ctx context.Context, bookingID string) ([]domain.PaymentTransactionLog, error)
	AuditForEvent(ctx context.Context, eventID string) ([]domain.AuditEntry, error)
}

type ArchiveCounter interface {
	CountArchived(ctx context.Context) (int64, error)
}

type EventReplayer interface {
	Reprocess(ctx context.Context, eventID string) (payment.ProcessingResult, error)
}
