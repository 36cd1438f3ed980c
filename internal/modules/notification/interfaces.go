package notification

import (
	"context"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/pkg/queue"
)

type jobQueue interface {
	EnqueueConfirmation(ctx context.Context, payload queue.ConfirmationPayload) error
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Publisher hands confirmation messages to the downstream services.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type bookingStore interface {
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	ListUnconfirmed(ctx context.Context, maxAttempts, limit int) ([]domain.Booking, error)
	MarkConfirmationSent(ctx context.Context, id string, at time.Time) error
	RecordConfirmationFailure(ctx context.Context, id, reason string, at time.Time) error
}
