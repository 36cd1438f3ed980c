package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/pkg/clock"
	"courtbook/internal/pkg/metrics"
	"courtbook/internal/pkg/mq"
	"courtbook/internal/pkg/queue"

	"go.uber.org/zap"
)

const (
	// MaxAttempts caps delivery attempts recorded on a booking before the
	// retry sweep stops picking it up.
	MaxAttempts = 8
	// RetryMinAge keeps the sweep from racing jobs still in the queue.
	RetryMinAge   = 5 * time.Minute
	retryBatch    = 100
	idleBackoff   = time.Second
	publishTimeout = 10 * time.Second
)

// Worker drains the confirmation queue and publishes to the message bus.
type Worker struct {
	queue     jobQueue
	publisher Publisher
	bookings  bookingStore
	clock     clock.Clock
	logger    *zap.Logger
}

func NewWorker(q jobQueue, publisher Publisher, bookings bookingStore, clk clock.Clock, logger *zap.Logger) *Worker {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: q, publisher: publisher, bookings: bookings, clock: clk, logger: logger}
}

// Run blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("confirmation worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("confirmation worker stopped")
			return
		}
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(idleBackoff):
			}
			continue
		}
		if job == nil {
			continue
		}
		if err := w.Process(ctx, job); err != nil {
			w.logger.Warn("confirmation job failed",
				zap.String("job_id", job.ID),
				zap.Int("attempt", job.Attempt),
				zap.Error(err))
		}
	}
}

// Process delivers one job. Failed deliveries are recorded on the booking
// and the job goes back on the queue.
func (w *Worker) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeConfirmation {
		return ErrUnknownJob
	}
	var p queue.ConfirmationPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil || p.BookingID == "" {
		return ErrInvalidPayload
	}

	b, err := w.bookings.GetByID(ctx, p.BookingID)
	if errors.Is(err, domain.ErrBookingNotFound) {
		// archived or never existed
		metrics.RecordConfirmation("skipped")
		return nil
	}
	if err != nil {
		return w.fail(ctx, job, p.BookingID, err)
	}
	if b.ConfirmationSentAt != nil || b.PaymentStatus != domain.PaymentPaid {
		metrics.RecordConfirmation("skipped")
		return nil
	}

	now := w.clock.Now()
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	err = w.publisher.PublishJSON(pctx, mq.RoutingBookingConfirmed, confirmationFor(b, now))
	cancel()
	if err != nil {
		if rerr := w.bookings.RecordConfirmationFailure(ctx, b.ID, err.Error(), now); rerr != nil {
			w.logger.Error("record confirmation failure", zap.String("booking_id", b.ID), zap.Error(rerr))
		}
		return w.fail(ctx, job, b.ID, err)
	}

	if err := w.bookings.MarkConfirmationSent(ctx, b.ID, now); err != nil {
		// published but not recorded; a duplicate later is acceptable
		w.logger.Error("mark confirmation sent", zap.String("booking_id", b.ID), zap.Error(err))
	}
	metrics.RecordConfirmation("sent")
	w.logger.Info("booking confirmation published",
		zap.String("booking_id", b.ID),
		zap.String("reason", p.Reason))
	return nil
}

func (w *Worker) fail(ctx context.Context, job *queue.Job, bookingID string, cause error) error {
	metrics.RecordConfirmation("failed")
	if err := w.queue.Retry(ctx, job); err != nil {
		w.logger.Error("requeue confirmation", zap.String("booking_id", bookingID), zap.Error(err))
	}
	return cause
}

// RetrySweep re-enqueues paid bookings whose confirmation never went out.
// Bookings touched within RetryMinAge are left to jobs already queued.
func (w *Worker) RetrySweep(ctx context.Context) (int, error) {
	rows, err := w.bookings.ListUnconfirmed(ctx, MaxAttempts, retryBatch)
	if err != nil {
		return 0, err
	}
	cutoff := w.clock.Now().Add(-RetryMinAge)
	queued := 0
	for _, b := range rows {
		if b.UpdatedAt.After(cutoff) {
			continue
		}
		if err := w.queue.EnqueueConfirmation(ctx, queue.ConfirmationPayload{BookingID: b.ID, Reason: ReasonRetry}); err != nil {
			return queued, err
		}
		queued++
	}
	if queued > 0 {
		w.logger.Info("confirmation retries queued", zap.Int("count", queued))
	}
	return queued, nil
}
