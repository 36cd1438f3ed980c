package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/modules/booking"
	"courtbook/internal/pkg/clock"
	"courtbook/internal/pkg/mq"
	"courtbook/internal/pkg/queue"
	"courtbook/internal/repository"
	"courtbook/internal/testutil"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)

type fakePublisher struct {
	mu   sync.Mutex
	sent []Confirmation
	keys []string
	err  error
}

func (p *fakePublisher) PublishJSON(_ context.Context, key string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.sent = append(p.sent, v.(Confirmation))
	return nil
}

func seedBooking(t *testing.T, repo *repository.BookingRepository, id string, ps domain.PaymentStatus, updated time.Time) *domain.Booking {
	t.Helper()
	inv := "INV-" + id
	b := &domain.Booking{
		ID: id, VenueID: "v1", CourtID: "c1", UserID: "u1", Date: "2026-11-20",
		StartTime: time.Date(2026, 11, 20, 14, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 11, 20, 15, 0, 0, 0, time.UTC),
		Price:     30000, Currency: "thb",
		Status: domain.BookingConfirmed, PaymentStatus: ps,
		InvoiceNumber: &inv, SlotsReserved: true,
		CreatedAt: updated, UpdatedAt: updated,
	}
	if ps != domain.PaymentPaid {
		b.Status = domain.BookingHolding
		b.InvoiceNumber = nil
	}
	require.NoError(t, repo.Create(context.Background(), b))
	return b
}

func confirmationJob(t *testing.T, id string, attempt int) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(queue.ConfirmationPayload{BookingID: id, Reason: ReasonPaid})
	require.NoError(t, err)
	return &queue.Job{ID: "job-" + id, Type: queue.JobTypeConfirmation, Payload: payload, Attempt: attempt}
}

func TestDispatcher_EnqueuesOnFirstPaid(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := repository.NewBookingRepository(testutil.OpenDB(t))
	d := NewDispatcher(queue.NewQueue(rdb, nil), repo, clock.NewFake(t0), nil)
	ctx := context.Background()

	paid := &domain.Booking{ID: "b1", PaymentStatus: domain.PaymentPaid}
	mock.Regexp().ExpectRPush(queue.QueueConfirmations, `.*"booking_id":"b1".*`).SetVal(1)
	d.Listen(ctx, booking.Transition{Booking: paid, From: domain.PaymentProcessing})

	// not a new payment, nothing more is expected
	d.Listen(ctx, booking.Transition{Booking: paid, From: domain.PaymentPaid})
	d.Listen(ctx, booking.Transition{Booking: &domain.Booking{ID: "b2", PaymentStatus: domain.PaymentFailed}, From: domain.PaymentPending})
	d.Listen(ctx, booking.Transition{Booking: &domain.Booking{ID: "b3", PaymentStatus: domain.PaymentRefunded}, From: domain.PaymentPaid})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatcher_RecordsEnqueueFailure(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := repository.NewBookingRepository(testutil.OpenDB(t))
	b := seedBooking(t, repo, "b1", domain.PaymentPaid, t0)
	d := NewDispatcher(queue.NewQueue(rdb, nil), repo, clock.NewFake(t0), nil)

	mock.Regexp().ExpectRPush(queue.QueueConfirmations, `.*`).SetErr(errors.New("connection refused"))
	d.Listen(context.Background(), booking.Transition{Booking: b, From: domain.PaymentProcessing})

	got, err := repo.GetByID(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ConfirmationAttempts)
	assert.Contains(t, got.ConfirmationError, "enqueue")
	assert.Nil(t, got.ConfirmationSentAt)
}

func TestWorker_PublishesAndMarksSent(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := repository.NewBookingRepository(testutil.OpenDB(t))
	seedBooking(t, repo, "b1", domain.PaymentPaid, t0)
	pub := &fakePublisher{}
	w := NewWorker(queue.NewQueue(rdb, nil), pub, repo, clock.NewFake(t0), nil)
	ctx := context.Background()

	require.NoError(t, w.Process(ctx, confirmationJob(t, "b1", 0)))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, mq.RoutingBookingConfirmed, pub.keys[0])
	assert.Equal(t, "INV-b1", pub.sent[0].InvoiceNumber)
	assert.Equal(t, "c1", pub.sent[0].CourtID)

	got, err := repo.GetByID(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, got.ConfirmationSentAt)
	assert.Equal(t, 1, got.ConfirmationAttempts)

	// a duplicate job is dropped
	require.NoError(t, w.Process(ctx, confirmationJob(t, "b1", 0)))
	assert.Len(t, pub.sent, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorker_PublishFailureRetries(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := repository.NewBookingRepository(testutil.OpenDB(t))
	seedBooking(t, repo, "b1", domain.PaymentPaid, t0)
	pub := &fakePublisher{err: errors.New("channel closed")}
	w := NewWorker(queue.NewQueue(rdb, nil), pub, repo, clock.NewFake(t0), nil)

	mock.Regexp().ExpectRPush(queue.QueueConfirmations, `.*"attempt":1.*`).SetVal(1)
	err := w.Process(context.Background(), confirmationJob(t, "b1", 0))
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	got, err := repo.GetByID(context.Background(), "b1")
	require.NoError(t, err)
	assert.Nil(t, got.ConfirmationSentAt)
	assert.Equal(t, 1, got.ConfirmationAttempts)
	assert.Equal(t, "channel closed", got.ConfirmationError)
}

func TestWorker_SkipsUnknownAndUnpaid(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := repository.NewBookingRepository(testutil.OpenDB(t))
	seedBooking(t, repo, "h1", domain.PaymentPending, t0)
	pub := &fakePublisher{}
	w := NewWorker(queue.NewQueue(rdb, nil), pub, repo, clock.NewFake(t0), nil)
	ctx := context.Background()

	assert.NoError(t, w.Process(ctx, confirmationJob(t, "gone", 0)))
	assert.NoError(t, w.Process(ctx, confirmationJob(t, "h1", 0)))
	assert.ErrorIs(t, w.Process(ctx, &queue.Job{ID: "x", Type: "other"}), ErrUnknownJob)
	assert.ErrorIs(t, w.Process(ctx, &queue.Job{ID: "y", Type: queue.JobTypeConfirmation, Payload: []byte(`{}`)}), ErrInvalidPayload)
	assert.Empty(t, pub.sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorker_RetrySweep(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := repository.NewBookingRepository(testutil.OpenDB(t))
	ctx := context.Background()
	seedBooking(t, repo, "old", domain.PaymentPaid, t0.Add(-10*time.Minute))
	seedBooking(t, repo, "fresh", domain.PaymentPaid, t0.Add(-time.Minute))
	seedBooking(t, repo, "sent", domain.PaymentPaid, t0.Add(-time.Hour))
	require.NoError(t, repo.MarkConfirmationSent(ctx, "sent", t0.Add(-time.Hour)))
	seedBooking(t, repo, "holding", domain.PaymentPending, t0.Add(-time.Hour))

	w := NewWorker(queue.NewQueue(rdb, nil), &fakePublisher{}, repo, clock.NewFake(t0), nil)
	mock.Regexp().ExpectRPush(queue.QueueConfirmations, `.*"booking_id":"old".*`).SetVal(1)

	n, err := w.RetrySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
