package payment

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/gateway"
	"courtbook/internal/modules/booking"
	"courtbook/internal/modules/reservation"
	"courtbook/internal/modules/sequence"
	"courtbook/internal/pkg/clock"
	"courtbook/internal/pkg/retry"
	"courtbook/internal/repository"
	"courtbook/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	bookings *repository.BookingRepository
	avail    *repository.AvailabilityRepository
	events   *repository.WebhookEventRepository
	ledger   *repository.LedgerRepository
	svc      *booking.Service
	gw       *gateway.Fake
	clock    *clock.Fake
	proc     *Processor
}

var fastPolicy = retry.Policy{BaseDelay: time.Millisecond, Multiplier: 2, MaxAttempts: 3, ConflictAttempts: 5}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.OpenDB(t)
	testutil.SeedMonth(t, db, "v1", "2026-11", "c1", "c2")

	h := &harness{
		bookings: repository.NewBookingRepository(db),
		avail:    repository.NewAvailabilityRepository(db),
		events:   repository.NewWebhookEventRepository(db),
		ledger:   repository.NewLedgerRepository(db),
		gw:       gateway.NewFake(),
		clock:    clock.NewFake(time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)),
	}
	slots := reservation.NewService(h.avail, 30*time.Minute, time.UTC, nil)
	seq := sequence.NewService(repository.NewSequenceRepository(db), h.clock, nil)
	h.svc = booking.NewService(h.bookings, h.avail, slots, seq, h.gw, h.clock, booking.Settings{
		SlotGranularity: 30 * time.Minute,
		Location:        time.UTC,
		Currency:        "thb",
		PricePerSlot:    15000,
	}, nil)
	h.proc = NewProcessor(h.events, h.ledger, h.svc, h.gw, h.clock, nil).WithPolicy(fastPolicy)
	return h
}

func (h *harness) hold(t *testing.T, id string, hour int) {
	t.Helper()
	start := time.Date(2026, 11, 20, hour, 0, 0, 0, time.UTC)
	_, err := h.svc.CreateHold(context.Background(), booking.CreateBookingRequest{
		ID: id, VenueID: "v1", CourtID: "c1", UserID: "u1",
		StartTime: start, EndTime: start.Add(time.Hour),
	})
	require.NoError(t, err)
}

func (h *harness) handle(t *testing.T, raw []byte) ProcessingResult {
	t.Helper()
	ev, err := ParseEvent(raw)
	require.NoError(t, err)
	res, err := h.proc.Handle(context.Background(), ev)
	require.NoError(t, err)
	return res
}

func intentEvent(t *testing.T, id, typ, ref string, amount int64, meta map[string]string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":   id,
		"type": typ,
		"data": map[string]any{"object": map[string]any{
			"id":       ref,
			"amount":   amount,
			"currency": "thb",
			"metadata": meta,
		}},
	})
	require.NoError(t, err)
	return raw
}

func TestHandle_SucceededConfirmsBooking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hold(t, "b1", 14)

	raw := intentEvent(t, "evt_1", TypePaymentSucceeded, "pi_1", 30000, map[string]string{"bookingId": "b1"})
	res := h.handle(t, raw)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.True(t, res.Applied)
	assert.Equal(t, "b1", res.BookingID)

	b, err := h.bookings.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, b.Status)
	assert.Equal(t, domain.PaymentPaid, b.PaymentStatus)
	require.NotNil(t, b.InvoiceNumber)
	assert.Equal(t, "000001", *b.InvoiceNumber)

	stored, err := h.events.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	assert.Equal(t, string(StatusProcessed), stored.Result)
	assert.Equal(t, 1, stored.Attempts)

	logs, err := h.ledger.TransactionsForBooking(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "pi_1", logs[0].PaymentReference)
	assert.Equal(t, int64(30000), logs[0].Amount)
}

func TestHandle_ReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hold(t, "b1", 14)
	raw := intentEvent(t, "evt_1", TypePaymentSucceeded, "pi_1", 30000, map[string]string{"bookingId": "b1"})

	first := h.handle(t, raw)
	require.Equal(t, StatusProcessed, first.Status)
	before, err := h.avail.Get(ctx, "v1", "2026-11")
	require.NoError(t, err)

	second := h.handle(t, raw)
	assert.Equal(t, StatusAlreadyProcessed, second.Status)

	after, err := h.avail.Get(ctx, "v1", "2026-11")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)

	logs, err := h.ledger.TransactionsForBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	stored, err := h.events.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)
}

func TestHandle_ConcurrentDeliveries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hold(t, "b1", 14)
	raw := intentEvent(t, "evt_1", TypePaymentSucceeded, "pi_1", 30000, map[string]string{"bookingId": "b1"})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, err := ParseEvent(raw)
			if !assert.NoError(t, err) {
				return
			}
			_, err = h.proc.Handle(ctx, ev)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	b, err := h.bookings.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, b.PaymentStatus)
	assert.Equal(t, "000001", *b.InvoiceNumber)
}

func TestHandle_EmergencyBookingFromMetadata(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.handle(t, intentEvent(t, "evt_2", TypePaymentSucceeded, "pi_2", 30000, map[string]string{
		"bookingId": "b2",
		"venueId":   "v1",
		"courtId":   "c2",
		"date":      "2026-11-20",
		"userId":    "u2",
		"startTime": "2026-11-20T10:00:00Z",
		"endTime":   "2026-11-20T11:00:00Z",
	}))
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, "emergency booking created", res.Detail)

	b, err := h.bookings.GetByID(ctx, "b2")
	require.NoError(t, err)
	assert.True(t, b.RecoveredFromPayment)
	assert.Equal(t, domain.BookingConfirmed, b.Status)
	assert.Equal(t, domain.PaymentPaid, b.PaymentStatus)
	assert.True(t, b.SlotsReserved)
	assert.True(t, b.HasInvoice())

	doc, err := h.avail.Get(ctx, "v1", "2026-11")
	require.NoError(t, err)
	s, ok := doc.Grid.Slot("c2", "2026-11-20", "10:30")
	require.True(t, ok)
	assert.Equal(t, "b2", s.BookingID)
}

func TestHandle_ProcessingAfterPaidDoesNotDemote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hold(t, "b1", 14)
	meta := map[string]string{"bookingId": "b1"}

	h.handle(t, intentEvent(t, "evt_1", TypePaymentSucceeded, "pi_1", 30000, meta))
	res := h.handle(t, intentEvent(t, "evt_0", TypePaymentProcessing, "pi_1", 30000, meta))
	assert.Equal(t, StatusProcessed, res.Status)
	assert.False(t, res.Applied)

	res = h.handle(t, intentEvent(t, "evt_f", TypePaymentFailed, "pi_1", 30000, meta))
	assert.False(t, res.Applied)

	b, err := h.bookings.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, b.PaymentStatus)
	assert.Equal(t, domain.BookingConfirmed, b.Status)
}

func TestHandle_FailureForUnknownBookingIsClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.handle(t, intentEvent(t, "evt_9", TypePaymentFailed, "pi_9", 30000, map[string]string{"bookingId": "ghost"}))
	assert.Equal(t, StatusFailed, res.Status)

	stored, err := h.events.Get(ctx, "evt_9")
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	assert.NotEmpty(t, stored.Error)

	audit, err := h.ledger.AuditForEvent(ctx, "evt_9")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, string(domain.KindInconsistent), audit[0].Kind)
}

func TestHandle_UnknownTypeIsIgnored(t *testing.T) {
	h := newHarness(t)
	res := h.handle(t, []byte(`{"id":"evt_u","type":"customer.created","data":{"object":{"id":"cus_1"}}}`))
	assert.Equal(t, StatusIgnored, res.Status)

	stored, err := h.events.Get(context.Background(), "evt_u")
	require.NoError(t, err)
	assert.True(t, stored.Processed)
}

func TestHandle_RefundLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hold(t, "b1", 14)
	h.handle(t, intentEvent(t, "evt_1", TypePaymentSucceeded, "pi_1", 30000, map[string]string{"bookingId": "b1"}))

	res := h.handle(t, []byte(`{"id":"evt_r1","type":"refund.created","data":{"object":{"id":"re_1","payment_intent":"pi_1","amount":30000,"status":"pending"}}}`))
	assert.True(t, res.Applied)
	b, err := h.bookings.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundPending, b.RefundStatus)

	res = h.handle(t, []byte(`{"id":"evt_r2","type":"charge.refunded","data":{"object":{"id":"ch_1","payment_intent":"pi_1","amount":30000,"amount_refunded":30000}}}`))
	assert.Equal(t, StatusProcessed, res.Status)

	b, err = h.bookings.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, b.PaymentStatus)
	assert.Equal(t, domain.BookingCancelled, b.Status)
	assert.False(t, b.SlotsReserved)

	doc, err := h.avail.Get(ctx, "v1", "2026-11")
	require.NoError(t, err)
	s, _ := doc.Grid.Slot("c1", "2026-11-20", "14:00")
	assert.True(t, s.Available)
}

func TestHandle_RefundFailureFlagsBooking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hold(t, "b1", 14)
	h.handle(t, intentEvent(t, "evt_1", TypePaymentSucceeded, "pi_1", 30000, map[string]string{"bookingId": "b1"}))

	h.handle(t, []byte(`{"id":"evt_r","type":"refund.failed","data":{"object":{"id":"re_1","payment_intent":"pi_1","amount":30000,"status":"failed","failure_reason":"expired_or_canceled_card"}}}`))

	b, err := h.bookings.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, b.Status)
	assert.Equal(t, domain.RefundFailed, b.RefundStatus)
	assert.Equal(t, domain.AttentionRefundFailed, b.AttentionReason)
}

type stubTransitions struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (s *stubTransitions) next() (*booking.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return &booking.Result{Applied: true}, nil
}

func (s *stubTransitions) MarkPaid(context.Context, string, *gateway.Payment) (*booking.Result, error) {
	return s.next()
}
func (s *stubTransitions) MarkFailed(context.Context, string, string, string) (*booking.Result, error) {
	return s.next()
}
func (s *stubTransitions) MarkCanceled(context.Context, string, string, string) (*booking.Result, error) {
	return s.next()
}
func (s *stubTransitions) MarkProcessing(context.Context, string, string) (*booking.Result, error) {
	return s.next()
}
func (s *stubTransitions) RecordRefundCreated(context.Context, string, string, string) (*booking.Result, error) {
	return s.next()
}
func (s *stubTransitions) CompleteRefund(context.Context, string, string, string, int64, int64) (*booking.Result, error) {
	return s.next()
}
func (s *stubTransitions) FailRefund(context.Context, string, string, string) (*booking.Result, error) {
	return s.next()
}

func TestHandle_TransientFailuresAreRetried(t *testing.T) {
	h := newHarness(t)
	transient := domain.NewError(domain.KindTransient, "database is locked")
	stub := &stubTransitions{errs: []error{transient, transient}}
	proc := NewProcessor(h.events, h.ledger, stub, nil, h.clock, nil).WithPolicy(fastPolicy)

	ev, err := ParseEvent(intentEvent(t, "evt_1", TypePaymentSucceeded, "pi_1", 30000, map[string]string{"bookingId": "b1"}))
	require.NoError(t, err)
	res, err := proc.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, 3, stub.calls)
}

func TestHandle_FatalErrorLeavesEventOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stub := &stubTransitions{errs: []error{domain.NewError(domain.KindFatal, "schema mismatch")}}
	proc := NewProcessor(h.events, h.ledger, stub, nil, h.clock, nil).WithPolicy(fastPolicy)

	ev, err := ParseEvent(intentEvent(t, "evt_1", TypePaymentSucceeded, "pi_1", 30000, map[string]string{"bookingId": "b1"}))
	require.NoError(t, err)
	res, err := proc.Handle(ctx, ev)
	require.Error(t, err)
	assert.Equal(t, StatusDeferred, res.Status)
	assert.Equal(t, 1, stub.calls)

	stored, err := h.events.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, stored.Processed)
	assert.Contains(t, stored.Error, "schema mismatch")

	audit, err := h.ledger.AuditForEvent(ctx, "evt_1")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, string(domain.KindFatal), audit[0].Kind)

	// Redelivery runs the event again.
	res, err = proc.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	stored, err = h.events.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	assert.Equal(t, 2, stored.Attempts)
}

func TestReprocess_StoredEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hold(t, "b1", 14)
	stub := &stubTransitions{errs: []error{domain.NewError(domain.KindFatal, "boom")}}
	failing := NewProcessor(h.events, h.ledger, stub, nil, h.clock, nil).WithPolicy(fastPolicy)

	ev, err := ParseEvent(intentEvent(t, "evt_1", TypePaymentSucceeded, "pi_1", 30000, map[string]string{"bookingId": "b1"}))
	require.NoError(t, err)
	_, err = failing.Handle(ctx, ev)
	require.Error(t, err)

	res, err := h.proc.Reprocess(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)

	b, err := h.bookings.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, b.PaymentStatus)

	res, err = h.proc.Reprocess(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyProcessed, res.Status)
}
