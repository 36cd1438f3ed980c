package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"courtbook/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateHold_WritesHoldingPending(t *testing.T) {
	h := newHarness(t)

	b := h.hold(t, "b1", "c1", at(14, 0), time.Hour)

	assert.Equal(t, domain.BookingHolding, b.Status)
	assert.Equal(t, domain.PaymentPending, b.PaymentStatus)
	assert.Equal(t, "2026-11-20", b.Date)
	assert.Equal(t, int64(30000), b.Price)
	assert.Equal(t, "thb", b.Currency)
	require.NotNil(t, b.LastActive)

	stored := h.reload(t, "b1")
	assert.False(t, stored.SlotsReserved)
	assert.True(t, h.slot(t, "c1", "14:00").Available, "a hold reserves nothing")
}

func TestCreateHold_GeneratesIDAndUsesQuote(t *testing.T) {
	h := newHarness(t)
	price := int64(12345)

	b, err := h.svc.CreateHold(context.Background(), CreateBookingRequest{
		VenueID: "v1", CourtID: "c1", StartTime: at(10, 0), EndTime: at(11, 0), Price: &price, Currency: "USD",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, price, b.Price)
	assert.Equal(t, "usd", b.Currency)
}

func TestCreateHold_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.slots.Reserve(ctx, &domain.Booking{ID: "other", VenueID: "v1", CourtID: "c1", StartTime: at(14, 0), EndTime: at(15, 0)})
	require.NoError(t, err)

	cases := []struct {
		name string
		req  CreateBookingRequest
		kind domain.ErrorKind
	}{
		{"taken", CreateBookingRequest{VenueID: "v1", CourtID: "c1", StartTime: at(14, 30), EndTime: at(15, 30)}, domain.KindConflict},
		{"reversed", CreateBookingRequest{VenueID: "v1", CourtID: "c1", StartTime: at(15, 0), EndTime: at(14, 0)}, domain.KindValidation},
		{"past", CreateBookingRequest{VenueID: "v1", CourtID: "c1", StartTime: at(10, 0).AddDate(0, -1, 0), EndTime: at(11, 0).AddDate(0, -1, 0)}, domain.KindValidation},
		{"no month", CreateBookingRequest{VenueID: "v1", CourtID: "c1", StartTime: at(10, 0).AddDate(0, 1, 0), EndTime: at(11, 0).AddDate(0, 1, 0)}, domain.KindNotFound},
		{"closed", CreateBookingRequest{VenueID: "v1", CourtID: "c1", StartTime: at(22, 0), EndTime: at(23, 0)}, domain.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreateHold(ctx, tc.req)
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, tc.kind), "got %v", err)
		})
	}
}

func TestCreateHold_DuplicateID(t *testing.T) {
	h := newHarness(t)
	h.hold(t, "b1", "c1", at(10, 0), time.Hour)

	_, err := h.svc.CreateHold(context.Background(), CreateBookingRequest{
		ID: "b1", VenueID: "v1", CourtID: "c2", StartTime: at(10, 0), EndTime: at(11, 0),
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConflict))
}

func TestHeartbeat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hold(t, "b1", "c1", at(10, 0), time.Hour)

	h.clock.Advance(2 * time.Minute)
	b, err := h.svc.Heartbeat(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, b.LastActive)
	assert.True(t, b.LastActive.Equal(h.clock.Now()))

	_, err = h.svc.Cancel(ctx, "b1")
	require.NoError(t, err)

	_, err = h.svc.Heartbeat(ctx, "b1")
	assert.ErrorIs(t, err, ErrNotHolding)

	_, err = h.svc.Heartbeat(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hold(t, "b1", "c1", at(10, 0), time.Hour)

	b, err := h.svc.Cancel(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, b.Status)
	assert.Equal(t, domain.PaymentCancelled, b.PaymentStatus)
	require.NotNil(t, b.CancelledAt)

	again, err := h.svc.Cancel(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, again.Status)
}

func TestCancel_RefusedOncePaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hold(t, "b1", "c1", at(10, 0), time.Hour)
	_, err := h.svc.MarkPaid(ctx, "b1", succeeded("chrg_1", 30000, nil))
	require.NoError(t, err)

	_, err = h.svc.Cancel(ctx, "b1")
	assert.ErrorIs(t, err, ErrNotHolding)
	assert.Equal(t, domain.PaymentPaid, h.reload(t, "b1").PaymentStatus)
}

func TestRequestPayment_AttachesReferenceOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hold(t, "b1", "c1", at(10, 0), time.Hour)

	p, err := h.svc.RequestPayment(ctx, "b1", PaymentRequest{Source: "src_test"})
	require.NoError(t, err)
	assert.Equal(t, int64(30000), p.Amount)
	assert.Equal(t, "b1", p.Metadata[domain.MetaBookingID])
	assert.Equal(t, "c1", p.Metadata[domain.MetaCourtID])

	b := h.reload(t, "b1")
	assert.Equal(t, p.Reference, b.Reference())

	again, err := h.svc.RequestPayment(ctx, "b1", PaymentRequest{})
	require.NoError(t, err)
	assert.Equal(t, p.Reference, again.Reference)
}

func TestRequestPayment_NotHolding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hold(t, "b1", "c1", at(10, 0), time.Hour)
	_, err := h.svc.Cancel(ctx, "b1")
	require.NoError(t, err)

	_, err = h.svc.RequestPayment(ctx, "b1", PaymentRequest{})
	assert.ErrorIs(t, err, ErrNotHolding)
}

func TestRequestPayment_GatewayErrorSurfaces(t *testing.T) {
	h := newHarness(t)
	h.hold(t, "b1", "c1", at(10, 0), time.Hour)
	h.gw.Err = domain.NewError(domain.KindTransient, "gateway timeout")

	_, err := h.svc.RequestPayment(context.Background(), "b1", PaymentRequest{})
	require.Error(t, err)
	assert.True(t, domain.Retryable(err))
	assert.Empty(t, h.reload(t, "b1").Reference())

	// the failed attempt gives its claim back
	h.gw.Err = nil
	p, err := h.svc.RequestPayment(context.Background(), "b1", PaymentRequest{})
	require.NoError(t, err)
	assert.Equal(t, p.Reference, h.reload(t, "b1").Reference())
}

func TestRequestPayment_ClaimedHoldDoesNotCharge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hold(t, "b1", "c1", at(10, 0), time.Hour)

	now := h.clock.Now()
	claimed, err := h.bookings.ClaimPayment(ctx, "b1", "other-request", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = h.svc.RequestPayment(ctx, "b1", PaymentRequest{})
	assert.ErrorIs(t, err, ErrPaymentPending)
	assert.True(t, domain.Retryable(err))
	assert.Zero(t, h.gw.Charges())

	// a claim left behind by a crashed request expires
	h.clock.Advance(2 * time.Minute)
	p, err := h.svc.RequestPayment(ctx, "b1", PaymentRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.gw.Charges())
	assert.Equal(t, p.Reference, h.reload(t, "b1").Reference())
}

func TestRequestPayment_ConcurrentRequestsCreateOneCharge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hold(t, "b1", "c1", at(10, 0), time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.svc.RequestPayment(ctx, "b1", PaymentRequest{Source: "src_test"})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, h.gw.Charges(), 1)
	if h.gw.Charges() == 1 {
		assert.Equal(t, "chrg_test_1", h.reload(t, "b1").Reference())
	}

	p, err := h.svc.RequestPayment(ctx, "b1", PaymentRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.gw.Charges())
	assert.Equal(t, "chrg_test_1", p.Reference)
}

func TestAvailability(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hold(t, "b1", "c1", at(14, 0), time.Hour)
	_, err := h.svc.MarkPaid(ctx, "b1", succeeded("chrg_1", 30000, nil))
	require.NoError(t, err)

	day, err := h.svc.Availability(ctx, "v1", "c1", "2026-11-20")
	require.NoError(t, err)
	require.Len(t, day, 28)
	assert.Equal(t, "08:00", day[0].TimeKey)
	for _, s := range day {
		if s.TimeKey == "14:00" || s.TimeKey == "14:30" {
			assert.Equal(t, "b1", s.BookingID)
		} else {
			assert.True(t, s.Available, s.TimeKey)
		}
	}

	_, err = h.svc.Availability(ctx, "v1", "c1", "2026-12-01")
	assert.ErrorIs(t, err, ErrNoAvailability)
	_, err = h.svc.Availability(ctx, "v1", "c1", "garbage")
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}
