package refund

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/gateway"
	"courtbook/internal/middleware"
	"courtbook/internal/modules/booking"
	"courtbook/internal/modules/reservation"
	"courtbook/internal/modules/sequence"
	"courtbook/internal/pkg/clock"
	"courtbook/internal/pkg/jwt"
	"courtbook/internal/repository"
	"courtbook/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	bookings *repository.BookingRepository
	svc      *booking.Service
	gw       *gateway.Fake
	refunds  *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.OpenDB(t)
	testutil.SeedMonth(t, db, "v1", "2026-11", "c1")

	clk := clock.NewFake(time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC))
	h := &harness{bookings: repository.NewBookingRepository(db), gw: gateway.NewFake()}
	avail := repository.NewAvailabilityRepository(db)
	slots := reservation.NewService(avail, 30*time.Minute, time.UTC, nil)
	seq := sequence.NewService(repository.NewSequenceRepository(db), clk, nil)
	h.svc = booking.NewService(h.bookings, avail, slots, seq, h.gw, clk, booking.Settings{
		SlotGranularity: 30 * time.Minute,
		Location:        time.UTC,
		Currency:        "thb",
		PricePerSlot:    15000,
	}, nil)
	h.refunds = NewService(h.svc, h.gw, nil)
	return h
}

// paid creates b1 for one hour and settles its charge.
func (h *harness) paid(t *testing.T) *domain.Booking {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2026, 11, 20, 14, 0, 0, 0, time.UTC)
	_, err := h.svc.CreateHold(ctx, booking.CreateBookingRequest{
		ID: "b1", VenueID: "v1", CourtID: "c1", UserID: "u1", StartTime: start, EndTime: start.Add(time.Hour),
	})
	require.NoError(t, err)
	p, err := h.svc.RequestPayment(ctx, "b1", booking.PaymentRequest{})
	require.NoError(t, err)
	h.gw.SetStatus(p.Reference, gateway.StatusSucceeded)
	p.Status = gateway.StatusSucceeded
	res, err := h.svc.MarkPaid(ctx, "b1", p)
	require.NoError(t, err)
	return res.Booking
}

func amount(v int64) *int64 { return &v }

func TestRequest_FullRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.paid(t)

	res, err := h.refunds.Request(ctx, RefundRequest{BookingID: "b1", Reason: "rain"})
	require.NoError(t, err)
	assert.Equal(t, int64(30000), res.Amount)
	assert.Equal(t, b.Reference(), res.PaymentReference)
	assert.NotEmpty(t, res.RefundReference)
	assert.Equal(t, string(domain.RefundPending), res.RefundStatus)

	cur, err := h.bookings.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundPending, cur.RefundStatus)
	assert.Equal(t, "rain", cur.RefundReason)
	require.NotNil(t, cur.RefundReference)
	assert.Equal(t, res.RefundReference, *cur.RefundReference)
	// settlement arrives through gateway events
	assert.Equal(t, domain.PaymentPaid, cur.PaymentStatus)

	_, err = h.refunds.Request(ctx, RefundRequest{BookingID: "b1"})
	assert.ErrorIs(t, err, booking.ErrAlreadyRefunding)
	assert.Len(t, h.gw.Refunds(), 1)
}

func TestRequest_PartialAmount(t *testing.T) {
	h := newHarness(t)
	h.paid(t)

	res, err := h.refunds.Request(context.Background(), RefundRequest{BookingID: "b1", Amount: amount(10000)})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.Amount)
}

func TestRequest_ExceedingAmountReleasesClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.paid(t)

	_, err := h.refunds.Request(ctx, RefundRequest{BookingID: "b1", Amount: amount(50000)})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	cur, err := h.bookings.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundNone, cur.RefundStatus)
	assert.Empty(t, h.gw.Refunds())
}

func TestRequest_GatewayFailureReleasesClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.paid(t)
	h.gw.Err = domain.NewError(domain.KindTransient, "gateway down")

	_, err := h.refunds.Request(ctx, RefundRequest{BookingID: "b1"})
	require.Error(t, err)
	assert.True(t, domain.Retryable(err))

	h.gw.Err = nil
	cur, err := h.bookings.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, cur.Refunding())

	_, err = h.refunds.Request(ctx, RefundRequest{BookingID: "b1"})
	assert.NoError(t, err)
}

func TestRequest_HoldingBookingIsNotRefundable(t *testing.T) {
	h := newHarness(t)
	start := time.Date(2026, 11, 20, 14, 0, 0, 0, time.UTC)
	_, err := h.svc.CreateHold(context.Background(), booking.CreateBookingRequest{
		ID: "b1", VenueID: "v1", CourtID: "c1", StartTime: start, EndTime: start.Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = h.refunds.Request(context.Background(), RefundRequest{BookingID: "b1"})
	assert.ErrorIs(t, err, booking.ErrNotConfirmed)

	_, err = h.refunds.Request(context.Background(), RefundRequest{BookingID: "missing"})
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestHandler_RequiresAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newHarness(t)
	h.paid(t)

	tokens := jwt.New("secret", time.Hour)
	r := gin.New()
	admin := r.Group("/api/v1/admin", middleware.JWTAuth(tokens), middleware.AdminOnly())
	NewHandler(h.refunds).RegisterRoutes(admin)

	call := func(token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/refunds", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	customer, _ := tokens.GenerateToken("u1", "customer")
	assert.Equal(t, http.StatusUnauthorized, call("", `{"bookingId":"b1"}`).Code)
	assert.Equal(t, http.StatusForbidden, call(customer, `{"bookingId":"b1"}`).Code)

	adminToken, _ := tokens.GenerateToken("ops", jwt.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, call(adminToken, `{"amount":-5}`).Code)

	w := call(adminToken, `{"bookingId":"b1","reason":"double charge"}`)
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"refund_status":"pending"`)

	w = call(adminToken, `{"bookingId":"b1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}
