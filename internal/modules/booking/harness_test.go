package booking

import (
	"context"
	"testing"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/gateway"
	"courtbook/internal/modules/reservation"
	"courtbook/internal/modules/sequence"
	"courtbook/internal/pkg/clock"
	"courtbook/internal/repository"
	"courtbook/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type harness struct {
	db       *gorm.DB
	svc      *Service
	bookings *repository.BookingRepository
	avail    *repository.AvailabilityRepository
	slots    *reservation.Service
	seq      *sequence.Service
	gw       *gateway.Fake
	clock    *clock.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.OpenDB(t)
	testutil.SeedMonth(t, db, "v1", "2026-11", "c1", "c2")

	h := &harness{
		db:       db,
		bookings: repository.NewBookingRepository(db),
		avail:    repository.NewAvailabilityRepository(db),
		gw:       gateway.NewFake(),
		clock:    clock.NewFake(time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)),
	}
	h.slots = reservation.NewService(h.avail, 30*time.Minute, time.UTC, nil)
	h.seq = sequence.NewService(repository.NewSequenceRepository(db), h.clock, nil)
	h.svc = h.serviceWith(h.slots)
	return h
}

// serviceWith builds a second service over the same stores with its own
// slot reserver.
func (h *harness) serviceWith(slots SlotReserver) *Service {
	return NewService(h.bookings, h.avail, slots, h.seq, h.gw, h.clock, Settings{
		SlotGranularity: 30 * time.Minute,
		Location:        time.UTC,
		Currency:        "thb",
		PricePerSlot:    15000,
	}, nil)
}

func at(hour, min int) time.Time {
	return time.Date(2026, 11, 20, hour, min, 0, 0, time.UTC)
}

func (h *harness) hold(t *testing.T, id, court string, start time.Time, d time.Duration) *domain.Booking {
	t.Helper()
	b, err := h.svc.CreateHold(context.Background(), CreateBookingRequest{
		ID: id, VenueID: "v1", CourtID: court, UserID: "u1",
		StartTime: start, EndTime: start.Add(d),
	})
	require.NoError(t, err)
	return b
}

func (h *harness) reload(t *testing.T, id string) *domain.Booking {
	t.Helper()
	b, err := h.bookings.GetByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (h *harness) slot(t *testing.T, court, key string) domain.SlotState {
	t.Helper()
	doc, err := h.avail.Get(context.Background(), "v1", "2026-11")
	require.NoError(t, err)
	s, ok := doc.Grid.Slot(court, "2026-11-20", key)
	require.True(t, ok)
	return s
}

func succeeded(ref string, amount int64, meta domain.Metadata) *gateway.Payment {
	return &gateway.Payment{
		Reference: ref,
		Status:    gateway.StatusSucceeded,
		Amount:    amount,
		Currency:  "thb",
		Metadata:  meta,
	}
}

var errTransient = domain.NewError(domain.KindTransient, "gateway unavailable")
