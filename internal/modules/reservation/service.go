package reservation

import (
	"context"
	"errors"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/pkg/metrics"
	"courtbook/internal/pkg/retry"

	"go.uber.org/zap"
)

type Outcome string

const (
	Reserved Outcome = "reserved"
	Conflict Outcome = "conflict"
	NotFound Outcome = "not_found"
)

type Service struct {
	store  availabilityStore
	step   time.Duration
	loc    *time.Location
	policy retry.Policy
	logger *zap.Logger
}

func NewService(store availabilityStore, step time.Duration, loc *time.Location, logger *zap.Logger) *Service {
	if step <= 0 {
		step = domain.DefaultSlotGranularity
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, step: step, loc: loc, policy: retry.DefaultPolicy(), logger: logger}
}

// WithPolicy overrides the retry policy, mainly for tests.
func (s *Service) WithPolicy(p retry.Policy) *Service {
	s.policy = p
	return s
}

// Reserve claims every slot covering the booking's range for the booking,
// all or nothing. Slots already owned by the same booking count as free, so
// repeated calls are no-ops.
func (s *Service) Reserve(ctx context.Context, b *domain.Booking) (Outcome, error) {
	date, keys, month, err := s.locate(b)
	if err != nil {
		return "", err
	}

	var outcome Outcome
	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.store.Mutate(ctx, b.VenueID, month, func(grid domain.SlotIndex) (bool, error) {
			outcome = Reserved
			claim := make([]string, 0, len(keys))
			for _, k := range keys {
				slot, ok := grid.Slot(b.CourtID, date, k)
				if !ok {
					outcome = NotFound
					return false, nil
				}
				if slot.BookingID == b.ID {
					continue
				}
				if !slot.Available || slot.BookingID != "" {
					outcome = Conflict
					return false, nil
				}
				claim = append(claim, k)
			}
			for _, k := range claim {
				grid.SetSlot(b.CourtID, date, k, domain.SlotState{Available: false, BookingID: b.ID, Occupant: b.UserID})
			}
			return len(claim) > 0, nil
		})
	})
	if errors.Is(err, domain.ErrDocumentNotFound) {
		outcome, err = NotFound, nil
	}
	if err != nil {
		metrics.RecordReservation("error")
		return "", err
	}

	switch outcome {
	case NotFound:
		s.logger.Warn("availability slots not found",
			zap.String("booking_id", b.ID),
			zap.String("venue_id", b.VenueID),
			zap.String("court_id", b.CourtID),
			zap.String("date", date),
			zap.Strings("slots", keys))
	case Conflict:
		s.logger.Warn("slot already taken by another booking",
			zap.String("booking_id", b.ID),
			zap.String("court_id", b.CourtID),
			zap.String("date", date))
	}
	metrics.RecordReservation(string(outcome))
	return outcome, nil
}

// Release frees the booking's slots. Slots owned by anyone else are left
// alone.
func (s *Service) Release(ctx context.Context, b *domain.Booking) error {
	date, keys, month, err := s.locate(b)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.store.Mutate(ctx, b.VenueID, month, func(grid domain.SlotIndex) (bool, error) {
			changed := false
			for _, k := range keys {
				slot, ok := grid.Slot(b.CourtID, date, k)
				if !ok || slot.BookingID != b.ID {
					continue
				}
				grid.SetSlot(b.CourtID, date, k, domain.SlotState{Available: true})
				changed = true
			}
			return changed, nil
		})
	})
	if errors.Is(err, domain.ErrDocumentNotFound) {
		s.logger.Warn("availability document missing on release", zap.String("booking_id", b.ID), zap.String("month", month))
		return nil
	}
	return err
}

func (s *Service) locate(b *domain.Booking) (date string, keys []string, month string, err error) {
	if b == nil || b.ID == "" || b.VenueID == "" || b.CourtID == "" {
		return "", nil, "", domain.NewError(domain.KindValidation, "booking is missing venue or court")
	}
	date, keys, err = domain.CoveredSlots(b.StartTime, b.EndTime, s.step, s.loc)
	if err != nil {
		return "", nil, "", domain.Wrap(domain.KindValidation, err, "booking %s time range", b.ID)
	}
	month, err = domain.MonthOf(date)
	if err != nil {
		return "", nil, "", domain.Wrap(domain.KindValidation, err, "booking %s", b.ID)
	}
	return date, keys, month, nil
}
