package reconcile

import (
	"context"
	"errors"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/gateway"

	"go.uber.org/zap"
)

type Mode string

const (
	ModeSingle  Mode = "single"
	ModeScan    Mode = "scan"
	ModeCleanup Mode = "cleanup"
)

// replayDelay keeps scan recovery away from events that are still being
// handled by a live delivery.
const replayDelay = time.Minute

var (
	ErrUnknownMode   = domain.NewError(domain.KindValidation, "mode must be one of: single, scan, cleanup")
	ErrNoTarget      = domain.NewError(domain.KindValidation, "single recovery needs bookingId or paymentIntentId")
	ErrNoBookingData = domain.NewError(domain.KindNotFound, "no booking or payment found for recovery target")
)

type RecoveryRequest struct {
	Mode             Mode   `json:"mode" validate:"required,oneof=single scan cleanup"`
	BookingID        string `json:"bookingId,omitempty" validate:"omitempty,max=64"`
	PaymentReference string `json:"paymentIntentId,omitempty" validate:"omitempty,max=128"`
	// Days overrides the archive age for cleanup.
	Days int `json:"days,omitempty" validate:"omitempty,gte=1,lte=3650"`
}

type RecoveryResult struct {
	Mode    Mode            `json:"mode"`
	Booking *domain.Booking `json:"booking,omitempty"`
	Reports []*Report       `json:"reports,omitempty"`
}

// Recover is the operator entry point behind the recovery endpoint and
// cmd/reconcile.
func (s *Service) Recover(ctx context.Context, req RecoveryRequest) (*RecoveryResult, error) {
	out := &RecoveryResult{Mode: req.Mode}
	switch req.Mode {
	case ModeSingle:
		b, err := s.recoverSingle(ctx, req.BookingID, req.PaymentReference)
		if err != nil {
			return nil, err
		}
		out.Booking = b
	case ModeScan:
		rep, err := s.ReplayEvents(ctx, s.clock.Now().Add(-replayDelay))
		if err != nil {
			return nil, err
		}
		out.Reports = append(out.Reports, rep)
		for _, sweep := range []func(context.Context) (*Report, error){s.ReconcilePayments, s.RepairIncomplete} {
			rep, err := sweep(ctx)
			if err != nil {
				return nil, err
			}
			out.Reports = append(out.Reports, rep)
		}
	case ModeCleanup:
		rep, err := s.SweepStaleHolds(ctx)
		if err != nil {
			return nil, err
		}
		out.Reports = append(out.Reports, rep)
		age := s.settings.ArchiveAfter
		if req.Days > 0 {
			age = time.Duration(req.Days) * 24 * time.Hour
		}
		rep, err = s.archiveOlderThan(ctx, age)
		if err != nil {
			return nil, err
		}
		out.Reports = append(out.Reports, rep)
	default:
		return nil, ErrUnknownMode
	}
	s.logger.Info("recovery finished",
		zap.String("mode", string(req.Mode)),
		zap.String("booking_id", req.BookingID),
		zap.String("payment_reference", req.PaymentReference))
	return out, nil
}

// recoverSingle brings one booking in line with the gateway. Given only a
// payment reference for a charge with no local booking, the success path
// recreates the booking from the charge metadata.
func (s *Service) recoverSingle(ctx context.Context, bookingID, ref string) (*domain.Booking, error) {
	if bookingID == "" && ref == "" {
		return nil, ErrNoTarget
	}

	b, err := s.lookup(ctx, bookingID, ref)
	if err != nil && !errors.Is(err, domain.ErrBookingNotFound) {
		return nil, err
	}
	if b != nil && b.Reference() != "" {
		ref = b.Reference()
	}

	if ref != "" {
		p, err := s.payments.GetPayment(ctx, ref)
		switch {
		case errors.Is(err, gateway.ErrNotFound):
			if b == nil {
				return nil, ErrNoBookingData
			}
		case err != nil:
			return nil, err
		default:
			id := bookingID
			if b != nil {
				id = b.ID
			} else if id == "" {
				id, _ = domain.Metadata(p.Metadata).Lookup(domain.MetaBookingID)
			}
			res, err := s.transitions.Sync(ctx, id, p)
			if err != nil {
				return nil, err
			}
			b = res.Booking
		}
	}
	if b == nil {
		return nil, ErrNoBookingData
	}

	if b.PaymentStatus == domain.PaymentPaid && (!b.SlotsReserved || !b.HasInvoice()) {
		res, err := s.transitions.RepairSlots(ctx, b)
		if err != nil {
			return nil, err
		}
		b = res.Booking
	}
	if b.Status == domain.BookingCancelled && b.SlotsReserved {
		if err := s.transitions.ReleaseLeaked(ctx, b); err != nil {
			return nil, err
		}
	}
	return s.bookings.GetByID(ctx, b.ID)
}

func (s *Service) lookup(ctx context.Context, bookingID, ref string) (*domain.Booking, error) {
	if bookingID != "" {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err == nil || !errors.Is(err, domain.ErrBookingNotFound) {
			return b, err
		}
	}
	if ref != "" {
		return s.bookings.GetByPaymentReference(ctx, ref)
	}
	return nil, domain.ErrBookingNotFound
}
