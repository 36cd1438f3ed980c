package refund

import (
	"context"
	"fmt"

	"courtbook/internal/domain"

	"go.uber.org/zap"
)

type Service struct {
	bookings bookingRefunds
	gateway  refundGateway
	logger   *zap.Logger
}

func NewService(bookings bookingRefunds, gw refundGateway, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{bookings: bookings, gateway: gw, logger: logger}
}

// Request asks the gateway to refund a confirmed booking. The booking is
// marked refunding first so concurrent requests cannot both reach the
// gateway; the settled outcome arrives later as a gateway event.
func (s *Service) Request(ctx context.Context, req RefundRequest) (*RefundResponse, error) {
	if req.Amount != nil && *req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	current, err := s.bookings.Get(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	previous := current.RefundStatus

	b, err := s.bookings.ClaimRefund(ctx, req.BookingID, req.Reason)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("booking_id", b.ID), zap.String("payment_reference", b.Reference()))

	refund, err := s.createRefund(ctx, b, req)
	if err != nil {
		if rerr := s.bookings.ReleaseRefundClaim(ctx, b.ID, previous); rerr != nil {
			log.Error("failed to release refund claim", zap.Error(rerr))
		}
		log.Warn("refund request failed", zap.Error(err))
		return nil, err
	}

	res, err := s.bookings.RecordRefundCreated(ctx, b.ID, b.Reference(), refund.Reference)
	if err != nil {
		// The gateway already accepted the refund; its events will settle
		// the booking even if this write is lost.
		log.Error("failed to record refund", zap.String("refund_reference", refund.Reference), zap.Error(err))
		return nil, err
	}
	log.Info("refund requested", zap.String("refund_reference", refund.Reference), zap.Int64("amount", refund.Amount))

	return &RefundResponse{
		BookingID:        b.ID,
		PaymentReference: b.Reference(),
		RefundReference:  refund.Reference,
		Amount:           refund.Amount,
		RefundStatus:     string(res.Booking.RefundStatus),
	}, nil
}

func (s *Service) createRefund(ctx context.Context, b *domain.Booking, req RefundRequest) (*refundResult, error) {
	ref := b.Reference()
	if ref == "" {
		return nil, ErrNoPayment
	}
	charge, err := s.gateway.GetPayment(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load charge %s: %w", ref, err)
	}

	remaining := charge.Refundable()
	if remaining <= 0 {
		return nil, ErrNothingToRefund
	}
	amount := remaining
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount > remaining {
		return nil, domain.Wrap(domain.KindValidation, ErrExceedsCharge, "requested %d, refundable %d", amount, remaining)
	}

	meta := domain.Metadata{domain.MetaBookingID: b.ID}
	if req.Reason != "" {
		meta["reason"] = req.Reason
	}
	r, err := s.gateway.CreateRefund(ctx, ref, amount, meta)
	if err != nil {
		return nil, fmt.Errorf("create refund for %s: %w", ref, err)
	}
	return &refundResult{Reference: r.Reference, Amount: r.Amount}, nil
}

type refundResult struct {
	Reference string
	Amount    int64
}
