package admin

import (
	"context"

	"courtbook/internal/domain"
	"courtbook/internal/modules/payment"
	"courtbook/internal/pkg/clock"

	"go.uber.org/zap"
)

// attentionScan bounds the rows read when counting flagged bookings.
const attentionScan = 500

var ErrNoAttention = domain.NewError(domain.KindConflict, "booking is not flagged for attention")

// Service backs the operator console: pipeline health, flagged bookings and
// webhook event history.
type Service struct {
	bookings BookingRepository
	events   EventRepository
	ledger   LedgerReader
	archive  ArchiveCounter
	replayer EventReplayer
	clock    clock.Clock
	logger   *zap.Logger
}

func NewService(
	bookings BookingRepository,
	events EventRepository,
	ledger LedgerReader,
	archive ArchiveCounter,
	replayer EventReplayer,
	clk clock.Clock,
	logger *zap.Logger,
) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		bookings: bookings,
		events:   events,
		ledger:   ledger,
		archive:  archive,
		replayer: replayer,
		clock:    clk,
		logger:   logger,
	}
}

func (s *Service) GetStatistics(ctx context.Context) (*StatisticsResponse, error) {
	counts, err := s.bookings.CountByPaymentStatus(ctx)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, n := range counts {
		total += n
	}

	flagged, err := s.bookings.ListAttention(ctx, attentionScan)
	if err != nil {
		return nil, err
	}
	unprocessed, err := s.events.CountUnprocessed(ctx)
	if err != nil {
		return nil, err
	}
	archived, err := s.archive.CountArchived(ctx)
	if err != nil {
		return nil, err
	}

	return &StatisticsResponse{
		Bookings:          counts,
		TotalBookings:     total,
		NeedingAttention:  len(flagged),
		UnprocessedEvents: unprocessed,
		Archived:          archived,
	}, nil
}

// ListAttention returns bookings flagged by the pipeline, newest first.
func (s *Service) ListAttention(ctx context.Context, limit int) ([]domain.Booking, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	list, err := s.bookings.ListAttention(ctx, limit)
	return list, limit, err
}

// ClearAttention acknowledges a flagged booking.
func (s *Service) ClearAttention(ctx context.Context, bookingID, adminID string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	cleared, err := s.bookings.ClearAttention(ctx, bookingID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !cleared {
		return nil, ErrNoAttention
	}
	s.logger.Info("attention cleared",
		zap.String("booking_id", bookingID),
		zap.String("reason", b.AttentionReason),
		zap.String("admin_id", adminID))
	return s.bookings.GetByID(ctx, bookingID)
}

func (s *Service) BookingLedger(ctx context.Context, bookingID string) (*BookingLedgerResponse, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	txs, err := s.ledger.TransactionsForBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return &BookingLedgerResponse{Booking: b, Transactions: txs}, nil
}

func (s *Service) GetEvent(ctx context.Context, eventID string) (*EventDetailResponse, error) {
	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	audit, err := s.ledger.AuditForEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &EventDetailResponse{Event: ev, Audit: audit}, nil
}

// ReprocessEvent runs a stored event through the processor again. Events
// already closed come back as already_processed.
func (s *Service) ReprocessEvent(ctx context.Context, eventID, adminID string) (payment.ProcessingResult, error) {
	res, err := s.replayer.Reprocess(ctx, eventID)
	s.logger.Info("webhook event reprocessed",
		zap.String("event_id", eventID),
		zap.String("status", string(res.Status)),
		zap.String("admin_id", adminID),
		zap.Error(err))
	return res, err
}
