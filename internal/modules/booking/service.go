package booking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/gateway"
	"courtbook/internal/pkg/clock"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Settings struct {
	SlotGranularity time.Duration
	Location        *time.Location
	Currency        string
	PricePerSlot    int64
	ReturnURI       string
}

// Transition describes an applied payment state change.
type Transition struct {
	Booking *domain.Booking
	From    domain.PaymentStatus
}

// Listener observes applied transitions. Listeners run after the write has
// committed; their failures never undo it.
type Listener func(ctx context.Context, t Transition)

type Service struct {
	bookings     BookingRepository
	availability AvailabilityReader
	slots        SlotReserver
	invoices     InvoiceMinter
	payments     PaymentGateway
	clock        clock.Clock
	settings     Settings
	logger       *zap.Logger

	mu        sync.RWMutex
	listeners []Listener
}

func NewService(
	bookings BookingRepository,
	availability AvailabilityReader,
	slots SlotReserver,
	invoices InvoiceMinter,
	payments PaymentGateway,
	clk clock.Clock,
	settings Settings,
	logger *zap.Logger,
) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.SlotGranularity <= 0 {
		settings.SlotGranularity = domain.DefaultSlotGranularity
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	return &Service{
		bookings:     bookings,
		availability: availability,
		slots:        slots,
		invoices:     invoices,
		payments:     payments,
		clock:        clk,
		settings:     settings,
		logger:       logger,
	}
}

func (s *Service) OnTransition(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// CreateHold records a booking intent. No slot is reserved; the grid is
// only consulted so that obviously taken ranges are refused early.
func (s *Service) CreateHold(ctx context.Context, req CreateBookingRequest) (*domain.Booking, error) {
	if !req.EndTime.After(req.StartTime) {
		return nil, domain.Wrap(domain.KindValidation, ErrValidation, "end_time must be after start_time")
	}
	now := s.clock.Now()
	if req.EndTime.Before(now) {
		return nil, domain.Wrap(domain.KindValidation, ErrValidation, "booking range is in the past")
	}
	date, keys, err := domain.CoveredSlots(req.StartTime, req.EndTime, s.settings.SlotGranularity, s.settings.Location)
	if err != nil {
		return nil, domain.Wrap(domain.KindValidation, ErrValidation, "%v", err)
	}
	month, _ := domain.MonthOf(date)

	doc, err := s.availability.Get(ctx, req.VenueID, month)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return nil, ErrNoAvailability
	}
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		slot, ok := doc.Grid.Slot(req.CourtID, date, k)
		if !ok {
			return nil, ErrNoAvailability
		}
		if !slot.Available {
			return nil, ErrSlotUnavailable
		}
	}

	price := s.settings.PricePerSlot * int64(len(keys))
	if req.Price != nil {
		price = *req.Price
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = s.settings.Currency
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	b := &domain.Booking{
		ID:            id,
		VenueID:       req.VenueID,
		CourtID:       req.CourtID,
		UserID:        req.UserID,
		Date:          date,
		StartTime:     req.StartTime.UTC(),
		EndTime:       req.EndTime.UTC(),
		Price:         price,
		Currency:      currency,
		Status:        domain.BookingHolding,
		PaymentStatus: domain.PaymentPending,
		LastActive:    &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.bookings.Create(ctx, b); err != nil {
		return nil, err
	}
	s.logger.Info("booking hold created",
		zap.String("booking_id", b.ID),
		zap.String("court_id", b.CourtID),
		zap.String("date", b.Date))
	return b, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

// Heartbeat keeps a hold alive while the customer is on the payment page.
func (s *Service) Heartbeat(ctx context.Context, id string) (*domain.Booking, error) {
	touched, err := s.bookings.Touch(ctx, id, s.clock.Now())
	if err != nil {
		return nil, err
	}
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !touched {
		return b, ErrNotHolding
	}
	return b, nil
}

// Cancel withdraws a hold before any payment attempt is in flight.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == domain.BookingCancelled {
		return b, nil
	}
	res, err := s.apply(ctx, b, guardFor(domain.FromStatesForProcessing(), domain.BookingHolding), map[string]interface{}{
		"status":         domain.BookingCancelled,
		"payment_status": domain.PaymentCancelled,
		"cancelled_at":   s.clock.Now(),
	}, true)
	if err != nil {
		return nil, err
	}
	if !res.Applied {
		return res.Booking, ErrNotHolding
	}
	return res.Booking, nil
}

// paymentClaimTTL bounds how long a crashed request can block a hold from
// getting a charge.
const paymentClaimTTL = time.Minute

// RequestPayment creates the gateway charge for a hold, or returns the one
// already attached to it. Only the request holding the booking's payment
// claim talks to the gateway, so concurrent requests never produce two
// charges.
func (s *Service) RequestPayment(ctx context.Context, id string, req PaymentRequest) (*gateway.Payment, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ref := b.Reference(); ref != "" {
		return s.payments.GetPayment(ctx, ref)
	}
	if b.Status != domain.BookingHolding {
		return nil, ErrNotHolding
	}
	if !domain.CanTransition(b.PaymentStatus, domain.FromStatesForProcessing()) {
		return nil, ErrPaymentSettled
	}

	now := s.clock.Now()
	claim := uuid.NewString()
	claimed, err := s.bookings.ClaimPayment(ctx, b.ID, claim, now, now.Add(-paymentClaimTTL))
	if err != nil {
		return nil, err
	}
	if !claimed {
		cur, err := s.bookings.GetByID(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		if ref := cur.Reference(); ref != "" {
			return s.payments.GetPayment(ctx, ref)
		}
		if cur.Status != domain.BookingHolding {
			return nil, ErrNotHolding
		}
		return nil, ErrPaymentPending
	}

	returnURI := req.ReturnURI
	if returnURI == "" {
		returnURI = s.settings.ReturnURI
	}
	p, err := s.payments.CreatePayment(ctx, gateway.CreatePaymentRequest{
		Amount:    b.Price,
		Currency:  b.Currency,
		Card:      req.Card,
		Source:    req.Source,
		ReturnURI: returnURI,
		Metadata:  domain.BookingMetadata(b),
	})
	if err != nil {
		if rerr := s.bookings.ReleasePaymentClaim(ctx, b.ID, claim); rerr != nil {
			s.logger.Warn("failed to release payment claim", zap.String("booking_id", b.ID), zap.Error(rerr))
		}
		return nil, err
	}

	attached, err := s.bookings.SetPaymentReference(ctx, b.ID, p.Reference, claim, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !attached {
		// The claim expired or the hold ended while the gateway was busy.
		// The charge still carries the booking id, so its events settle or
		// flag the booking.
		s.logger.Error("charge created without a hold to attach to",
			zap.String("booking_id", b.ID),
			zap.String("payment_reference", p.Reference))
		return nil, ErrNotHolding
	}
	s.logger.Info("payment requested",
		zap.String("booking_id", b.ID),
		zap.String("payment_reference", p.Reference),
		zap.Int64("amount", p.Amount))
	return p, nil
}

// Availability returns the court's slots for one local day.
func (s *Service) Availability(ctx context.Context, venueID, courtID, date string) ([]domain.DaySlot, error) {
	month, err := domain.MonthOf(date)
	if err != nil {
		return nil, domain.Wrap(domain.KindValidation, ErrValidation, "%v", err)
	}
	doc, err := s.availability.Get(ctx, venueID, month)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return nil, ErrNoAvailability
	}
	if err != nil {
		return nil, err
	}
	day := doc.Grid.Day(courtID, date)
	if len(day) == 0 {
		return nil, ErrNoAvailability
	}
	return day, nil
}

func (s *Service) notify(ctx context.Context, t Transition) {
	s.mu.RLock()
	ls := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("transition listener panicked",
						zap.String("booking_id", t.Booking.ID),
						zap.Any("panic", r))
				}
			}()
			l(ctx, t)
		}()
	}
}
