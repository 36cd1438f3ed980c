package booking

import (
	"context"
	"errors"

	"courtbook/internal/domain"
	"courtbook/internal/gateway"
	"courtbook/internal/modules/reservation"
	"courtbook/internal/pkg/metrics"
	"courtbook/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result reports what a transition did. Applied is false when the booking
// was already past the requested state; that is not an error.
type Result struct {
	Booking     *domain.Booking
	Applied     bool
	Recovered   bool
	Reservation reservation.Outcome
	Note        string
}

var (
	ErrNotConfirmed     = domain.NewError(domain.KindConflict, "booking is not confirmed")
	ErrAlreadyRefunding = domain.NewError(domain.KindConflict, "booking already has a refund in progress")
	ErrNotRefundable    = domain.NewError(domain.KindConflict, "booking payment cannot be refunded")
)

func refundable() []domain.PaymentStatus {
	return []domain.PaymentStatus{domain.PaymentPaid, domain.PaymentPartiallyRefunded}
}

func guardFor(payment []domain.PaymentStatus, statuses ...domain.BookingStatus) repository.Guard {
	return repository.Guard{PaymentIn: payment, StatusIn: statuses}
}

// MarkPaid settles a successful payment. A booking that cannot be found is
// rebuilt from the payment metadata. Slots are reserved before the booking
// is confirmed; a slot conflict never blocks confirmation but flags the
// booking for follow-up.
func (s *Service) MarkPaid(ctx context.Context, bookingID string, p *gateway.Payment) (*Result, error) {
	b, err := s.find(ctx, bookingID, p.Reference)
	if errors.Is(err, domain.ErrBookingNotFound) {
		return s.recoverFromPayment(ctx, bookingID, p)
	}
	if err != nil {
		return nil, err
	}
	return s.settlePaid(ctx, b, p)
}

func (s *Service) settlePaid(ctx context.Context, b *domain.Booking, p *gateway.Payment) (*Result, error) {
	if b.PaymentStatus.Settled() {
		if ref := b.Reference(); ref != "" && p.Reference != "" && ref != p.Reference {
			return s.flagDuplicateCharge(ctx, b, p)
		}
		return &Result{Booking: b, Note: "already " + string(b.PaymentStatus)}, nil
	}
	if !domain.CanTransition(b.PaymentStatus, domain.FromStatesForPaid()) {
		return &Result{Booking: b, Note: "cannot settle from " + string(b.PaymentStatus)}, nil
	}

	outcome, err := s.slots.Reserve(ctx, b)
	if domain.IsKind(err, domain.KindValidation) {
		s.logger.Warn("booking range cannot be reserved", zap.String("booking_id", b.ID), zap.Error(err))
		outcome, err = reservation.NotFound, nil
	}
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{
		"status":         domain.BookingConfirmed,
		"payment_status": domain.PaymentPaid,
		"cancelled_at":   nil,
	}
	switch outcome {
	case reservation.Reserved:
		fields["slots_reserved"] = true
	case reservation.Conflict:
		fields["attention_reason"] = domain.AttentionSlotConflict
	case reservation.NotFound:
		fields["attention_reason"] = domain.AttentionSlotsMissing
	}
	if b.PaymentReference == nil && p.Reference != "" {
		fields["payment_reference"] = p.Reference
	}

	res, err := s.apply(ctx, b, guardFor(domain.FromStatesForPaid()), fields, false)
	if err != nil {
		return nil, err
	}
	res.Reservation = outcome
	if !res.Applied {
		return res, nil
	}
	if outcome == reservation.Reserved {
		// An abandon or cancel that committed between Reserve and the paid
		// transition has released the slots again.
		s.confirmSlots(ctx, res)
	}
	if res.Reservation == reservation.Conflict {
		s.logger.Warn("paid booking lost its slots to another booking",
			zap.String("booking_id", b.ID),
			zap.String("payment_reference", p.Reference))
	}
	s.mintInvoice(ctx, res)
	return res, nil
}

// confirmSlots re-reserves the slots of a booking that has just become
// paid and corrects slots_reserved when they are no longer held. Once paid,
// nothing but a refund releases them, so the second reservation is final.
func (s *Service) confirmSlots(ctx context.Context, res *Result) {
	b := res.Booking
	outcome, err := s.slots.Reserve(ctx, b)
	if err == nil && outcome == reservation.Reserved {
		return
	}
	fields := map[string]interface{}{"slots_reserved": false, "updated_at": s.clock.Now()}
	switch {
	case err != nil:
		// Left for the repair sweep, which picks up paid bookings without slots.
		s.logger.Warn("slot re-check after payment failed", zap.String("booking_id", b.ID), zap.Error(err))
	case outcome == reservation.Conflict:
		fields["attention_reason"] = domain.AttentionSlotConflict
	case outcome == reservation.NotFound:
		fields["attention_reason"] = domain.AttentionSlotsMissing
	}
	if err == nil {
		res.Reservation = outcome
	}
	if uerr := s.bookings.Update(ctx, b.ID, fields); uerr != nil {
		s.logger.Error("failed to record lost slots", zap.String("booking_id", b.ID), zap.Error(uerr))
		return
	}
	if cur, gerr := s.bookings.GetByID(ctx, b.ID); gerr == nil {
		res.Booking = cur
	}
}

// flagDuplicateCharge marks a settled booking that received a success for a
// charge other than its own. The money has to be returned by an operator.
func (s *Service) flagDuplicateCharge(ctx context.Context, b *domain.Booking, p *gateway.Payment) (*Result, error) {
	if b.AttentionReason != domain.AttentionDuplicateCharge {
		if err := s.bookings.Update(ctx, b.ID, map[string]interface{}{
			"attention_reason": domain.AttentionDuplicateCharge,
			"updated_at":       s.clock.Now(),
		}); err != nil {
			return nil, err
		}
	}
	s.logger.Error("second charge succeeded for a settled booking",
		zap.String("booking_id", b.ID),
		zap.String("payment_reference", b.Reference()),
		zap.String("duplicate_reference", p.Reference))
	cur, err := s.bookings.GetByID(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Booking: cur, Note: "duplicate charge " + p.Reference}, nil
}

func (s *Service) recoverFromPayment(ctx context.Context, bookingID string, p *gateway.Payment) (*Result, error) {
	if bookingID == "" && p.Reference == "" {
		return nil, ErrMissingMetadata
	}
	b := s.emergencyBooking(bookingID, p)
	if err := s.bookings.Create(ctx, b); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			existing, ferr := s.find(ctx, b.ID, p.Reference)
			if ferr != nil {
				return nil, ferr
			}
			return s.settlePaid(ctx, existing, p)
		}
		return nil, err
	}
	s.logger.Warn("emergency booking created from payment",
		zap.String("booking_id", b.ID),
		zap.String("payment_reference", p.Reference),
		zap.String("court_id", b.CourtID),
		zap.String("date", b.Date))
	metrics.RecordTransition(string(domain.PaymentPaid))

	res := &Result{Booking: b, Applied: true, Recovered: true}
	fields := map[string]interface{}{}
	if b.VenueID != "" && b.CourtID != "" && b.EndTime.After(b.StartTime) {
		outcome, err := s.slots.Reserve(ctx, b)
		res.Reservation = outcome
		switch {
		case err != nil:
			// Left for the repair sweep.
			s.logger.Warn("slot reservation for emergency booking failed", zap.String("booking_id", b.ID), zap.Error(err))
		case outcome == reservation.Reserved:
			fields["slots_reserved"] = true
		case outcome == reservation.Conflict:
			fields["attention_reason"] = domain.AttentionSlotConflict
		default:
			fields["attention_reason"] = domain.AttentionSlotsMissing
		}
	} else {
		fields["attention_reason"] = domain.AttentionSlotsMissing
	}
	if len(fields) > 0 {
		fields["updated_at"] = s.clock.Now()
		if err := s.bookings.Update(ctx, b.ID, fields); err != nil {
			s.logger.Error("failed to record emergency booking slots", zap.String("booking_id", b.ID), zap.Error(err))
		}
	}
	if cur, err := s.bookings.GetByID(ctx, b.ID); err == nil {
		res.Booking = cur
	}
	s.mintInvoice(ctx, res)
	s.notify(ctx, Transition{Booking: res.Booking, From: ""})
	return res, nil
}

func (s *Service) emergencyBooking(bookingID string, p *gateway.Payment) *domain.Booking {
	meta := domain.Metadata(p.Metadata)
	now := s.clock.Now()
	if bookingID == "" {
		bookingID = uuid.NewString()
	}
	b := &domain.Booking{
		ID:                   bookingID,
		Price:                p.Amount,
		Currency:             p.Currency,
		Status:               domain.BookingConfirmed,
		PaymentStatus:        domain.PaymentPaid,
		RecoveredFromPayment: true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if p.Reference != "" {
		ref := p.Reference
		b.PaymentReference = &ref
	}
	b.VenueID, _ = meta.Lookup(domain.MetaVenueID)
	b.CourtID, _ = meta.Lookup(domain.MetaCourtID)
	b.UserID, _ = meta.Lookup(domain.MetaUserID)
	b.Date, _ = meta.Lookup(domain.MetaDate)
	if start, ok := meta.Time(domain.MetaStartTime); ok {
		b.StartTime = start
		if b.Date == "" {
			b.Date = start.In(s.settings.Location).Format(domain.DateLayout)
		}
	}
	if end, ok := meta.Time(domain.MetaEndTime); ok {
		b.EndTime = end
	}
	return b
}

func (s *Service) mintInvoice(ctx context.Context, res *Result) {
	if res.Booking.HasInvoice() {
		return
	}
	number, err := s.invoices.MintInvoice(ctx, res.Booking.ID)
	if err != nil {
		s.logger.Error("invoice minting failed", zap.String("booking_id", res.Booking.ID), zap.Error(err))
		return
	}
	res.Booking.InvoiceNumber = &number
}

// MarkFailed cancels a booking whose payment failed. Only bookings still
// waiting on the gateway move.
func (s *Service) MarkFailed(ctx context.Context, bookingID, ref, reason string) (*Result, error) {
	return s.cancelPayment(ctx, bookingID, ref, domain.PaymentFailed, reason)
}

func (s *Service) MarkCanceled(ctx context.Context, bookingID, ref, reason string) (*Result, error) {
	return s.cancelPayment(ctx, bookingID, ref, domain.PaymentCancelled, reason)
}

func (s *Service) cancelPayment(ctx context.Context, bookingID, ref string, to domain.PaymentStatus, reason string) (*Result, error) {
	b, err := s.find(ctx, bookingID, ref)
	if err != nil {
		if errors.Is(err, domain.ErrBookingNotFound) {
			return nil, domain.Wrap(domain.KindInconsistent, err, "%s payment for unknown booking %q", to, bookingID)
		}
		return nil, err
	}
	if !domain.CanTransition(b.PaymentStatus, domain.FromStatesForFailure()) {
		return &Result{Booking: b, Note: "already " + string(b.PaymentStatus)}, nil
	}
	if reason != "" {
		s.logger.Info("payment did not complete",
			zap.String("booking_id", b.ID),
			zap.String("payment_reference", ref),
			zap.String("reason", reason))
	}
	return s.apply(ctx, b, guardFor(domain.FromStatesForFailure()), map[string]interface{}{
		"status":         domain.BookingCancelled,
		"payment_status": to,
		"cancelled_at":   s.clock.Now(),
	}, true)
}

// MarkProcessing records that the gateway is working on the payment. It
// never demotes a settled or failed booking.
func (s *Service) MarkProcessing(ctx context.Context, bookingID, ref string) (*Result, error) {
	b, err := s.find(ctx, bookingID, ref)
	if err != nil {
		if errors.Is(err, domain.ErrBookingNotFound) {
			return nil, domain.Wrap(domain.KindInconsistent, err, "processing payment for unknown booking %q", bookingID)
		}
		return nil, err
	}
	if !domain.CanTransition(b.PaymentStatus, domain.FromStatesForProcessing()) {
		return &Result{Booking: b, Note: "already " + string(b.PaymentStatus)}, nil
	}
	fields := map[string]interface{}{"payment_status": domain.PaymentProcessing}
	if b.PaymentReference == nil && ref != "" {
		fields["payment_reference"] = ref
	}
	return s.apply(ctx, b, guardFor(domain.FromStatesForProcessing()), fields, false)
}

// Abandon expires a hold that stopped sending heartbeats.
func (s *Service) Abandon(ctx context.Context, bookingID string) (*Result, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingHolding || !domain.CanTransition(b.PaymentStatus, domain.FromStatesForAbandon()) {
		return &Result{Booking: b, Note: "not an open hold"}, nil
	}
	return s.apply(ctx, b, guardFor(domain.FromStatesForAbandon(), domain.BookingHolding), map[string]interface{}{
		"status":         domain.BookingCancelled,
		"payment_status": domain.PaymentAbandoned,
		"cancelled_at":   s.clock.Now(),
	}, true)
}

// ClaimRefund marks a confirmed booking as refunding so that only one
// refund request reaches the gateway at a time.
func (s *Service) ClaimRefund(ctx context.Context, bookingID, reason string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch {
	case b.Refunding():
		return nil, ErrAlreadyRefunding
	case b.Status != domain.BookingConfirmed:
		return nil, ErrNotConfirmed
	case !domain.CanTransition(b.PaymentStatus, refundable()):
		return nil, ErrNotRefundable
	}
	claimed, err := s.bookings.Transition(ctx, b.ID, repository.Guard{
		PaymentIn:    refundable(),
		StatusIn:     []domain.BookingStatus{domain.BookingConfirmed},
		NotRefunding: true,
	}, map[string]interface{}{
		"refund_status": domain.RefundPending,
		"refund_reason": reason,
		"updated_at":    s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrAlreadyRefunding
	}
	claimedBooking := *b
	claimedBooking.RefundStatus = domain.RefundPending
	claimedBooking.RefundReason = reason
	return &claimedBooking, nil
}

// ReleaseRefundClaim undoes ClaimRefund after the gateway refused or could
// not be reached.
func (s *Service) ReleaseRefundClaim(ctx context.Context, bookingID string, previous domain.RefundStatus) error {
	_, err := s.bookings.Transition(ctx, bookingID, repository.Guard{
		RefundIn: []domain.RefundStatus{domain.RefundPending},
	}, map[string]interface{}{
		"refund_status": previous,
		"updated_at":    s.clock.Now(),
	})
	return err
}

// RecordRefundCreated attaches a gateway refund to the booking.
func (s *Service) RecordRefundCreated(ctx context.Context, bookingID, ref, refundRef string) (*Result, error) {
	b, err := s.find(ctx, bookingID, ref)
	if err != nil {
		if errors.Is(err, domain.ErrBookingNotFound) {
			return nil, domain.Wrap(domain.KindInconsistent, err, "refund %s for unknown booking %q", refundRef, bookingID)
		}
		return nil, err
	}
	applied, err := s.bookings.Transition(ctx, b.ID, repository.Guard{
		PaymentIn: refundable(),
		RefundIn:  []domain.RefundStatus{domain.RefundNone, domain.RefundPending, domain.RefundFailed},
	}, map[string]interface{}{
		"refund_reference": refundRef,
		"refund_status":    domain.RefundPending,
		"updated_at":       s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	cur, err := s.bookings.GetByID(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Booking: cur, Applied: applied}, nil
}

// CompleteRefund applies a settled refund. totalRefunded is the amount
// refunded on the charge so far; a full refund cancels the booking and
// frees its slots, a partial one keeps it confirmed.
func (s *Service) CompleteRefund(ctx context.Context, bookingID, ref, refundRef string, totalRefunded, chargeAmount int64) (*Result, error) {
	b, err := s.find(ctx, bookingID, ref)
	if err != nil {
		if errors.Is(err, domain.ErrBookingNotFound) {
			return nil, domain.Wrap(domain.KindInconsistent, err, "refund for unknown booking %q", bookingID)
		}
		return nil, err
	}
	if b.PaymentStatus.Terminal() {
		return &Result{Booking: b, Note: "already refunded"}, nil
	}
	if !domain.CanTransition(b.PaymentStatus, refundable()) {
		return &Result{Booking: b, Note: "cannot refund from " + string(b.PaymentStatus)}, nil
	}
	if chargeAmount <= 0 {
		chargeAmount = b.Price
	}

	fields := map[string]interface{}{
		"refund_status": domain.RefundSucceeded,
		"refund_amount": totalRefunded,
	}
	if refundRef != "" {
		fields["refund_reference"] = refundRef
	}
	if totalRefunded >= chargeAmount {
		fields["status"] = domain.BookingCancelled
		fields["payment_status"] = domain.PaymentRefunded
		fields["cancelled_at"] = s.clock.Now()
		return s.apply(ctx, b, guardFor(refundable()), fields, true)
	}
	if b.PaymentStatus == domain.PaymentPartiallyRefunded && b.RefundAmount >= totalRefunded && !b.Refunding() {
		return &Result{Booking: b, Note: "partial refund already recorded"}, nil
	}
	fields["payment_status"] = domain.PaymentPartiallyRefunded
	return s.apply(ctx, b, guardFor(refundable()), fields, false)
}

// FailRefund keeps the booking confirmed and flags it for manual follow-up.
func (s *Service) FailRefund(ctx context.Context, bookingID, ref, reason string) (*Result, error) {
	b, err := s.find(ctx, bookingID, ref)
	if err != nil {
		if errors.Is(err, domain.ErrBookingNotFound) {
			return nil, domain.Wrap(domain.KindInconsistent, err, "failed refund for unknown booking %q", bookingID)
		}
		return nil, err
	}
	applied, err := s.bookings.Transition(ctx, b.ID, repository.Guard{PaymentIn: refundable()}, map[string]interface{}{
		"refund_status":    domain.RefundFailed,
		"attention_reason": domain.AttentionRefundFailed,
		"updated_at":       s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	if applied {
		s.logger.Warn("refund failed, booking flagged",
			zap.String("booking_id", b.ID),
			zap.String("payment_reference", b.Reference()),
			zap.String("reason", reason))
	}
	cur, err := s.bookings.GetByID(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Booking: cur, Applied: applied}, nil
}

// Sync drives the booking to match the gateway's view of its payment.
func (s *Service) Sync(ctx context.Context, bookingID string, p *gateway.Payment) (*Result, error) {
	switch p.Status {
	case gateway.StatusSucceeded:
		res, err := s.MarkPaid(ctx, bookingID, p)
		if err != nil || p.AmountRefunded <= 0 {
			return res, err
		}
		return s.CompleteRefund(ctx, res.Booking.ID, p.Reference, "", p.AmountRefunded, p.Amount)
	case gateway.StatusFailed:
		return s.MarkFailed(ctx, bookingID, p.Reference, p.FailureReason)
	case gateway.StatusCanceled:
		return s.MarkCanceled(ctx, bookingID, p.Reference, p.FailureReason)
	case gateway.StatusProcessing:
		return s.MarkProcessing(ctx, bookingID, p.Reference)
	}
	return nil, domain.NewError(domain.KindValidation, "unknown gateway status "+string(p.Status))
}

// RepairSlots retries the reservation for a paid booking whose slots were
// never recorded, and mints a missing invoice number.
func (s *Service) RepairSlots(ctx context.Context, b *domain.Booking) (*Result, error) {
	res := &Result{Booking: b}
	if !b.SlotsReserved {
		outcome, err := s.slots.Reserve(ctx, b)
		if err != nil {
			return nil, err
		}
		res.Reservation = outcome
		fields := map[string]interface{}{"updated_at": s.clock.Now()}
		switch outcome {
		case reservation.Reserved:
			fields["slots_reserved"] = true
			if b.AttentionReason == domain.AttentionSlotsMissing {
				fields["attention_reason"] = ""
			}
		case reservation.Conflict:
			fields["attention_reason"] = domain.AttentionSlotConflict
		case reservation.NotFound:
			fields["attention_reason"] = domain.AttentionSlotsMissing
		}
		applied, err := s.bookings.Transition(ctx, b.ID, repository.Guard{
			PaymentIn: []domain.PaymentStatus{domain.PaymentPaid},
			StatusIn:  []domain.BookingStatus{domain.BookingConfirmed},
		}, fields)
		if err != nil {
			return nil, err
		}
		res.Applied = applied
	}
	s.mintInvoice(ctx, res)
	if cur, err := s.bookings.GetByID(ctx, b.ID); err == nil {
		res.Booking = cur
	}
	return res, nil
}

// ReleaseLeaked frees slots still held by a cancelled booking.
func (s *Service) ReleaseLeaked(ctx context.Context, b *domain.Booking) error {
	if err := s.slots.Release(ctx, b); err != nil {
		return err
	}
	_, err := s.bookings.Transition(ctx, b.ID, repository.Guard{
		StatusIn: []domain.BookingStatus{domain.BookingCancelled},
	}, map[string]interface{}{"slots_reserved": false, "updated_at": s.clock.Now()})
	return err
}

func (s *Service) find(ctx context.Context, bookingID, ref string) (*domain.Booking, error) {
	if bookingID != "" {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if !errors.Is(err, domain.ErrBookingNotFound) {
			return b, err
		}
	}
	if ref != "" {
		return s.bookings.GetByPaymentReference(ctx, ref)
	}
	return nil, domain.ErrBookingNotFound
}

// apply runs one guarded transition, reloads the booking, and on success
// optionally frees its slots and tells listeners.
func (s *Service) apply(ctx context.Context, b *domain.Booking, g repository.Guard, fields map[string]interface{}, release bool) (*Result, error) {
	fields["updated_at"] = s.clock.Now()
	applied, err := s.bookings.Transition(ctx, b.ID, g, fields)
	if err != nil {
		return nil, err
	}
	cur, err := s.bookings.GetByID(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	res := &Result{Booking: cur, Applied: applied}
	if !applied {
		res.Note = "already " + string(cur.PaymentStatus)
		return res, nil
	}

	metrics.RecordTransition(string(cur.PaymentStatus))
	s.logger.Info("booking transitioned",
		zap.String("booking_id", cur.ID),
		zap.String("payment_reference", cur.Reference()),
		zap.String("from", string(b.PaymentStatus)),
		zap.String("to", string(cur.PaymentStatus)),
		zap.String("status", string(cur.Status)))

	if release {
		s.releaseAfter(ctx, cur)
	}
	s.notify(ctx, Transition{Booking: cur, From: b.PaymentStatus})
	return res, nil
}

func (s *Service) releaseAfter(ctx context.Context, b *domain.Booking) {
	if err := s.slots.Release(ctx, b); err != nil {
		s.logger.Error("slot release failed, left for cleanup",
			zap.String("booking_id", b.ID), zap.Error(err))
		if uerr := s.bookings.Update(ctx, b.ID, map[string]interface{}{"slots_reserved": true}); uerr != nil {
			s.logger.Error("failed to mark leaked slots", zap.String("booking_id", b.ID), zap.Error(uerr))
		}
		b.SlotsReserved = true
		return
	}
	if b.SlotsReserved {
		if err := s.bookings.Update(ctx, b.ID, map[string]interface{}{"slots_reserved": false}); err != nil {
			s.logger.Error("failed to clear slots flag", zap.String("booking_id", b.ID), zap.Error(err))
			return
		}
		b.SlotsReserved = false
	}
}
