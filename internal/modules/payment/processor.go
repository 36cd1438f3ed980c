package payment

import (
	"context"
	"errors"
	"fmt"

	"courtbook/internal/domain"
	"courtbook/internal/gateway"
	"courtbook/internal/modules/booking"
	"courtbook/internal/pkg/clock"
	"courtbook/internal/pkg/metrics"
	"courtbook/internal/pkg/retry"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusProcessed        Status = "processed"
	StatusAlreadyProcessed Status = "already_processed"
	StatusIgnored          Status = "ignored"
	// StatusFailed events are closed with an error and will not be retried
	// by redelivery; reconciliation picks up the booking.
	StatusFailed Status = "failed"
	// StatusDeferred events hit a fatal error and stay open so the gateway
	// can redeliver them.
	StatusDeferred Status = "deferred"
)

type ProcessingResult struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	Status    Status `json:"status"`
	BookingID string `json:"booking_id,omitempty"`
	Applied   bool   `json:"applied"`
	Detail    string `json:"detail,omitempty"`
}

const component = "payment_processor"

type Processor struct {
	events   eventStore
	ledger   ledgerWriter
	bookings bookingTransitions
	charges  chargeLookup
	clock    clock.Clock
	policy   retry.Policy
	logger   *zap.Logger
}

func NewProcessor(events eventStore, ledger ledgerWriter, bookings bookingTransitions, charges chargeLookup, clk clock.Clock, logger *zap.Logger) *Processor {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		events:   events,
		ledger:   ledger,
		bookings: bookings,
		charges:  charges,
		clock:    clk,
		policy:   retry.DefaultPolicy(),
		logger:   logger,
	}
}

func (p *Processor) WithPolicy(policy retry.Policy) *Processor {
	p.policy = policy
	return p
}

// Handle stores ev, skips it if it was already processed, and otherwise
// drives the booking state machine. A non-nil error means the event was
// left open and should be redelivered.
func (p *Processor) Handle(ctx context.Context, ev Event) (ProcessingResult, error) {
	env := ev.Meta()
	res := ProcessingResult{EventID: env.ID, Type: env.Type, BookingID: env.BookingID()}

	row := &domain.WebhookEvent{
		ID:         env.ID,
		Type:       env.Type,
		RawPayload: datatypes.JSON(env.Raw),
		BookingID:  res.BookingID,
		ReceivedAt: p.clock.Now(),
	}
	created, err := p.events.InsertIfAbsent(ctx, row)
	if err != nil {
		return res, err
	}
	if !created {
		stored, err := p.events.Get(ctx, env.ID)
		if err != nil {
			return res, err
		}
		if stored.Processed {
			res.Status = StatusAlreadyProcessed
			res.Detail = stored.Result
			metrics.RecordWebhookEvent(env.Type, string(res.Status))
			p.logger.Info("duplicate payment event ignored", zap.String("event_id", env.ID), zap.String("type", env.Type))
			return res, nil
		}
	}
	return p.process(ctx, ev, res)
}

// Reprocess runs a stored, still open event again.
func (p *Processor) Reprocess(ctx context.Context, eventID string) (ProcessingResult, error) {
	stored, err := p.events.Get(ctx, eventID)
	if err != nil {
		return ProcessingResult{EventID: eventID}, err
	}
	res := ProcessingResult{EventID: stored.ID, Type: stored.Type, BookingID: stored.BookingID}
	if stored.Processed {
		res.Status = StatusAlreadyProcessed
		res.Detail = stored.Result
		return res, nil
	}
	ev, err := ParseEvent(stored.RawPayload)
	if err != nil {
		return p.close(ctx, res, err)
	}
	return p.process(ctx, ev, res)
}

func (p *Processor) process(ctx context.Context, ev Event, res ProcessingResult) (ProcessingResult, error) {
	env := ev.Meta()
	if err := p.events.IncrementAttempts(ctx, env.ID); err != nil {
		p.logger.Warn("failed to count event attempt", zap.String("event_id", env.ID), zap.Error(err))
	}

	var out *booking.Result
	err := retry.Do(ctx, p.policy, func(ctx context.Context) error {
		var err error
		out, err = p.dispatch(ctx, ev)
		return err
	})

	if err == nil {
		res.Status = StatusProcessed
		if out == nil {
			res.Status = StatusIgnored
			res.Detail = "no handler for " + env.Type
		} else {
			res.Applied = out.Applied
			res.Detail = out.Note
			if out.Booking != nil {
				res.BookingID = out.Booking.ID
			}
			if out.Recovered {
				res.Detail = "emergency booking created"
			}
		}
		p.appendTransaction(ctx, ev, res)
	}
	return p.close(ctx, res, err)
}

// close records the outcome. Fatal errors leave the event open.
func (p *Processor) close(ctx context.Context, res ProcessingResult, procErr error) (ProcessingResult, error) {
	log := p.logger.With(zap.String("event_id", res.EventID), zap.String("type", res.Type), zap.String("booking_id", res.BookingID))

	if procErr != nil {
		p.audit(ctx, res, procErr)
		if fatal(procErr) {
			res.Status = StatusDeferred
			res.Detail = procErr.Error()
			if err := p.events.RecordFailure(ctx, res.EventID, procErr.Error()); err != nil {
				log.Error("failed to record event failure", zap.Error(err))
			}
			metrics.RecordWebhookEvent(res.Type, string(res.Status))
			log.Error("payment event deferred", zap.Error(procErr))
			return res, procErr
		}
		res.Status = StatusFailed
		res.Detail = procErr.Error()
		log.Warn("payment event failed", zap.String("kind", string(domain.KindOf(procErr))), zap.Error(procErr))
	}

	errMsg := ""
	if procErr != nil {
		errMsg = procErr.Error()
	}
	if _, err := p.events.MarkProcessed(ctx, res.EventID, string(res.Status), errMsg, p.clock.Now()); err != nil {
		log.Error("failed to mark event processed", zap.Error(err))
		return res, err
	}
	metrics.RecordWebhookEvent(res.Type, string(res.Status))
	if procErr == nil {
		log.Info("payment event processed", zap.String("status", string(res.Status)), zap.Bool("applied", res.Applied))
	}
	return res, nil
}

func (p *Processor) dispatch(ctx context.Context, ev Event) (*booking.Result, error) {
	switch e := ev.(type) {
	case PaymentEvent:
		pay := e.Payment
		switch pay.Status {
		case gateway.StatusSucceeded:
			if pay.AmountRefunded > 0 {
				if _, err := p.bookings.MarkPaid(ctx, e.BookingID(), &pay); err != nil {
					return nil, err
				}
				return p.bookings.CompleteRefund(ctx, e.BookingID(), pay.Reference, "", pay.AmountRefunded, pay.Amount)
			}
			return p.bookings.MarkPaid(ctx, e.BookingID(), &pay)
		case gateway.StatusFailed:
			return p.bookings.MarkFailed(ctx, e.BookingID(), pay.Reference, pay.FailureReason)
		case gateway.StatusCanceled:
			return p.bookings.MarkCanceled(ctx, e.BookingID(), pay.Reference, pay.FailureReason)
		default:
			return p.bookings.MarkProcessing(ctx, e.BookingID(), pay.Reference)
		}

	case RefundEvent:
		switch {
		case e.Phase == RefundFailed || e.Status == "failed" || e.Status == "canceled":
			reason := e.FailureReason
			if reason == "" {
				reason = "refund " + e.Status
			}
			return p.bookings.FailRefund(ctx, e.BookingID(), e.PaymentReference, reason)
		case e.Phase == RefundCreated || e.Status == "pending" || e.Status == "":
			return p.bookings.RecordRefundCreated(ctx, e.BookingID(), e.PaymentReference, e.RefundReference)
		case e.Status == "succeeded":
			total, charged, err := p.refundTotals(ctx, e)
			if err != nil {
				return nil, err
			}
			return p.bookings.CompleteRefund(ctx, e.BookingID(), e.PaymentReference, e.RefundReference, total, charged)
		}
		return nil, domain.NewError(domain.KindValidation, "unknown refund status "+e.Status)

	case ChargeRefundedEvent:
		pay := e.Payment
		return p.bookings.CompleteRefund(ctx, e.BookingID(), pay.Reference, "", pay.AmountRefunded, pay.Amount)
	}
	return nil, nil
}

// refundTotals asks the gateway for the charge's cumulative refunded
// amount, falling back to the event's own amount.
func (p *Processor) refundTotals(ctx context.Context, e RefundEvent) (int64, int64, error) {
	if p.charges == nil || e.PaymentReference == "" {
		return e.Amount, 0, nil
	}
	charge, err := p.charges.GetPayment(ctx, e.PaymentReference)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return e.Amount, 0, nil
		}
		return 0, 0, err
	}
	total := charge.AmountRefunded
	if total < e.Amount {
		total = e.Amount
	}
	return total, charge.Amount, nil
}

func (p *Processor) appendTransaction(ctx context.Context, ev Event, res ProcessingResult) {
	entry := &domain.PaymentTransactionLog{
		BookingID: res.BookingID,
		EventID:   res.EventID,
		Kind:      res.Type,
		Status:    string(res.Status),
		Detail:    res.Detail,
		CreatedAt: p.clock.Now(),
	}
	switch e := ev.(type) {
	case PaymentEvent:
		entry.PaymentReference = e.Payment.Reference
		entry.Amount = e.Payment.Amount
	case RefundEvent:
		entry.PaymentReference = e.PaymentReference
		entry.Amount = e.Amount
	case ChargeRefundedEvent:
		entry.PaymentReference = e.Payment.Reference
		entry.Amount = e.Payment.AmountRefunded
	}
	if err := p.ledger.AppendTransaction(ctx, entry); err != nil {
		p.logger.Error("failed to append payment log", zap.String("event_id", res.EventID), zap.Error(err))
	}
}

func (p *Processor) audit(ctx context.Context, res ProcessingResult, procErr error) {
	kind := domain.KindOf(procErr)
	if kind == "" {
		kind = domain.KindFatal
	}
	entry := &domain.AuditEntry{
		EventID:   res.EventID,
		BookingID: res.BookingID,
		Component: component,
		Action:    res.Type,
		Kind:      string(kind),
		Error:     fmt.Sprintf("%v", procErr),
		CreatedAt: p.clock.Now(),
	}
	if err := p.ledger.AppendAudit(ctx, entry); err != nil {
		p.logger.Error("failed to append audit entry", zap.String("event_id", res.EventID), zap.Error(err))
	}
}

// fatal errors are configuration or programming faults: nothing a
// redelivery would see differently is known, so the event stays open.
func fatal(err error) bool {
	kind := domain.KindOf(err)
	return kind == "" || kind == domain.KindFatal
}
