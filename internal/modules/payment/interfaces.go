package payment

import (
	"context"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/gateway"
	"courtbook/internal/modules/booking"
)

type eventStore interface {
	InsertIfAbsent(ctx context.Context, ev *domain.WebhookEvent) (bool, error)
	Get(ctx context.Context, id string) (*domain.WebhookEvent, error)
	IncrementAttempts(ctx context.Context, id string) error
	MarkProcessed(ctx context.Context, id, result, errMsg string, at time.Time) (bool, error)
	RecordFailure(ctx context.Context, id, errMsg string) error
}

type ledgerWriter interface {
	AppendTransaction(ctx context.Context, entry *domain.PaymentTransactionLog) error
	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error
}

// bookingTransitions is the part of the booking state machine driven by
// gateway events.
type bookingTransitions interface {
	MarkPaid(ctx context.Context, bookingID string, p *gateway.Payment) (*booking.Result, error)
	MarkFailed(ctx context.Context, bookingID, ref, reason string) (*booking.Result, error)
	MarkCanceled(ctx context.Context, bookingID, ref, reason string) (*booking.Result, error)
	MarkProcessing(ctx context.Context, bookingID, ref string) (*booking.Result, error)
	RecordRefundCreated(ctx context.Context, bookingID, ref, refundRef string) (*booking.Result, error)
	CompleteRefund(ctx context.Context, bookingID, ref, refundRef string, totalRefunded, chargeAmount int64) (*booking.Result, error)
	FailRefund(ctx context.Context, bookingID, ref, reason string) (*booking.Result, error)
}

// chargeLookup resolves charge totals for refund events that carry only
// the refund amount.
type chargeLookup interface {
	GetPayment(ctx context.Context, reference string) (*gateway.Payment, error)
}
