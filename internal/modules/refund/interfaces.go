package refund

import (
	"context"

	"courtbook/internal/domain"
	"courtbook/internal/gateway"
	"courtbook/internal/modules/booking"
)

type bookingRefunds interface {
	Get(ctx context.Context, id string) (*domain.Booking, error)
	ClaimRefund(ctx context.Context, bookingID, reason string) (*domain.Booking, error)
	ReleaseRefundClaim(ctx context.Context, bookingID string, previous domain.RefundStatus) error
	RecordRefundCreated(ctx context.Context, bookingID, ref, refundRef string) (*booking.Result, error)
}

type refundGateway interface {
	GetPayment(ctx context.Context, reference string) (*gateway.Payment, error)
	CreateRefund(ctx context.Context, reference string, amount int64, metadata map[string]string) (*gateway.Refund, error)
}
