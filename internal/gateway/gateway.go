// Package gateway is the booking engine's view of the payment provider:
// charge creation for the payment page, authoritative status lookups for
// reconciliation, and refunds.
package gateway

import (
	"context"
	"time"

	"courtbook/internal/domain"
)

type Status string

const (
	StatusSucceeded  Status = "succeeded"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

type Payment struct {
	Reference      string            `json:"reference"`
	Status         Status            `json:"status"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	AuthorizeURI   string            `json:"authorize_uri,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
}

// Refundable is the part of the charge that has not been refunded yet.
func (p *Payment) Refundable() int64 {
	return p.Amount - p.AmountRefunded
}

type CreatePaymentRequest struct {
	Amount    int64
	Currency  string
	Card      string
	Source    string
	ReturnURI string
	Metadata  map[string]string
}

type Refund struct {
	Reference        string `json:"reference"`
	PaymentReference string `json:"payment_reference"`
	Amount           int64  `json:"amount"`
}

type Client interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error)
	GetPayment(ctx context.Context, reference string) (*Payment, error)
	CreateRefund(ctx context.Context, reference string, amount int64, metadata map[string]string) (*Refund, error)
}

var ErrNotFound = domain.NewError(domain.KindNotFound, "payment not found at gateway")

const defaultTimeout = 15 * time.Second
