package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"courtbook/internal/domain"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"go.uber.org/zap"
)

type OmiseClient struct {
	client *omise.Client
	logger *zap.Logger
}

func NewOmiseClient(publicKey, secretKey string, logger *zap.Logger) (*OmiseClient, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OmiseClient{client: c, logger: logger}, nil
}

func (o *OmiseClient) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	if req.Amount <= 0 || req.Currency == "" || (req.Card == "" && req.Source == "") {
		return nil, domain.NewError(domain.KindValidation, "amount, currency and a card or source are required")
	}
	meta := make(map[string]interface{}, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}

	ch := &omise.Charge{}
	op := &operations.CreateCharge{
		Amount:    req.Amount,
		Currency:  req.Currency,
		Card:      req.Card,
		Source:    req.Source,
		ReturnURI: req.ReturnURI,
		Metadata:  meta,
	}
	if err := o.do(ctx, func(c *omise.Client) error { return c.Do(ch, op) }); err != nil {
		return nil, err
	}
	o.logger.Info("omise charge created", zap.String("payment_reference", ch.ID), zap.String("status", string(ch.Status)))
	return chargeToPayment(ch), nil
}

func (o *OmiseClient) GetPayment(ctx context.Context, reference string) (*Payment, error) {
	ch := &omise.Charge{}
	op := &operations.RetrieveCharge{ChargeID: reference}
	if err := o.do(ctx, func(c *omise.Client) error { return c.Do(ch, op) }); err != nil {
		return nil, err
	}
	return chargeToPayment(ch), nil
}

func (o *OmiseClient) CreateRefund(ctx context.Context, reference string, amount int64, metadata map[string]string) (*Refund, error) {
	rf := &omise.Refund{}
	op := &operations.CreateRefund{
		ChargeID: reference,
		Amount:   amount,
	}
	if len(metadata) > 0 {
		op.Metadata = make(map[string]interface{}, len(metadata))
		for k, v := range metadata {
			op.Metadata[k] = v
		}
	}
	if err := o.do(ctx, func(c *omise.Client) error { return c.Do(rf, op) }); err != nil {
		return nil, err
	}
	o.logger.Info("omise refund created",
		zap.String("payment_reference", reference),
		zap.String("refund_reference", rf.ID),
		zap.String("booking_id", metadata["bookingId"]))
	return &Refund{Reference: rf.ID, PaymentReference: reference, Amount: rf.Amount}, nil
}

// do runs one SDK operation bounded by ctx. The SDK keeps the request
// context on the client, so every call works on its own copy of the shared
// client.
func (o *OmiseClient) do(ctx context.Context, call func(c *omise.Client) error) error {
	if err := ctx.Err(); err != nil {
		return domain.Wrap(domain.KindTransient, err, "gateway call not started")
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	c := *o.client
	c.WithContext(ctx)
	err := call(&c)
	if err != nil && ctx.Err() != nil {
		return domain.Wrap(domain.KindTransient, ctx.Err(), "gateway call timed out")
	}
	return classify(err)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var oe *omise.Error
	if errors.As(err, &oe) {
		switch {
		case oe.StatusCode == http.StatusNotFound:
			return domain.Wrap(domain.KindNotFound, ErrNotFound, "%s", oe.Message)
		case oe.StatusCode == http.StatusTooManyRequests || oe.StatusCode >= http.StatusInternalServerError:
			return domain.Wrap(domain.KindTransient, err, "gateway unavailable")
		default:
			return domain.Wrap(domain.KindValidation, err, "gateway rejected request")
		}
	}
	return domain.Wrap(domain.KindTransient, err, "gateway request failed")
}

func chargeToPayment(ch *omise.Charge) *Payment {
	p := &Payment{
		Reference:      ch.ID,
		Status:         mapChargeStatus(ch.Status),
		Amount:         ch.Amount,
		AmountRefunded: ch.Refunded,
		Currency:       ch.Currency,
		AuthorizeURI:   ch.AuthorizeURI,
		Metadata:       make(map[string]string, len(ch.Metadata)),
	}
	for k, v := range ch.Metadata {
		if s, ok := v.(string); ok {
			p.Metadata[k] = s
		} else if v != nil {
			p.Metadata[k] = fmt.Sprint(v)
		}
	}
	if ch.FailureCode != nil {
		p.FailureReason = *ch.FailureCode
	}
	return p
}

func mapChargeStatus(s omise.ChargeStatus) Status {
	switch string(s) {
	case "successful":
		return StatusSucceeded
	case "failed":
		return StatusFailed
	case "reversed", "expired":
		return StatusCanceled
	default:
		return StatusProcessing
	}
}

// ChargeFromJSON decodes a charge object as embedded in gateway events.
func ChargeFromJSON(raw []byte) (*Payment, error) {
	var ch omise.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, domain.Wrap(domain.KindValidation, err, "decode charge")
	}
	if ch.ID == "" {
		return nil, domain.NewError(domain.KindValidation, "charge object has no id")
	}
	return chargeToPayment(&ch), nil
}
