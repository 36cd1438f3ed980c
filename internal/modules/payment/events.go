package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/gateway"
)

const (
	TypePaymentSucceeded  = "payment_intent.succeeded"
	TypePaymentFailed     = "payment_intent.payment_failed"
	TypePaymentProcessing = "payment_intent.processing"
	TypePaymentCanceled   = "payment_intent.canceled"
	TypeRefundCreated     = "refund.created"
	TypeRefundUpdated     = "refund.updated"
	TypeRefundFailed      = "refund.failed"
	TypeChargeRefunded    = "charge.refunded"
	// TypeChargeComplete is Omise's single completion event; the outcome
	// is in the charge status.
	TypeChargeComplete = "charge.complete"
)

// Envelope is what every event carries regardless of type.
type Envelope struct {
	ID       string
	Type     string
	Created  time.Time
	Raw      json.RawMessage
	Metadata domain.Metadata
}

// BookingID returns the booking id from the event metadata, if present.
func (e Envelope) BookingID() string {
	id, _ := e.Metadata.Lookup(domain.MetaBookingID)
	return id
}

// Event is one of PaymentEvent, RefundEvent, ChargeRefundedEvent or
// UnknownEvent.
type Event interface {
	Meta() Envelope
	isEvent()
}

// PaymentEvent reports a change in a payment's outcome.
type PaymentEvent struct {
	Envelope
	Payment gateway.Payment
}

type RefundPhase string

const (
	RefundCreated RefundPhase = "created"
	RefundUpdated RefundPhase = "updated"
	RefundFailed  RefundPhase = "failed"
)

type RefundEvent struct {
	Envelope
	Phase            RefundPhase
	RefundReference  string
	PaymentReference string
	Amount           int64
	// Status is the refund's own status on refund.updated:
	// pending, succeeded, failed or canceled.
	Status        string
	FailureReason string
}

// ChargeRefundedEvent carries the charge totals after a refund settled.
type ChargeRefundedEvent struct {
	Envelope
	Payment gateway.Payment
}

type UnknownEvent struct {
	Envelope
}

func (e PaymentEvent) Meta() Envelope        { return e.Envelope }
func (e RefundEvent) Meta() Envelope         { return e.Envelope }
func (e ChargeRefundedEvent) Meta() Envelope { return e.Envelope }
func (e UnknownEvent) Meta() Envelope        { return e.Envelope }

func (PaymentEvent) isEvent()        {}
func (RefundEvent) isEvent()         {}
func (ChargeRefundedEvent) isEvent() {}
func (UnknownEvent) isEvent()        {}

type wireEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Key     string          `json:"key"`
	Created json.RawMessage `json:"created"`
	Data    json.RawMessage `json:"data"`
}

type wireObject struct {
	ID               string         `json:"id"`
	Amount           int64          `json:"amount"`
	AmountRefunded   int64          `json:"amount_refunded"`
	Currency         string         `json:"currency"`
	Status           string         `json:"status"`
	PaymentIntent    string         `json:"payment_intent"`
	Charge           string         `json:"charge"`
	Metadata         map[string]any `json:"metadata"`
	FailureReason    string         `json:"failure_reason"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
	CancellationReason string `json:"cancellation_reason"`
}

// ParseEvent decodes a verified webhook body. Types the engine does not
// act on come back as UnknownEvent rather than an error.
func ParseEvent(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, domain.Wrap(domain.KindValidation, err, "decode event")
	}
	if w.ID == "" {
		return nil, domain.NewError(domain.KindValidation, "event has no id")
	}
	typ := w.Type
	if typ == "" {
		typ = w.Key
	}
	env := Envelope{ID: w.ID, Type: typ, Created: parseCreated(w.Created), Raw: json.RawMessage(raw)}

	object := objectOf(w.Data)
	if typ == TypeChargeComplete {
		p, err := gateway.ChargeFromJSON(object)
		if err != nil {
			return nil, err
		}
		env.Metadata = domain.Metadata(p.Metadata)
		return PaymentEvent{Envelope: env, Payment: *p}, nil
	}

	var o wireObject
	if len(object) > 0 {
		if err := json.Unmarshal(object, &o); err != nil {
			return nil, domain.Wrap(domain.KindValidation, err, "decode %s payload", typ)
		}
	}
	env.Metadata = stringify(o.Metadata)

	switch typ {
	case TypePaymentSucceeded, TypePaymentFailed, TypePaymentProcessing, TypePaymentCanceled:
		if o.ID == "" {
			return nil, domain.NewError(domain.KindValidation, typ+" without payment reference")
		}
		return PaymentEvent{Envelope: env, Payment: gateway.Payment{
			Reference:     o.ID,
			Status:        paymentStatusFor(typ),
			Amount:        o.Amount,
			Currency:      o.Currency,
			Metadata:      env.Metadata,
			FailureReason: o.failureReason(),
		}}, nil
	case TypeRefundCreated, TypeRefundUpdated, TypeRefundFailed:
		ref := o.PaymentIntent
		if ref == "" {
			ref = o.Charge
		}
		return RefundEvent{
			Envelope:         env,
			Phase:            refundPhaseFor(typ),
			RefundReference:  o.ID,
			PaymentReference: ref,
			Amount:           o.Amount,
			Status:           o.Status,
			FailureReason:    o.failureReason(),
		}, nil
	case TypeChargeRefunded:
		ref := o.PaymentIntent
		if ref == "" {
			ref = o.ID
		}
		return ChargeRefundedEvent{Envelope: env, Payment: gateway.Payment{
			Reference:      ref,
			Status:         gateway.StatusSucceeded,
			Amount:         o.Amount,
			AmountRefunded: o.AmountRefunded,
			Currency:       o.Currency,
			Metadata:       env.Metadata,
		}}, nil
	}
	return UnknownEvent{Envelope: env}, nil
}

func (o wireObject) failureReason() string {
	switch {
	case o.FailureReason != "":
		return o.FailureReason
	case o.LastPaymentError != nil && o.LastPaymentError.Message != "":
		return o.LastPaymentError.Message
	case o.LastPaymentError != nil:
		return o.LastPaymentError.Code
	}
	return o.CancellationReason
}

func paymentStatusFor(typ string) gateway.Status {
	switch typ {
	case TypePaymentSucceeded:
		return gateway.StatusSucceeded
	case TypePaymentFailed:
		return gateway.StatusFailed
	case TypePaymentCanceled:
		return gateway.StatusCanceled
	}
	return gateway.StatusProcessing
}

func refundPhaseFor(typ string) RefundPhase {
	switch typ {
	case TypeRefundCreated:
		return RefundCreated
	case TypeRefundFailed:
		return RefundFailed
	}
	return RefundUpdated
}

// objectOf accepts both {"data":{"object":{...}}} and {"data":{...}}.
func objectOf(data json.RawMessage) json.RawMessage {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	var wrapped struct {
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Object) > 0 && wrapped.Object[0] == '{' {
		return wrapped.Object
	}
	return data
}

func parseCreated(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var unix int64
	if err := json.Unmarshal(raw, &unix); err == nil {
		return time.Unix(unix, 0).UTC()
	}
	var ts time.Time
	if err := json.Unmarshal(raw, &ts); err == nil {
		return ts.UTC()
	}
	return time.Time{}
}

func stringify(m map[string]any) domain.Metadata {
	out := make(domain.Metadata, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case nil:
		case string:
			out[k] = x
		default:
			out[k] = fmt.Sprint(x)
		}
	}
	return out
}
