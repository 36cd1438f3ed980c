package payment

import (
	"testing"

	"courtbook/internal/domain"
	"courtbook/internal/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent_PaymentIntent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{
		"id": "evt_1",
		"type": "payment_intent.payment_failed",
		"created": 1793520000,
		"data": {"object": {
			"id": "pi_1",
			"amount": 30000,
			"currency": "thb",
			"metadata": {"bookingId": "b1", "courtId": "c1", "slots": 2},
			"last_payment_error": {"code": "card_declined", "message": "Your card was declined."}
		}}
	}`))
	require.NoError(t, err)

	pe, ok := ev.(PaymentEvent)
	require.True(t, ok)
	assert.Equal(t, "evt_1", pe.ID)
	assert.Equal(t, "b1", pe.BookingID())
	assert.Equal(t, "2", pe.Metadata["slots"])
	assert.Equal(t, "pi_1", pe.Payment.Reference)
	assert.Equal(t, gateway.StatusFailed, pe.Payment.Status)
	assert.Equal(t, "Your card was declined.", pe.Payment.FailureReason)
	assert.Equal(t, int64(1793520000), pe.Created.Unix())
}

func TestParseEvent_OmiseChargeComplete(t *testing.T) {
	ev, err := ParseEvent([]byte(`{
		"object": "event",
		"id": "evnt_1",
		"key": "charge.complete",
		"data": {"object": "charge", "id": "chrg_1", "status": "successful", "amount": 30000, "currency": "thb", "metadata": {"bookingId": "b9"}}
	}`))
	require.NoError(t, err)

	pe, ok := ev.(PaymentEvent)
	require.True(t, ok)
	assert.Equal(t, TypeChargeComplete, pe.Type)
	assert.Equal(t, "b9", pe.BookingID())
	assert.Equal(t, gateway.StatusSucceeded, pe.Payment.Status)
	assert.Equal(t, "chrg_1", pe.Payment.Reference)
}

func TestParseEvent_Refunds(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"evt_r","type":"refund.updated","data":{"object":{"id":"re_1","payment_intent":"pi_1","amount":10000,"status":"succeeded"}}}`))
	require.NoError(t, err)
	re, ok := ev.(RefundEvent)
	require.True(t, ok)
	assert.Equal(t, RefundUpdated, re.Phase)
	assert.Equal(t, "pi_1", re.PaymentReference)
	assert.Equal(t, "re_1", re.RefundReference)
	assert.Equal(t, "succeeded", re.Status)
	assert.Equal(t, "", re.BookingID())

	ev, err = ParseEvent([]byte(`{"id":"evt_c","type":"charge.refunded","data":{"object":{"id":"ch_1","payment_intent":"pi_1","amount":30000,"amount_refunded":30000}}}`))
	require.NoError(t, err)
	ce, ok := ev.(ChargeRefundedEvent)
	require.True(t, ok)
	assert.Equal(t, "pi_1", ce.Payment.Reference)
	assert.Equal(t, int64(30000), ce.Payment.AmountRefunded)
}

func TestParseEvent_UnknownAndInvalid(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"evt_u","type":"customer.created","data":{"object":{"id":"cus_1"}}}`))
	require.NoError(t, err)
	_, ok := ev.(UnknownEvent)
	assert.True(t, ok)

	_, err = ParseEvent([]byte(`{"type":"payment_intent.succeeded"}`))
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	_, err = ParseEvent([]byte(`not json`))
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	_, err = ParseEvent([]byte(`{"id":"evt_x","type":"payment_intent.succeeded","data":{"object":{}}}`))
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestParseEvent_MetadataIgnoresBlankValues(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"evt_m","type":"payment_intent.succeeded","data":{"object":{"id":"pi_2","metadata":{"bookingId":"  ","venueId":null}}}}`))
	require.NoError(t, err)
	assert.Equal(t, "", ev.Meta().BookingID())
	_, ok := ev.Meta().Metadata.Lookup(domain.MetaVenueID)
	assert.False(t, ok)
}
