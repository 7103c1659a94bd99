package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCheckoutSessionEvent(t *testing.T) {
	raw := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "payment_intent": "pi_1", "payment_status": "paid"}}
	}`)

	event, err := ParseWebhookEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.True(t, event.Recognized())
	require.NotNil(t, event.Session)
	assert.Equal(t, "cs_1", event.Session.ID)
	assert.Equal(t, "pi_1", event.Session.PaymentIntent)
	assert.Equal(t, "paid", event.Session.PaymentStatus)
	assert.Nil(t, event.Intent)
	assert.Nil(t, event.Charge)
}

func TestParsePaymentIntentEvent(t *testing.T) {
	raw := []byte(`{
		"id": "evt_2",
		"type": "payment_intent.payment_failed",
		"data": {"object": {"id": "pi_2"}}
	}`)

	event, err := ParseWebhookEvent(raw)
	require.NoError(t, err)
	require.NotNil(t, event.Intent)
	assert.Equal(t, "pi_2", event.Intent.ID)
}

func TestParseChargeRefundedEvent(t *testing.T) {
	raw := []byte(`{
		"id": "evt_3",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_3", "payment_intent": "pi_3", "amount": 5000, "amount_refunded": 2000}}
	}`)

	event, err := ParseWebhookEvent(raw)
	require.NoError(t, err)
	require.NotNil(t, event.Charge)
	assert.Equal(t, int64(5000), event.Charge.Amount)
	assert.Equal(t, int64(2000), event.Charge.AmountRefunded)
}

func TestParseUnknownTypeIsUnrecognized(t *testing.T) {
	raw := []byte(`{
		"id": "evt_4",
		"type": "customer.created",
		"data": {"object": {"id": "cus_4"}}
	}`)

	event, err := ParseWebhookEvent(raw)
	require.NoError(t, err)
	assert.False(t, event.Recognized())
	assert.Equal(t, "customer.created", event.Type)
}

func TestParseRejectsMalformedEvents(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"missing id", `{"type": "charge.refunded", "data": {"object": {"id": "ch_1"}}}`},
		{"missing type", `{"id": "evt_5", "data": {"object": {"id": "ch_1"}}}`},
		{"session without id", `{"id": "evt_6", "type": "checkout.session.completed", "data": {"object": {}}}`},
		{"intent without id", `{"id": "evt_7", "type": "payment_intent.payment_failed", "data": {"object": {}}}`},
		{"charge without id", `{"id": "evt_8", "type": "charge.refunded", "data": {"object": {}}}`},
		{"non-object payload", `{"id": "evt_9", "type": "charge.refunded", "data": {"object": "nope"}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseWebhookEvent([]byte(tc.raw))
			require.Error(t, err)
		})
	}
}
