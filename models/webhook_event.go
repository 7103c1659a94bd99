package models

import (
	"encoding/json"
	"fmt"
)

// Provider event types the engine dispatches on. Anything else parses as an
// unrecognized event so new provider types never break the endpoint.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	EventPaymentIntentFailed   = "payment_intent.payment_failed"
	EventChargeRefunded        = "charge.refunded"
)

// CheckoutSessionPayload is the session object carried by
// checkout.session.* events.
type CheckoutSessionPayload struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	PaymentStatus string `json:"payment_status"`
}

// PaymentIntentPayload is the intent object carried by payment_intent.*
// events.
type PaymentIntentPayload struct {
	ID string `json:"id"`
}

// ChargePayload is the charge object carried by charge.refunded. Amounts are
// in the currency's smallest unit, as delivered by the provider.
type ChargePayload struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
}

// WebhookEvent is the validated form of one inbound provider event. Exactly
// one of Session, Intent or Charge is set for recognized types.
type WebhookEvent struct {
	ID   string
	Type string

	Session *CheckoutSessionPayload
	Intent  *PaymentIntentPayload
	Charge  *ChargePayload
}

// Recognized reports whether the event type is one the engine dispatches on.
func (e *WebhookEvent) Recognized() bool {
	return e.Session != nil || e.Intent != nil || e.Charge != nil
}

type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseWebhookEvent validates and parses a raw provider payload into a typed
// event. Malformed payloads and recognized types with an unusable inner
// object are rejected here, before anything is recorded.
func ParseWebhookEvent(raw []byte) (*WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse webhook event: %w", err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("parse webhook event: missing event id")
	}
	if env.Type == "" {
		return nil, fmt.Errorf("parse webhook event: missing event type")
	}

	event := &WebhookEvent{ID: env.ID, Type: env.Type}

	switch env.Type {
	case EventCheckoutCompleted, EventAsyncPaymentSucceeded, EventAsyncPaymentFailed:
		var session CheckoutSessionPayload
		if err := json.Unmarshal(env.Data.Object, &session); err != nil {
			return nil, fmt.Errorf("parse %s object: %w", env.Type, err)
		}
		if session.ID == "" {
			return nil, fmt.Errorf("parse %s object: missing session id", env.Type)
		}
		event.Session = &session

	case EventPaymentIntentFailed:
		var intent PaymentIntentPayload
		if err := json.Unmarshal(env.Data.Object, &intent); err != nil {
			return nil, fmt.Errorf("parse %s object: %w", env.Type, err)
		}
		if intent.ID == "" {
			return nil, fmt.Errorf("parse %s object: missing intent id", env.Type)
		}
		event.Intent = &intent

	case EventChargeRefunded:
		var charge ChargePayload
		if err := json.Unmarshal(env.Data.Object, &charge); err != nil {
			return nil, fmt.Errorf("parse %s object: %w", env.Type, err)
		}
		if charge.ID == "" {
			return nil, fmt.Errorf("parse %s object: missing charge id", env.Type)
		}
		event.Charge = &charge
	}

	return event, nil
}
