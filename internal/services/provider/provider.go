package provider

import (
	"context"

	"github.com/shopspring/decimal"
)

// LineItem is one purchased item of a checkout session. TicketTypeID comes
// from the metadata the storefront attached when the session was created.
type LineItem struct {
	TicketTypeID string          `json:"ticket_type_id"`
	Description  string          `json:"description,omitempty"`
	Quantity     int64           `json:"quantity"`
	UnitAmount   decimal.Decimal `json:"unit_amount"`
}

// CheckoutSession is the provider's view of one completed checkout, as
// fetched from its API after a payment event arrives.
type CheckoutSession struct {
	ID              string          `json:"id"`
	PaymentIntentID string          `json:"payment_intent_id"`
	PaymentStatus   string          `json:"payment_status"`
	CustomerEmail   string          `json:"customer_email"`
	CustomerName    string          `json:"customer_name"`
	AmountTotal     decimal.Decimal `json:"amount_total"`
	Currency        string          `json:"currency"`
	LineItems       []LineItem      `json:"line_items"`
}

// PaymentProvider defines the common interface for payment backends.
type PaymentProvider interface {
	// GetCheckoutSession fetches a checkout session with its line items.
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
}
