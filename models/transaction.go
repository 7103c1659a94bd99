package models

import (
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
)

const (
	TransactionCompleted         = "completed"
	TransactionFailed            = "failed"
	TransactionRefunded          = "refunded"
	TransactionPartiallyRefunded = "partially_refunded"
)

const (
	TicketValid     = "valid"
	TicketCheckedIn = "checked_in"
	TicketVoided    = "voided"
)

// Transaction is the durable record of a completed payment. Exactly one row
// exists per provider checkout session (unique index on provider_session_id);
// later failure/refund events only mutate its status.
type Transaction struct {
	ID                string          `db:"id" json:"id"`
	ProviderSessionID string          `db:"provider_session_id" json:"provider_session_id"`
	PaymentIntentID   string          `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	CustomerEmail     string          `db:"customer_email" json:"customer_email,omitempty"`
	CustomerName      string          `db:"customer_name" json:"customer_name,omitempty"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Currency          string          `db:"currency" json:"currency"`
	Status            string          `db:"status" json:"status"`
	ManualEntryID     *string         `db:"manual_entry_id" json:"manual_entry_id,omitempty"`
	CashSessionID     *string         `db:"cash_session_id" json:"cash_session_id,omitempty"`
	Created           types.DateTime  `db:"created" json:"created"`
	Updated           types.DateTime  `db:"updated" json:"updated"`
}

// Ticket is one issued ticket instance. Identity is immutable once issued;
// deleting the owning transaction cascades here, deleting the ticket type
// only clears the type link.
type Ticket struct {
	ID            string         `db:"id" json:"id"`
	Code          string         `db:"code" json:"code"`
	TransactionID string         `db:"transaction_id" json:"transaction_id"`
	TicketTypeID  *string        `db:"ticket_type_id" json:"ticket_type_id,omitempty"`
	Status        string         `db:"status" json:"status"`
	Created       types.DateTime `db:"created" json:"created"`
}

const (
	EventProcessing = "processing"
	EventProcessed  = "processed"
	EventSkipped    = "skipped"
	EventFailed     = "failed"
)

// ProcessedEvent is the idempotency record for one inbound provider event.
// The unique index on event_id is what makes duplicate webhook deliveries a
// cheap no-op instead of a second side effect.
type ProcessedEvent struct {
	ID            string         `db:"id" json:"id"`
	EventID       string         `db:"event_id" json:"event_id"`
	EventType     string         `db:"event_type" json:"event_type"`
	Status        string         `db:"status" json:"status"`
	TransactionID string         `db:"transaction_id" json:"transaction_id,omitempty"`
	Created       types.DateTime `db:"created" json:"created"`
	Updated       types.DateTime `db:"updated" json:"updated"`
}
