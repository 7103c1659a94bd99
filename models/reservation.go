package models

import (
	"fmt"

	"github.com/pocketbase/pocketbase/tools/types"
)

const (
	ReservationPending   = "pending"
	ReservationFulfilled = "fulfilled"
	ReservationExpired   = "expired"
	ReservationReleased  = "released"
)

// LineItem is one (ticket type, quantity) entry of a checkout request.
type LineItem struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int64  `json:"quantity"`
}

func (li LineItem) Validate() error {
	if li.TicketTypeID == "" {
		return fmt.Errorf("line item: missing ticket type id")
	}
	if li.Quantity <= 0 {
		return fmt.Errorf("line item %s: quantity must be positive, got %d", li.TicketTypeID, li.Quantity)
	}
	return nil
}

// Reservation is an in-flight claim on inventory tied to one checkout
// session. While it is pending, its quantities are reflected in the owning
// ticket types' sold counters; the two always move together in one
// transaction.
type Reservation struct {
	ID            string                     `db:"id" json:"id"`
	SessionID     string                     `db:"session_id" json:"session_id"`
	Items         types.JSONArray[LineItem]  `db:"items" json:"items"`
	Status        string                     `db:"status" json:"status"`
	TransactionID string                     `db:"transaction_id" json:"transaction_id,omitempty"`
	Created       types.DateTime             `db:"created" json:"created"`
	Expires       types.DateTime             `db:"expires" json:"expires"`
}

// Terminal reports whether the reservation has reached a final state.
// There are no transitions out of a terminal state.
func (r *Reservation) Terminal() bool {
	return r.Status != ReservationPending
}

// TotalQuantity returns the number of units held across all line items.
func (r *Reservation) TotalQuantity() int64 {
	var n int64
	for _, li := range r.Items {
		n += li.Quantity
	}
	return n
}
