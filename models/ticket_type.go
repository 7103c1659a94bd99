package models

import (
	"github.com/pocketbase/pocketbase/tools/types"
)

// TicketType is a sellable category for an event. SoldCount is only ever
// mutated through the inventory service's atomic reserve/release statements;
// the table's CHECK constraints reject any write that would take it negative
// or above MaxQuantity.
type TicketType struct {
	ID          string         `db:"id" json:"id"`
	EventID     string         `db:"event_id" json:"event_id"`
	Name        string         `db:"name" json:"name"`
	PriceCents  int64          `db:"price_cents" json:"price_cents"`
	MaxQuantity *int64         `db:"max_quantity" json:"max_quantity"` // nil = unlimited
	SoldCount   int64          `db:"sold_count" json:"sold_count"`
	Created     types.DateTime `db:"created" json:"created"`
	Updated     types.DateTime `db:"updated" json:"updated"`
}

// Remaining returns the number of units still sellable, or -1 for
// uncapped ticket types.
func (t *TicketType) Remaining() int64 {
	if t.MaxQuantity == nil {
		return -1
	}
	return *t.MaxQuantity - t.SoldCount
}
