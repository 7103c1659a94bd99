package storage

import (
	"github.com/pocketbase/dbx"
)

// The engine's tables are plain SQL tables rather than collections so the
// inventory invariants live in the storage layer itself: a write that would
// take sold_count negative or above max_quantity is rejected by the database
// no matter which code path issued it.
const (
	SchemaTicketTypes = `
CREATE TABLE IF NOT EXISTS ticket_types (
	id           TEXT PRIMARY KEY,
	event_id     TEXT NOT NULL,
	name         TEXT NOT NULL,
	price_cents  INTEGER NOT NULL DEFAULT 0,
	max_quantity INTEGER,
	sold_count   INTEGER NOT NULL DEFAULT 0,
	created      TEXT NOT NULL,
	updated      TEXT NOT NULL,
	CHECK (sold_count >= 0),
	CHECK (max_quantity IS NULL OR sold_count <= max_quantity)
);`

	SchemaReservations = `
CREATE TABLE IF NOT EXISTS reservations (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL UNIQUE,
	items          TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'fulfilled', 'expired', 'released')),
	transaction_id TEXT NOT NULL DEFAULT '',
	created        TEXT NOT NULL,
	expires        TEXT NOT NULL
);`

	SchemaReservationsIndex = `
CREATE INDEX IF NOT EXISTS idx_reservations_status_expires
	ON reservations (status, expires);`

	SchemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
	id                  TEXT PRIMARY KEY,
	provider_session_id TEXT NOT NULL UNIQUE,
	payment_intent_id   TEXT NOT NULL DEFAULT '',
	customer_email      TEXT NOT NULL DEFAULT '',
	customer_name       TEXT NOT NULL DEFAULT '',
	amount              TEXT NOT NULL,
	currency            TEXT NOT NULL DEFAULT 'usd',
	status              TEXT NOT NULL
		CHECK (status IN ('completed', 'failed', 'refunded', 'partially_refunded')),
	manual_entry_id     TEXT UNIQUE,
	cash_session_id     TEXT,
	created             TEXT NOT NULL,
	updated             TEXT NOT NULL
);`

	SchemaTickets = `
CREATE TABLE IF NOT EXISTS tickets (
	id             TEXT PRIMARY KEY,
	code           TEXT NOT NULL UNIQUE,
	transaction_id TEXT NOT NULL
		REFERENCES transactions (id) ON DELETE CASCADE,
	ticket_type_id TEXT
		REFERENCES ticket_types (id) ON DELETE SET NULL,
	status         TEXT NOT NULL DEFAULT 'valid',
	created        TEXT NOT NULL
);`

	SchemaProcessedEvents = `
CREATE TABLE IF NOT EXISTS processed_events (
	id             TEXT PRIMARY KEY,
	event_id       TEXT NOT NULL UNIQUE,
	event_type     TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'processing',
	transaction_id TEXT NOT NULL DEFAULT '',
	created        TEXT NOT NULL,
	updated        TEXT NOT NULL
);`
)

// Statements returns the DDL in dependency order.
func Statements() []string {
	return []string{
		SchemaTicketTypes,
		SchemaReservations,
		SchemaReservationsIndex,
		SchemaTransactions,
		SchemaTickets,
		SchemaProcessedEvents,
	}
}

// Apply executes the full schema against db. Used by the migrations and by
// test databases so both run the exact same DDL.
func Apply(db dbx.Builder) error {
	for _, stmt := range Statements() {
		if _, err := db.NewQuery(stmt).Execute(); err != nil {
			return err
		}
	}
	return nil
}
