package storage

import (
	"testing"

	"github.com/pocketbase/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *dbx.DB {
	t.Helper()

	db, err := dbx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Apply(db))
	return db
}

func insertTicketType(db *dbx.DB, id string, maxQuantity any, soldCount int64) error {
	_, err := db.NewQuery(`
		INSERT INTO ticket_types (id, event_id, name, price_cents, max_quantity, sold_count, created, updated)
		VALUES ({:id}, 'evt', 'GA', 1000, {:max}, {:sold}, '2026-01-01 00:00:00.000Z', '2026-01-01 00:00:00.000Z')`).
		Bind(dbx.Params{"id": id, "max": maxQuantity, "sold": soldCount}).
		Execute()
	return err
}

func TestSchemaIsRerunnable(t *testing.T) {
	db := newTestDB(t)
	// IF NOT EXISTS makes a second apply a no-op
	require.NoError(t, Apply(db))
}

func TestSoldCountCannotGoNegative(t *testing.T) {
	db := newTestDB(t)

	assert.Error(t, insertTicketType(db, "tt_neg", 10, -1))

	require.NoError(t, insertTicketType(db, "tt_ok", 10, 0))
	_, err := db.NewQuery(`UPDATE ticket_types SET sold_count = -5 WHERE id = 'tt_ok'`).Execute()
	assert.Error(t, err)
}

func TestSoldCountCannotExceedMaxQuantity(t *testing.T) {
	db := newTestDB(t)

	assert.Error(t, insertTicketType(db, "tt_over", 5, 6))

	require.NoError(t, insertTicketType(db, "tt_cap", 5, 5))
	_, err := db.NewQuery(`UPDATE ticket_types SET sold_count = 6 WHERE id = 'tt_cap'`).Execute()
	assert.Error(t, err)

	// NULL max_quantity means uncapped
	require.NoError(t, insertTicketType(db, "tt_open", nil, 1000000))
}

func TestEventIDIsUnique(t *testing.T) {
	db := newTestDB(t)

	insert := func(rowID string) error {
		_, err := db.NewQuery(`
			INSERT INTO processed_events (id, event_id, event_type, status, transaction_id, created, updated)
			VALUES ({:rowID}, 'evt_dup', 'charge.refunded', 'processing', '', '2026-01-01 00:00:00.000Z', '2026-01-01 00:00:00.000Z')`).
			Bind(dbx.Params{"rowID": rowID}).
			Execute()
		return err
	}
	require.NoError(t, insert("row1"))
	assert.Error(t, insert("row2"))
}

func TestSessionIDIsUnique(t *testing.T) {
	db := newTestDB(t)

	insert := func(rowID string) error {
		_, err := db.NewQuery(`
			INSERT INTO reservations (id, session_id, items, status, transaction_id, created, expires)
			VALUES ({:rowID}, 'cs_dup', '[]', 'pending', '', '2026-01-01 00:00:00.000Z', '2026-01-01 00:30:00.000Z')`).
			Bind(dbx.Params{"rowID": rowID}).
			Execute()
		return err
	}
	require.NoError(t, insert("row1"))
	assert.Error(t, insert("row2"))
}

func TestReservationStatusIsConstrained(t *testing.T) {
	db := newTestDB(t)

	_, err := db.NewQuery(`
		INSERT INTO reservations (id, session_id, items, status, transaction_id, created, expires)
		VALUES ('row1', 'cs_bad', '[]', 'limbo', '', '2026-01-01 00:00:00.000Z', '2026-01-01 00:30:00.000Z')`).
		Execute()
	assert.Error(t, err)
}
