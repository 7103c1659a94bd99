package services

import (
	"context"
	"sync"
	"testing"

	"github.com/pocketbase/dbx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"ticket-engine/internal/storage"
	"ticket-engine/models"
)

// newTestStore opens an isolated in-memory database running the production
// schema. A single connection keeps concurrent transactions serialized the
// way the embedded database serializes them in production.
func newTestStore(t *testing.T) storage.TxRunner {
	t.Helper()

	db, err := dbx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.Apply(db))
	return storage.NewDBStore(db)
}

func seedTicketType(t *testing.T, store storage.TxRunner, maxQuantity *int64) *models.TicketType {
	t.Helper()

	tt := &models.TicketType{
		EventID:     "evt_summer_fest",
		Name:        "General Admission",
		PriceCents:  2500,
		MaxQuantity: maxQuantity,
	}
	require.NoError(t, NewInventoryService(store).CreateTicketType(context.Background(), tt))
	return tt
}

func limit(n int64) *int64 { return &n }

// recordingNotifier captures fulfillment notices for assertions.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []*FulfillmentNotice
}

func (n *recordingNotifier) NotifyFulfillment(_ context.Context, notice *FulfillmentNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}
