package services

import (
	"context"
	"testing"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-engine/internal/storage"
	"ticket-engine/models"
)

func newReservationService(store storage.TxRunner) *ReservationService {
	return NewReservationService(store, NewInventoryService(store), nil, 30*time.Minute, 100)
}

func TestCreateReservationClaimsInventory(t *testing.T) {
	store := newTestStore(t)
	svc := newReservationService(store)
	tt := seedTicketType(t, store, limit(10))

	reservation, err := svc.Create(context.Background(), "cs_alpha", []models.LineItem{
		{TicketTypeID: tt.ID, Quantity: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReservationPending, reservation.Status)
	assert.Equal(t, int64(3), reservation.TotalQuantity())
	assert.True(t, reservation.Expires.Time().After(time.Now()))

	got, err := NewInventoryService(store).GetTicketType(context.Background(), tt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.SoldCount)
}

func TestCreateReservationRollsBackOnPartialFailure(t *testing.T) {
	store := newTestStore(t)
	svc := newReservationService(store)
	inv := NewInventoryService(store)

	plenty := seedTicketType(t, store, limit(100))
	scarce := seedTicketType(t, store, limit(2))

	_, err := svc.Create(context.Background(), "cs_mixed", []models.LineItem{
		{TicketTypeID: plenty.ID, Quantity: 5},
		{TicketTypeID: scarce.ID, Quantity: 3},
	})
	require.ErrorIs(t, err, ErrInsufficientInventory)
	assert.Contains(t, err.Error(), scarce.ID)

	// the first item's claim must have been rolled back with the rest
	got, err := inv.GetTicketType(context.Background(), plenty.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.SoldCount)

	_, err = svc.GetBySession(context.Background(), "cs_mixed")
	require.ErrorIs(t, err, ErrReservationNotFound)
}

func TestCreateReservationDuplicateSession(t *testing.T) {
	store := newTestStore(t)
	svc := newReservationService(store)
	tt := seedTicketType(t, store, limit(10))

	items := []models.LineItem{{TicketTypeID: tt.ID, Quantity: 1}}
	_, err := svc.Create(context.Background(), "cs_dup", items)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), "cs_dup", items)
	require.ErrorIs(t, err, ErrSessionExists)

	got, err := NewInventoryService(store).GetTicketType(context.Background(), tt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.SoldCount)
}

func TestCreateReservationValidation(t *testing.T) {
	store := newTestStore(t)
	svc := newReservationService(store)
	tt := seedTicketType(t, store, limit(10))

	_, err := svc.Create(context.Background(), "", []models.LineItem{{TicketTypeID: tt.ID, Quantity: 1}})
	require.Error(t, err)

	_, err = svc.Create(context.Background(), "cs_empty", nil)
	require.Error(t, err)

	_, err = svc.Create(context.Background(), "cs_zero", []models.LineItem{{TicketTypeID: tt.ID, Quantity: 0}})
	require.Error(t, err)
}

func TestReleaseReservationIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	svc := newReservationService(store)
	tt := seedTicketType(t, store, limit(10))

	_, err := svc.Create(context.Background(), "cs_rel", []models.LineItem{
		{TicketTypeID: tt.ID, Quantity: 4},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Release(context.Background(), "cs_rel"))
	// second release is a no-op, not a double refund
	require.NoError(t, svc.Release(context.Background(), "cs_rel"))

	got, err := NewInventoryService(store).GetTicketType(context.Background(), tt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.SoldCount)

	reservation, err := svc.GetBySession(context.Background(), "cs_rel")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationReleased, reservation.Status)
}

func TestReleaseAfterSweepIsNoOp(t *testing.T) {
	store := newTestStore(t)
	svc := newReservationService(store)
	tt := seedTicketType(t, store, limit(10))

	_, err := svc.Create(context.Background(), "cs_swept", []models.LineItem{
		{TicketTypeID: tt.ID, Quantity: 2},
	})
	require.NoError(t, err)
	backdate(t, store, "cs_swept")

	expired, err := svc.ExpireStale(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	// a release arriving after the sweep resolved the row must neither fail
	// nor return the inventory a second time
	require.NoError(t, svc.Release(context.Background(), "cs_swept"))

	reservation, err := svc.GetBySession(context.Background(), "cs_swept")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationExpired, reservation.Status)

	got, err := NewInventoryService(store).GetTicketType(context.Background(), tt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.SoldCount)
}

func TestResolveStaleSnapshotReportsAlreadyResolved(t *testing.T) {
	store := newTestStore(t)
	svc := newReservationService(store)
	tt := seedTicketType(t, store, limit(10))

	_, err := svc.Create(context.Background(), "cs_raced", []models.LineItem{
		{TicketTypeID: tt.ID, Quantity: 2},
	})
	require.NoError(t, err)

	// snapshot taken while the row was still pending
	snapshot, err := svc.GetBySession(context.Background(), "cs_raced")
	require.NoError(t, err)

	fulfillmentSvc := NewFulfillmentService(store, nil)
	issued, err := fulfillmentSvc.Fulfill(context.Background(), "cs_raced", &models.Transaction{ID: "txn_raced"})
	require.NoError(t, err)
	require.True(t, issued)

	// the guarded update sees the fulfilled row and refuses the stale resolve
	err = store.RunInTransaction(func(tx dbx.Builder) error {
		return svc.resolve(context.Background(), tx, snapshot, models.ReservationReleased)
	})
	require.ErrorIs(t, err, errAlreadyResolved)

	got, err := NewInventoryService(store).GetTicketType(context.Background(), tt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.SoldCount)
}

func TestReleaseUnknownSession(t *testing.T) {
	store := newTestStore(t)
	svc := newReservationService(store)

	err := svc.Release(context.Background(), "cs_ghost")
	require.ErrorIs(t, err, ErrReservationNotFound)
}

func TestExpireStaleReleasesOnlyOverdue(t *testing.T) {
	store := newTestStore(t)
	svc := newReservationService(store)
	tt := seedTicketType(t, store, limit(10))

	_, err := svc.Create(context.Background(), "cs_old", []models.LineItem{{TicketTypeID: tt.ID, Quantity: 2}})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), "cs_fresh", []models.LineItem{{TicketTypeID: tt.ID, Quantity: 3}})
	require.NoError(t, err)

	backdate(t, store, "cs_old")

	expired, err := svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	old, err := svc.GetBySession(context.Background(), "cs_old")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationExpired, old.Status)

	fresh, err := svc.GetBySession(context.Background(), "cs_fresh")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationPending, fresh.Status)

	got, err := NewInventoryService(store).GetTicketType(context.Background(), tt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.SoldCount)
}

func TestExpireStaleSkipsFulfilledReservations(t *testing.T) {
	store := newTestStore(t)
	svc := newReservationService(store)
	tt := seedTicketType(t, store, limit(10))

	_, err := svc.Create(context.Background(), "cs_paid", []models.LineItem{{TicketTypeID: tt.ID, Quantity: 2}})
	require.NoError(t, err)
	backdate(t, store, "cs_paid")

	// payment lands before the sweep runs
	fulfillment := NewFulfillmentService(store, nil)
	issued, err := fulfillment.Fulfill(context.Background(), "cs_paid", &models.Transaction{ID: "txn_1"})
	require.NoError(t, err)
	require.True(t, issued)

	expired, err := svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	reservation, err := svc.GetBySession(context.Background(), "cs_paid")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationFulfilled, reservation.Status)

	// fulfilled inventory stays sold
	got, err := NewInventoryService(store).GetTicketType(context.Background(), tt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.SoldCount)
}

// backdate pushes a reservation's expiry into the past.
func backdate(t *testing.T, store storage.TxRunner, sessionID string) {
	t.Helper()

	past, err := types.ParseDateTime(time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	_, err = store.DB().NewQuery(`UPDATE reservations SET expires = {:past} WHERE session_id = {:sid}`).
		Bind(dbx.Params{"past": past, "sid": sessionID}).
		Execute()
	require.NoError(t, err)
}
