package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/tools/security"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/redis/go-redis/v9"

	"ticket-engine/internal/storage"
	"ticket-engine/models"
	"ticket-engine/monitoring"
)

// ReservationService turns checkout requests into ledger rows and resolves
// them later. Creation is all-or-nothing: per-item inventory claims and the
// ledger insert run in one transaction, so a crash or a losing capacity race
// can never leave inventory held without a matching reservation.
type ReservationService struct {
	store     storage.TxRunner
	inventory *InventoryService
	redis     *redis.Client

	ttl        time.Duration
	sweepBatch int
}

func NewReservationService(store storage.TxRunner, inventory *InventoryService, redisClient *redis.Client, ttl time.Duration, sweepBatch int) *ReservationService {
	if sweepBatch <= 0 {
		sweepBatch = 100
	}
	return &ReservationService{
		store:      store,
		inventory:  inventory,
		redis:      redisClient,
		ttl:        ttl,
		sweepBatch: sweepBatch,
	}
}

// Create reserves inventory for every line item and writes the pending
// ledger row, atomically. A capacity failure on any item rolls the whole
// call back and reports the offending ticket type.
func (s *ReservationService) Create(ctx context.Context, sessionID string, items []models.LineItem) (*models.Reservation, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("create reservation: missing session id")
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("create reservation %s: no line items", sessionID)
	}
	for _, li := range items {
		if err := li.Validate(); err != nil {
			return nil, fmt.Errorf("create reservation %s: %w", sessionID, err)
		}
	}

	expires, err := types.ParseDateTime(time.Now().UTC().Add(s.ttl))
	if err != nil {
		return nil, fmt.Errorf("create reservation %s: %w", sessionID, err)
	}
	reservation := &models.Reservation{
		ID:        security.RandomString(15),
		SessionID: sessionID,
		Items:     types.JSONArray[models.LineItem](items),
		Status:    models.ReservationPending,
		Created:   types.NowDateTime(),
		Expires:   expires,
	}

	err = s.store.RunInTransaction(func(tx dbx.Builder) error {
		var count int64
		err := tx.NewQuery(`SELECT COUNT(*) FROM reservations WHERE session_id = {:sid}`).
			Bind(dbx.Params{"sid": sessionID}).
			WithContext(ctx).
			Row(&count)
		if err != nil {
			return fmt.Errorf("probe session %s: %w", sessionID, err)
		}
		if count > 0 {
			return fmt.Errorf("session %s: %w", sessionID, ErrSessionExists)
		}

		for _, li := range items {
			if err := s.inventory.Reserve(ctx, tx, li.TicketTypeID, li.Quantity); err != nil {
				if errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrTicketTypeNotFound) {
					return fmt.Errorf("session %s: ticket type %s: %w",
						sessionID, li.TicketTypeID, errors.Join(ErrInsufficientInventory, err))
				}
				return err
			}
		}

		_, err = tx.Insert("reservations", dbx.Params{
			"id":             reservation.ID,
			"session_id":     reservation.SessionID,
			"items":          reservation.Items,
			"status":         reservation.Status,
			"transaction_id": "",
			"created":        reservation.Created,
			"expires":        reservation.Expires,
		}).WithContext(ctx).Execute()
		if err != nil {
			return fmt.Errorf("insert reservation %s: %w", sessionID, err)
		}
		return nil
	})
	if err != nil {
		monitoring.TrackReservation("rejected")
		return nil, err
	}

	monitoring.TrackReservation("created")
	monitoring.TrackReservedQuantity(reservation.TotalQuantity())
	s.mirrorSession(ctx, reservation)

	return reservation, nil
}

// GetBySession loads the reservation for one checkout session.
func (s *ReservationService) GetBySession(ctx context.Context, sessionID string) (*models.Reservation, error) {
	return loadReservation(ctx, s.store.DB(), sessionID)
}

// Release returns a pending reservation's inventory and marks it released.
// Idempotent: the guarded status update inside resolve is the only arbiter,
// so a reservation already in a terminal state, or one a concurrent
// fulfillment or sweep resolves first, is a no-op rather than an error.
func (s *ReservationService) Release(ctx context.Context, sessionID string) error {
	err := s.store.RunInTransaction(func(tx dbx.Builder) error {
		reservation, err := loadReservation(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		return s.resolve(ctx, tx, reservation, models.ReservationReleased)
	})
	if errors.Is(err, errAlreadyResolved) {
		slog.Info("release skipped, reservation already resolved", "sessionID", sessionID)
		return nil
	}
	if err != nil {
		return err
	}

	monitoring.TrackReservation("released")
	s.dropMirror(ctx, sessionID)
	return nil
}

// ExpireStale releases every pending reservation past its expiry, in batches.
// Each reservation is expired in its own transaction with a guarded status
// update, so a fulfillment that lands first wins and the sweep skips the row.
func (s *ReservationService) ExpireStale(ctx context.Context) (int, error) {
	var stale []models.Reservation
	err := s.store.DB().NewQuery(`
		SELECT * FROM reservations
		WHERE status = {:pending} AND expires < {:now}
		ORDER BY expires
		LIMIT {:limit}`).
		Bind(dbx.Params{
			"pending": models.ReservationPending,
			"now":     types.NowDateTime(),
			"limit":   s.sweepBatch,
		}).
		WithContext(ctx).
		All(&stale)
	if err != nil {
		return 0, fmt.Errorf("scan stale reservations: %w", err)
	}

	expired := 0
	for i := range stale {
		reservation := &stale[i]
		err := s.store.RunInTransaction(func(tx dbx.Builder) error {
			return s.resolve(ctx, tx, reservation, models.ReservationExpired)
		})
		if err != nil {
			if errors.Is(err, errAlreadyResolved) {
				// lost the race to fulfillment or an explicit release
				continue
			}
			slog.Error("failed to expire reservation",
				"sessionID", reservation.SessionID, "error", err)
			continue
		}
		expired++
		s.dropMirror(ctx, reservation.SessionID)
	}

	if expired > 0 {
		slog.Info("expired stale reservations", "count", expired)
		monitoring.TrackExpiredReservations(expired)
	}
	return expired, nil
}

// errAlreadyResolved marks a sweep target that changed state under us.
var errAlreadyResolved = errors.New("reservation no longer pending")

// resolve transitions a pending reservation to a terminal released/expired
// state and returns its units to inventory. The guarded UPDATE re-checks the
// status inside the transaction; 0 affected rows means someone else resolved
// it first and inventory must not be touched.
func (s *ReservationService) resolve(ctx context.Context, tx dbx.Builder, reservation *models.Reservation, status string) error {
	res, err := tx.NewQuery(`
		UPDATE reservations
		SET status = {:status}
		WHERE session_id = {:sid} AND status = {:pending}`).
		Bind(dbx.Params{
			"status":  status,
			"sid":     reservation.SessionID,
			"pending": models.ReservationPending,
		}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("mark reservation %s %s: %w", reservation.SessionID, status, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark reservation %s %s: %w", reservation.SessionID, status, err)
	}
	if rows == 0 {
		return errAlreadyResolved
	}

	for _, li := range reservation.Items {
		if err := s.inventory.Release(ctx, tx, li.TicketTypeID, li.Quantity); err != nil {
			if errors.Is(err, ErrTicketTypeNotFound) {
				// type deleted while the hold was open; nothing to return
				slog.Warn("ticket type gone during release",
					"sessionID", reservation.SessionID, "ticketTypeID", li.TicketTypeID)
				continue
			}
			return err
		}
	}
	return nil
}

func loadReservation(ctx context.Context, db dbx.Builder, sessionID string) (*models.Reservation, error) {
	reservation := &models.Reservation{}
	err := db.NewQuery(`SELECT * FROM reservations WHERE session_id = {:sid}`).
		Bind(dbx.Params{"sid": sessionID}).
		WithContext(ctx).
		One(reservation)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrReservationNotFound)
		}
		return nil, fmt.Errorf("load reservation %s: %w", sessionID, err)
	}
	return reservation, nil
}

// mirrorSession keeps a TTL'd copy of the active session in redis so the
// request layer can answer "is this checkout still alive" without a DB hit.
// Best effort only; the ledger stays authoritative.
func (s *ReservationService) mirrorSession(ctx context.Context, reservation *models.Reservation) {
	if s.redis == nil {
		return
	}
	key := fmt.Sprintf("reservation:%s", reservation.SessionID)
	s.redis.HSet(ctx, key, map[string]any{
		"status":  reservation.Status,
		"expires": reservation.Expires.String(),
	})
	if err := s.redis.Expire(ctx, key, s.ttl).Err(); err != nil {
		slog.Warn("failed to mirror reservation to redis",
			"sessionID", reservation.SessionID, "error", err)
	}
}

func (s *ReservationService) dropMirror(ctx context.Context, sessionID string) {
	if s.redis == nil {
		return
	}
	s.redis.Del(ctx, fmt.Sprintf("reservation:%s", sessionID))
}
