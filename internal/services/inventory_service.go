package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/tools/security"
	"github.com/pocketbase/pocketbase/tools/types"

	"ticket-engine/internal/storage"
	"ticket-engine/models"
)

// InventoryService owns every mutation of ticket_types.sold_count. Reserve
// and Release are single guarded UPDATE statements against the current row,
// never a read-then-write, so two concurrent callers can't both win the last
// unit. The table's CHECK constraints back this up at the storage layer.
type InventoryService struct {
	store storage.TxRunner
}

func NewInventoryService(store storage.TxRunner) *InventoryService {
	return &InventoryService{store: store}
}

// CreateTicketType inserts a new sellable category. sold_count starts at zero.
func (s *InventoryService) CreateTicketType(ctx context.Context, tt *models.TicketType) error {
	if tt.ID == "" {
		tt.ID = security.RandomString(15)
	}
	now := types.NowDateTime()
	tt.Created = now
	tt.Updated = now

	_, err := s.store.DB().Insert("ticket_types", dbx.Params{
		"id":           tt.ID,
		"event_id":     tt.EventID,
		"name":         tt.Name,
		"price_cents":  tt.PriceCents,
		"max_quantity": tt.MaxQuantity,
		"sold_count":   tt.SoldCount,
		"created":      tt.Created,
		"updated":      tt.Updated,
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("create ticket type %s: %w", tt.Name, err)
	}
	return nil
}

// GetTicketType loads one ticket type by id.
func (s *InventoryService) GetTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	tt := &models.TicketType{}
	err := s.store.DB().
		NewQuery(`SELECT * FROM ticket_types WHERE id = {:id}`).
		Bind(dbx.Params{"id": id}).
		WithContext(ctx).
		One(tt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTicketTypeNotFound
		}
		return nil, fmt.Errorf("get ticket type %s: %w", id, err)
	}
	return tt, nil
}

// Reserve atomically claims quantity units of a ticket type inside the given
// transaction scope. Returns ErrCapacityExceeded when the cap would be
// breached; the losing request is rejected, never silently truncated.
func (s *InventoryService) Reserve(ctx context.Context, tx dbx.Builder, ticketTypeID string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("reserve %s: quantity must be positive, got %d", ticketTypeID, quantity)
	}

	res, err := tx.NewQuery(`
		UPDATE ticket_types
		SET sold_count = sold_count + {:qty}, updated = {:now}
		WHERE id = {:id}
		  AND (max_quantity IS NULL OR sold_count + {:qty} <= max_quantity)`).
		Bind(dbx.Params{
			"qty": quantity,
			"id":  ticketTypeID,
			"now": types.NowDateTime(),
		}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("reserve %d x %s: %w", quantity, ticketTypeID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve %d x %s: %w", quantity, ticketTypeID, err)
	}
	if rows == 0 {
		exists, err := s.ticketTypeExists(ctx, tx, ticketTypeID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("reserve %s: %w", ticketTypeID, ErrTicketTypeNotFound)
		}
		return fmt.Errorf("reserve %d x %s: %w", quantity, ticketTypeID, ErrCapacityExceeded)
	}
	return nil
}

// Release atomically returns quantity units to a ticket type. A release that
// would take the counter negative indicates a caller bug and fails with
// ErrInvalidRelease.
func (s *InventoryService) Release(ctx context.Context, tx dbx.Builder, ticketTypeID string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("release %s: quantity must be positive, got %d", ticketTypeID, quantity)
	}

	res, err := tx.NewQuery(`
		UPDATE ticket_types
		SET sold_count = sold_count - {:qty}, updated = {:now}
		WHERE id = {:id} AND sold_count - {:qty} >= 0`).
		Bind(dbx.Params{
			"qty": quantity,
			"id":  ticketTypeID,
			"now": types.NowDateTime(),
		}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("release %d x %s: %w", quantity, ticketTypeID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release %d x %s: %w", quantity, ticketTypeID, err)
	}
	if rows == 0 {
		exists, err := s.ticketTypeExists(ctx, tx, ticketTypeID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("release %s: %w", ticketTypeID, ErrTicketTypeNotFound)
		}
		return fmt.Errorf("release %d x %s: %w", quantity, ticketTypeID, ErrInvalidRelease)
	}
	return nil
}

func (s *InventoryService) ticketTypeExists(ctx context.Context, tx dbx.Builder, id string) (bool, error) {
	var count int64
	err := tx.NewQuery(`SELECT COUNT(*) FROM ticket_types WHERE id = {:id}`).
		Bind(dbx.Params{"id": id}).
		WithContext(ctx).
		Row(&count)
	if err != nil {
		return false, fmt.Errorf("probe ticket type %s: %w", id, err)
	}
	return count > 0, nil
}
