package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/tools/security"
	"github.com/pocketbase/pocketbase/tools/types"

	"ticket-engine/internal/storage"
	"ticket-engine/models"
	"ticket-engine/monitoring"
	"ticket-engine/utils"
)

// ticketCodeBytes gives 16 hex chars per ticket code.
const ticketCodeBytes = 8

// FulfillmentService issues tickets for paid reservations. The pending to
// fulfilled transition and the ticket inserts share one transaction, so a
// crash mid-issue leaves no half-fulfilled reservation behind.
type FulfillmentService struct {
	store    storage.TxRunner
	notifier Notifier
}

func NewFulfillmentService(store storage.TxRunner, notifier Notifier) *FulfillmentService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &FulfillmentService{store: store, notifier: notifier}
}

// Dispatch runs Fulfill in the background so the caller (the webhook
// acknowledgement path) never waits on ticket issuance. The detached context
// keeps a slow issue alive after the originating request ends.
func (s *FulfillmentService) Dispatch(sessionID string, txn *models.Transaction) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("fulfillment panicked", "sessionID", sessionID, "panic", r)
				monitoring.TrackFulfillment("panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := s.Fulfill(ctx, sessionID, txn); err != nil {
			slog.Error("fulfillment failed", "sessionID", sessionID, "error", err)
		}
	}()
}

// Fulfill converts the session's pending reservation into issued tickets for
// txn. Returns whether the reservation ended up fulfilled:
//
//   - pending reservation: tickets issued, (true, nil)
//   - already fulfilled: nothing re-issued, (true, nil)
//   - expired, released or missing: payment arrived too late, (false, nil)
//
// The inventory the reservation holds is considered sold and is not touched;
// it was claimed at reservation time.
func (s *FulfillmentService) Fulfill(ctx context.Context, sessionID string, txn *models.Transaction) (bool, error) {
	start := time.Now()

	var codes []string
	err := s.store.RunInTransaction(func(tx dbx.Builder) error {
		res, err := tx.NewQuery(`
			UPDATE reservations
			SET status = {:fulfilled}, transaction_id = {:txnID}
			WHERE session_id = {:sid} AND status = {:pending}`).
			Bind(dbx.Params{
				"fulfilled": models.ReservationFulfilled,
				"txnID":     txn.ID,
				"sid":       sessionID,
				"pending":   models.ReservationPending,
			}).
			WithContext(ctx).
			Execute()
		if err != nil {
			return fmt.Errorf("mark reservation %s fulfilled: %w", sessionID, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark reservation %s fulfilled: %w", sessionID, err)
		}
		if rows == 0 {
			return errAlreadyResolved
		}

		reservation, err := loadReservation(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		codes, err = s.issueTickets(ctx, tx, txn, reservation.Items)
		return err
	})

	if errors.Is(err, errAlreadyResolved) {
		return s.resolveLateArrival(ctx, sessionID)
	}
	if err != nil {
		monitoring.TrackFulfillment("failed")
		return false, err
	}

	monitoring.TrackFulfillment("fulfilled")
	monitoring.TrackFulfillmentDuration(time.Since(start))
	slog.Info("reservation fulfilled",
		"sessionID", sessionID, "transactionID", txn.ID, "tickets", len(codes))

	notice := &FulfillmentNotice{
		SessionID:     sessionID,
		TransactionID: txn.ID,
		TicketCodes:   codes,
	}
	if err := s.notifier.NotifyFulfillment(ctx, notice); err != nil {
		// tickets are already durable; confirmation delivery is best effort
		slog.Warn("fulfillment notification failed", "sessionID", sessionID, "error", err)
	}
	return true, nil
}

// issueTickets writes one ticket row per reserved unit.
func (s *FulfillmentService) issueTickets(ctx context.Context, tx dbx.Builder, txn *models.Transaction, items []models.LineItem) ([]string, error) {
	now := types.NowDateTime()

	var codes []string
	for _, li := range items {
		for i := int64(0); i < li.Quantity; i++ {
			code, err := utils.GenerateCode(ticketCodeBytes)
			if err != nil {
				return nil, fmt.Errorf("generate ticket code: %w", err)
			}
			_, err = tx.Insert("tickets", dbx.Params{
				"id":             security.RandomString(15),
				"code":           code,
				"transaction_id": txn.ID,
				"ticket_type_id": li.TicketTypeID,
				"status":         models.TicketValid,
				"created":        now,
			}).WithContext(ctx).Execute()
			if err != nil {
				return nil, fmt.Errorf("insert ticket for %s: %w", li.TicketTypeID, err)
			}
			codes = append(codes, code)
		}
	}
	return codes, nil
}

// resolveLateArrival classifies a fulfillment whose guarded UPDATE matched
// nothing: either a duplicate of an earlier fulfillment (fine) or a payment
// landing after the reservation was expired or released (needs an operator).
func (s *FulfillmentService) resolveLateArrival(ctx context.Context, sessionID string) (bool, error) {
	reservation, err := loadReservation(ctx, s.store.DB(), sessionID)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			slog.Warn("payment received for unknown session", "sessionID", sessionID)
			monitoring.TrackFulfillment("orphaned")
			return false, nil
		}
		return false, err
	}

	switch reservation.Status {
	case models.ReservationFulfilled:
		monitoring.TrackFulfillment("duplicate")
		return true, nil
	default:
		slog.Warn("payment received after reservation resolved",
			"sessionID", sessionID, "status", reservation.Status)
		monitoring.TrackFulfillment("late")
		return false, nil
	}
}

// TicketsForTransaction lists the tickets issued for one transaction.
func (s *FulfillmentService) TicketsForTransaction(ctx context.Context, transactionID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := s.store.DB().NewQuery(`
		SELECT * FROM tickets WHERE transaction_id = {:txnID} ORDER BY created, code`).
		Bind(dbx.Params{"txnID": transactionID}).
		WithContext(ctx).
		All(&tickets)
	if err != nil {
		return nil, fmt.Errorf("list tickets for transaction %s: %w", transactionID, err)
	}
	return tickets, nil
}
