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

	"ticket-engine/internal/services/provider"
	"ticket-engine/internal/storage"
	"ticket-engine/models"
	"ticket-engine/monitoring"
	"ticket-engine/utils"
)

// eventDedupTTL bounds the redis fast-path markers. The processed_events
// table stays authoritative well past provider retry windows.
const eventDedupTTL = 24 * time.Hour

// WebhookService records inbound provider events exactly once and dispatches
// them to their handlers. Recording and handling are split so the endpoint
// can acknowledge before any slow work runs.
type WebhookService struct {
	store       storage.TxRunner
	provider    provider.PaymentProvider
	breaker     *utils.CircuitBreaker
	fulfillment *FulfillmentService
	redis       *redis.Client
}

func NewWebhookService(
	store storage.TxRunner,
	paymentProvider provider.PaymentProvider,
	fulfillment *FulfillmentService,
	redisClient *redis.Client,
) *WebhookService {
	return &WebhookService{
		store:       store,
		provider:    paymentProvider,
		breaker:     utils.NewCircuitBreaker("payment-provider"),
		fulfillment: fulfillment,
		redis:       redisClient,
	}
}

// Record claims the event id, reporting whether this delivery is the first.
// A redis SETNX answers retries cheaply; the unique index on event_id is
// what actually guarantees exactly-once, including across redis flushes.
func (s *WebhookService) Record(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if s.redis != nil {
		set, err := s.redis.SetNX(ctx, dedupKey(event.ID), 1, eventDedupTTL).Result()
		if err != nil {
			slog.Warn("webhook dedup fast path unavailable", "eventID", event.ID, "error", err)
		} else if !set {
			monitoring.TrackWebhookEvent(event.Type, "duplicate")
			return false, nil
		}
	}

	now := types.NowDateTime()
	res, err := s.store.DB().NewQuery(`
		INSERT INTO processed_events (id, event_id, event_type, status, transaction_id, created, updated)
		VALUES ({:id}, {:eventID}, {:eventType}, {:status}, '', {:now}, {:now})
		ON CONFLICT (event_id) DO NOTHING`).
		Bind(dbx.Params{
			"id":        security.RandomString(15),
			"eventID":   event.ID,
			"eventType": event.Type,
			"status":    models.EventProcessing,
			"now":       now,
		}).
		WithContext(ctx).
		Execute()
	if err != nil {
		s.releaseDedupMarker(ctx, event.ID)
		return false, fmt.Errorf("record event %s: %w", event.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		s.releaseDedupMarker(ctx, event.ID)
		return false, fmt.Errorf("record event %s: %w", event.ID, err)
	}
	if rows == 0 {
		monitoring.TrackWebhookEvent(event.Type, "duplicate")
		return false, nil
	}
	return true, nil
}

func dedupKey(eventID string) string {
	return fmt.Sprintf("webhook:event:%s", eventID)
}

// releaseDedupMarker drops the fast-path claim after a failed insert so the
// provider's retry of the same delivery is not answered as a duplicate.
func (s *WebhookService) releaseDedupMarker(ctx context.Context, eventID string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, dedupKey(eventID)).Err(); err != nil {
		slog.Error("failed to release webhook dedup marker", "eventID", eventID, "error", err)
	}
}

// Handle processes a freshly recorded event. The outcome is written back to
// the event's idempotency row either way, so a later audit can see what each
// delivery did.
func (s *WebhookService) Handle(ctx context.Context, event *models.WebhookEvent) error {
	var err error
	switch event.Type {
	case models.EventCheckoutCompleted, models.EventAsyncPaymentSucceeded:
		err = s.handlePaymentSucceeded(ctx, event)
	case models.EventAsyncPaymentFailed:
		err = s.handlePaymentFailed(ctx, event)
	case models.EventPaymentIntentFailed:
		err = s.handleIntentFailed(ctx, event)
	case models.EventChargeRefunded:
		err = s.handleChargeRefunded(ctx, event)
	default:
		slog.Info("ignoring unrecognized event type", "eventID", event.ID, "type", event.Type)
		s.markOutcome(ctx, event.ID, models.EventSkipped, "")
		monitoring.TrackWebhookEvent(event.Type, "skipped")
		return nil
	}

	if err != nil {
		s.markOutcome(ctx, event.ID, models.EventFailed, "")
		monitoring.TrackWebhookEvent(event.Type, "failed")
		return fmt.Errorf("handle %s event %s: %w", event.Type, event.ID, err)
	}
	return nil
}

// handlePaymentSucceeded records the transaction for a paid checkout session
// and hands the session to fulfillment. checkout.session.completed also
// arrives for sessions whose async payment is still settling; those are
// skipped here and picked up by async_payment_succeeded.
func (s *WebhookService) handlePaymentSucceeded(ctx context.Context, event *models.WebhookEvent) error {
	if event.Type == models.EventCheckoutCompleted && event.Session.PaymentStatus == "unpaid" {
		slog.Info("checkout completed, awaiting async payment",
			"eventID", event.ID, "sessionID", event.Session.ID)
		s.markOutcome(ctx, event.ID, models.EventSkipped, "")
		monitoring.TrackWebhookEvent(event.Type, "skipped")
		return nil
	}

	txn, err := s.transactionBySession(ctx, event.Session.ID)
	if err != nil && !errors.Is(err, ErrTransactionNotFound) {
		return err
	}

	if txn == nil {
		var session *provider.CheckoutSession
		err := s.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			session, err = s.provider.GetCheckoutSession(ctx, event.Session.ID)
			return err
		})
		if err != nil {
			return fmt.Errorf("fetch session %s: %w", event.Session.ID, err)
		}

		txn, err = s.recordTransaction(ctx, session)
		if err != nil {
			return err
		}
	}

	s.fulfillment.Dispatch(event.Session.ID, txn)

	s.markOutcome(ctx, event.ID, models.EventProcessed, txn.ID)
	monitoring.TrackWebhookEvent(event.Type, "processed")
	return nil
}

// handlePaymentFailed marks the session's transaction failed, when one was
// recorded. The reservation is left alone: the hold stays pending so the
// customer can retry payment inside the TTL, and the expiry sweep reclaims
// it if no retry arrives.
func (s *WebhookService) handlePaymentFailed(ctx context.Context, event *models.WebhookEvent) error {
	updated, err := s.updateTransactionStatusBySession(ctx, event.Session.ID, models.TransactionFailed)
	if err != nil {
		return err
	}
	if !updated {
		slog.Info("async payment failed before any transaction was recorded",
			"eventID", event.ID, "sessionID", event.Session.ID)
		s.markOutcome(ctx, event.ID, models.EventSkipped, "")
		monitoring.TrackWebhookEvent(event.Type, "skipped")
		return nil
	}

	s.markOutcome(ctx, event.ID, models.EventProcessed, "")
	monitoring.TrackWebhookEvent(event.Type, "processed")
	return nil
}

// handleIntentFailed marks the transaction carrying the failed intent, when
// one exists. Intents that never produced a transaction have nothing to do
// here; their reservation expires on its own.
func (s *WebhookService) handleIntentFailed(ctx context.Context, event *models.WebhookEvent) error {
	updated, err := s.updateTransactionStatus(ctx, event.Intent.ID, models.TransactionFailed)
	if err != nil {
		return err
	}
	if !updated {
		slog.Info("payment intent failed with no matching transaction",
			"eventID", event.ID, "intentID", event.Intent.ID)
		s.markOutcome(ctx, event.ID, models.EventSkipped, "")
		monitoring.TrackWebhookEvent(event.Type, "skipped")
		return nil
	}

	s.markOutcome(ctx, event.ID, models.EventProcessed, "")
	monitoring.TrackWebhookEvent(event.Type, "processed")
	return nil
}

// handleChargeRefunded flips the transaction to refunded, or partially
// refunded when the charge still has unreturned amount. Tickets stay valid;
// voiding them is an operator decision, not an automatic one.
func (s *WebhookService) handleChargeRefunded(ctx context.Context, event *models.WebhookEvent) error {
	status := models.TransactionRefunded
	if event.Charge.AmountRefunded < event.Charge.Amount {
		status = models.TransactionPartiallyRefunded
	}

	updated, err := s.updateTransactionStatus(ctx, event.Charge.PaymentIntent, status)
	if err != nil {
		return err
	}
	if !updated {
		slog.Warn("refund for unknown transaction",
			"eventID", event.ID, "intentID", event.Charge.PaymentIntent)
		s.markOutcome(ctx, event.ID, models.EventSkipped, "")
		monitoring.TrackWebhookEvent(event.Type, "skipped")
		return nil
	}

	s.markOutcome(ctx, event.ID, models.EventProcessed, "")
	monitoring.TrackWebhookEvent(event.Type, "processed")
	return nil
}

// recordTransaction inserts the durable payment record for session. Two
// success events racing for the same session both land here; the unique
// index arbitrates and the loser reads the winner's row.
func (s *WebhookService) recordTransaction(ctx context.Context, session *provider.CheckoutSession) (*models.Transaction, error) {
	now := types.NowDateTime()
	txn := &models.Transaction{
		ID:                security.RandomString(15),
		ProviderSessionID: session.ID,
		PaymentIntentID:   session.PaymentIntentID,
		CustomerEmail:     session.CustomerEmail,
		CustomerName:      session.CustomerName,
		Amount:            session.AmountTotal,
		Currency:          session.Currency,
		Status:            models.TransactionCompleted,
		Created:           now,
		Updated:           now,
	}

	res, err := s.store.DB().NewQuery(`
		INSERT INTO transactions
			(id, provider_session_id, payment_intent_id, customer_email, customer_name,
			 amount, currency, status, created, updated)
		VALUES
			({:id}, {:sessionID}, {:intentID}, {:email}, {:name},
			 {:amount}, {:currency}, {:status}, {:now}, {:now})
		ON CONFLICT (provider_session_id) DO NOTHING`).
		Bind(dbx.Params{
			"id":        txn.ID,
			"sessionID": txn.ProviderSessionID,
			"intentID":  txn.PaymentIntentID,
			"email":     txn.CustomerEmail,
			"name":      txn.CustomerName,
			"amount":    txn.Amount.String(),
			"currency":  txn.Currency,
			"status":    txn.Status,
			"now":       now,
		}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("record transaction for %s: %w", session.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("record transaction for %s: %w", session.ID, err)
	}
	if rows == 0 {
		return s.transactionBySession(ctx, session.ID)
	}
	return txn, nil
}

func (s *WebhookService) transactionBySession(ctx context.Context, sessionID string) (*models.Transaction, error) {
	txn := &models.Transaction{}
	err := s.store.DB().NewQuery(`SELECT * FROM transactions WHERE provider_session_id = {:sid}`).
		Bind(dbx.Params{"sid": sessionID}).
		WithContext(ctx).
		One(txn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrTransactionNotFound)
		}
		return nil, fmt.Errorf("load transaction for %s: %w", sessionID, err)
	}
	return txn, nil
}

func (s *WebhookService) updateTransactionStatus(ctx context.Context, paymentIntentID, status string) (bool, error) {
	if paymentIntentID == "" {
		return false, nil
	}
	res, err := s.store.DB().NewQuery(`
		UPDATE transactions
		SET status = {:status}, updated = {:now}
		WHERE payment_intent_id = {:intentID}`).
		Bind(dbx.Params{
			"status":   status,
			"now":      types.NowDateTime(),
			"intentID": paymentIntentID,
		}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return false, fmt.Errorf("mark transaction %s %s: %w", paymentIntentID, status, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark transaction %s %s: %w", paymentIntentID, status, err)
	}
	return rows > 0, nil
}

func (s *WebhookService) updateTransactionStatusBySession(ctx context.Context, sessionID, status string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	res, err := s.store.DB().NewQuery(`
		UPDATE transactions
		SET status = {:status}, updated = {:now}
		WHERE provider_session_id = {:sid}`).
		Bind(dbx.Params{
			"status": status,
			"now":    types.NowDateTime(),
			"sid":    sessionID,
		}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return false, fmt.Errorf("mark transaction for %s %s: %w", sessionID, status, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark transaction for %s %s: %w", sessionID, status, err)
	}
	return rows > 0, nil
}

// markOutcome writes the final status onto the event's idempotency row.
// Failures here are logged, not returned; the event work itself already
// happened.
func (s *WebhookService) markOutcome(ctx context.Context, eventID, status, transactionID string) {
	_, err := s.store.DB().NewQuery(`
		UPDATE processed_events
		SET status = {:status}, transaction_id = {:txnID}, updated = {:now}
		WHERE event_id = {:eventID}`).
		Bind(dbx.Params{
			"status":  status,
			"txnID":   transactionID,
			"now":     types.NowDateTime(),
			"eventID": eventID,
		}).
		WithContext(ctx).
		Execute()
	if err != nil {
		slog.Error("failed to record event outcome", "eventID", eventID, "error", err)
	}
}
