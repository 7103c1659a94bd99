package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-engine/internal/services"
	"ticket-engine/internal/services/provider/stripe"
	"ticket-engine/models"
)

// maxWebhookBody caps payload reads; provider events are a few KB.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	verifier *stripe.WebhookVerifier
	webhooks *services.WebhookService
}

func NewWebhookHandler(verifier *stripe.WebhookVerifier, webhooks *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		webhooks: webhooks,
	}
}

// HandleProviderEvent - receive one provider webhook delivery
//
// The provider retries anything that isn't a 2xx, so once the event is
// recorded we always acknowledge: processing errors are logged and retried
// on our side via the event's failed status, never bounced back.
func (h *WebhookHandler) HandleProviderEvent(e *core.RequestEvent) error {
	payload, err := io.ReadAll(io.LimitReader(e.Request.Body, maxWebhookBody))
	if err != nil {
		return apis.NewBadRequestError("Failed to read payload", err)
	}

	if err := h.verifier.Verify(payload, e.Request.Header.Get("Stripe-Signature")); err != nil {
		slog.Warn("rejected webhook with bad signature", "error", err)
		return apis.NewBadRequestError("Invalid signature", nil)
	}

	event, err := models.ParseWebhookEvent(payload)
	if err != nil {
		return apis.NewBadRequestError("Malformed event payload", err)
	}

	fresh, err := h.webhooks.Record(e.Request.Context(), event)
	if err != nil {
		// recording failed entirely; let the provider retry this delivery
		return apis.NewApiError(http.StatusInternalServerError, "Failed to record event", err)
	}
	if !fresh {
		return e.JSON(http.StatusOK, map[string]any{
			"received":  true,
			"duplicate": true,
		})
	}

	if err := h.webhooks.Handle(e.Request.Context(), event); err != nil {
		slog.Error("webhook processing failed", "eventID", event.ID, "error", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"received":  true,
		"duplicate": false,
	})
}
