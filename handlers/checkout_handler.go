package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-engine/internal/services"
	"ticket-engine/models"
)

type CheckoutHandler struct {
	inventory    *services.InventoryService
	reservations *services.ReservationService
}

func NewCheckoutHandler(inventory *services.InventoryService, reservations *services.ReservationService) *CheckoutHandler {
	return &CheckoutHandler{
		inventory:    inventory,
		reservations: reservations,
	}
}

// Reserve - claim inventory for a checkout session
func (h *CheckoutHandler) Reserve(e *core.RequestEvent) error {
	var req struct {
		SessionID string            `json:"session_id"`
		Items     []models.LineItem `json:"items"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	reservation, err := h.reservations.Create(e.Request.Context(), req.SessionID, req.Items)
	if err != nil {
		switch {
		case services.IsSoldOut(err):
			return apis.NewApiError(http.StatusConflict, "Not enough tickets available", err)
		case errors.Is(err, services.ErrSessionExists):
			return apis.NewApiError(http.StatusConflict, "Session already has a reservation", err)
		case errors.Is(err, services.ErrTicketTypeNotFound):
			return apis.NewBadRequestError("Unknown ticket type", err)
		default:
			return apis.NewBadRequestError("Failed to create reservation", err)
		}
	}

	return e.JSON(http.StatusOK, reservation)
}

// Release - return a reservation's inventory before payment
func (h *CheckoutHandler) Release(e *core.RequestEvent) error {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.SessionID == "" {
		return apis.NewBadRequestError("Missing session_id", nil)
	}

	if err := h.reservations.Release(e.Request.Context(), req.SessionID); err != nil {
		if errors.Is(err, services.ErrReservationNotFound) {
			return apis.NewNotFoundError("Reservation not found", err)
		}
		return apis.NewBadRequestError("Failed to release reservation", err)
	}

	return e.JSON(http.StatusOK, map[string]any{"released": true})
}

// GetReservation - current state of one checkout session
func (h *CheckoutHandler) GetReservation(e *core.RequestEvent) error {
	sessionID := e.Request.PathValue("sessionId")

	reservation, err := h.reservations.GetBySession(e.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, services.ErrReservationNotFound) {
			return apis.NewNotFoundError("Reservation not found", err)
		}
		return apis.NewBadRequestError("Failed to load reservation", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"reservation": reservation,
		"active":      !reservation.Terminal(),
	})
}

// CreateTicketType - register a new sellable ticket category
func (h *CheckoutHandler) CreateTicketType(e *core.RequestEvent) error {
	var req struct {
		EventID     string `json:"event_id"`
		Name        string `json:"name"`
		PriceCents  int64  `json:"price_cents"`
		MaxQuantity *int64 `json:"max_quantity"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.EventID == "" || req.Name == "" {
		return apis.NewBadRequestError("Missing event_id or name", nil)
	}
	if req.MaxQuantity != nil && *req.MaxQuantity < 0 {
		return apis.NewBadRequestError("max_quantity must not be negative", nil)
	}

	tt := &models.TicketType{
		EventID:     req.EventID,
		Name:        req.Name,
		PriceCents:  req.PriceCents,
		MaxQuantity: req.MaxQuantity,
	}
	if err := h.inventory.CreateTicketType(e.Request.Context(), tt); err != nil {
		return apis.NewBadRequestError("Failed to create ticket type", err)
	}

	return e.JSON(http.StatusOK, tt)
}

// GetTicketType - availability of one ticket category
func (h *CheckoutHandler) GetTicketType(e *core.RequestEvent) error {
	tt, err := h.inventory.GetTicketType(e.Request.Context(), e.Request.PathValue("ticketTypeId"))
	if err != nil {
		if errors.Is(err, services.ErrTicketTypeNotFound) {
			return apis.NewNotFoundError("Ticket type not found", err)
		}
		return apis.NewBadRequestError("Failed to load ticket type", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"ticket_type": tt,
		"remaining":   tt.Remaining(),
	})
}
