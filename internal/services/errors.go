package services

import "errors"

// Engine errors
var (
	// Inventory errors
	ErrCapacityExceeded   = errors.New("ticket type is sold out")
	ErrTicketTypeNotFound = errors.New("ticket type not found")
	ErrInvalidRelease     = errors.New("release would take sold count below zero")

	// Reservation errors
	ErrInsufficientInventory = errors.New("insufficient inventory for requested items")
	ErrReservationNotFound   = errors.New("reservation not found")
	ErrSessionExists         = errors.New("a reservation already exists for this session")

	// Webhook errors
	ErrTransactionNotFound = errors.New("transaction not found")
)

// IsSoldOut reports whether err should surface to the shopper as "sold out".
func IsSoldOut(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrInsufficientInventory)
}
