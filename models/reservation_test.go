package models

import (
	"testing"

	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/stretchr/testify/assert"
)

func TestLineItemValidate(t *testing.T) {
	assert.NoError(t, LineItem{TicketTypeID: "tt_1", Quantity: 2}.Validate())
	assert.Error(t, LineItem{Quantity: 2}.Validate())
	assert.Error(t, LineItem{TicketTypeID: "tt_1", Quantity: 0}.Validate())
	assert.Error(t, LineItem{TicketTypeID: "tt_1", Quantity: -1}.Validate())
}

func TestReservationTerminal(t *testing.T) {
	r := &Reservation{Status: ReservationPending}
	assert.False(t, r.Terminal())

	for _, status := range []string{ReservationFulfilled, ReservationExpired, ReservationReleased} {
		r.Status = status
		assert.True(t, r.Terminal(), status)
	}
}

func TestReservationTotalQuantity(t *testing.T) {
	r := &Reservation{
		Items: types.JSONArray[LineItem]{
			{TicketTypeID: "tt_ga", Quantity: 2},
			{TicketTypeID: "tt_vip", Quantity: 3},
		},
	}
	assert.Equal(t, int64(5), r.TotalQuantity())

	assert.Equal(t, int64(0), (&Reservation{}).TotalQuantity())
}
