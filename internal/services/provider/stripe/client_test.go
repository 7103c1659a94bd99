package stripe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCheckoutSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_123", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_key", r.Header.Get("Authorization"))
		assert.Equal(t, "line_items", r.URL.Query().Get("expand[]"))

		fmt.Fprint(w, `{
			"id": "cs_123",
			"payment_intent": "pi_123",
			"payment_status": "paid",
			"amount_total": 7500,
			"currency": "usd",
			"customer_details": {"email": "buyer@example.com", "name": "Buyer"},
			"line_items": {"data": [
				{
					"description": "General Admission",
					"quantity": 2,
					"price": {"unit_amount": 2500, "metadata": {"ticket_type_id": "tt_ga"}}
				},
				{
					"description": "VIP",
					"quantity": 1,
					"price": {"unit_amount": 2500, "metadata": {"ticket_type_id": "tt_vip"}}
				}
			]}
		}`)
	}))
	defer srv.Close()

	client := NewClient(&ClientConfig{BaseURL: srv.URL, SecretKey: "sk_test_key"})

	session, err := client.GetCheckoutSession(context.Background(), "cs_123")
	require.NoError(t, err)

	assert.Equal(t, "cs_123", session.ID)
	assert.Equal(t, "pi_123", session.PaymentIntentID)
	assert.Equal(t, "paid", session.PaymentStatus)
	assert.Equal(t, "buyer@example.com", session.CustomerEmail)
	assert.True(t, session.AmountTotal.Equal(decimal.RequireFromString("75.00")))

	require.Len(t, session.LineItems, 2)
	assert.Equal(t, "tt_ga", session.LineItems[0].TicketTypeID)
	assert.Equal(t, int64(2), session.LineItems[0].Quantity)
	assert.True(t, session.LineItems[0].UnitAmount.Equal(decimal.RequireFromString("25.00")))
}

func TestGetCheckoutSessionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(&ClientConfig{BaseURL: srv.URL, SecretKey: "sk_test_key"})

	_, err := client.GetCheckoutSession(context.Background(), "cs_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestGetCheckoutSessionServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(&ClientConfig{BaseURL: srv.URL, SecretKey: "sk_test_key"})

	_, err := client.GetCheckoutSession(context.Background(), "cs_123")
	require.Error(t, err)
}
