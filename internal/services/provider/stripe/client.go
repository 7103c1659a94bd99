package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"ticket-engine/internal/services/provider"
)

type ClientConfig struct {
	BaseURL   string `json:"baseUrl" mapstructure:"base_url"`
	SecretKey string `json:"secretKey" mapstructure:"secret_key"`
	Timeout   time.Duration
}

type Client struct {
	// baseURL is the base url of the Stripe API.
	baseURL string

	// secretKey is the bearer secret for API calls.
	secretKey string

	// hc is the http client.
	hc *http.Client
}

// NewClient creates a new Stripe API client.
func NewClient(c *ClientConfig) *Client {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   c.BaseURL,
		secretKey: c.SecretKey,

		// set http client with timeout.
		hc: &http.Client{
			Timeout: timeout,
		},
	}
}

// checkoutSessionReply mirrors the fields we need from
// GET /v1/checkout/sessions/{id}?expand[]=line_items.
type checkoutSessionReply struct {
	ID              string `json:"id"`
	PaymentIntent   string `json:"payment_intent"`
	PaymentStatus   string `json:"payment_status"`
	AmountTotal     int64  `json:"amount_total"`
	Currency        string `json:"currency"`
	CustomerDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
	LineItems struct {
		Data []struct {
			Description string `json:"description"`
			Quantity    int64  `json:"quantity"`
			Price       struct {
				UnitAmount int64 `json:"unit_amount"`
				Metadata   struct {
					TicketTypeID string `json:"ticket_type_id"`
				} `json:"metadata"`
			} `json:"price"`
		} `json:"data"`
	} `json:"line_items"`
}

// GetCheckoutSession fetches one checkout session with line items expanded.
func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (*provider.CheckoutSession, error) {
	_baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("getCheckoutSession: url.Parse: %v", err)
	}

	endpoint := fmt.Sprintf("%s/v1/checkout/sessions/%s?expand[]=line_items", _baseURL.String(), url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("getCheckoutSession: http.NewReq: %v", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.secretKey))

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getCheckoutSession: http.Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("getCheckoutSession: session %s not found", sessionID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getCheckoutSession: resp.StatusCode: %d", resp.StatusCode)
	}

	var reply checkoutSessionReply
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("getCheckoutSession: json.Decode: %v", err)
	}

	session := &provider.CheckoutSession{
		ID:              reply.ID,
		PaymentIntentID: reply.PaymentIntent,
		PaymentStatus:   reply.PaymentStatus,
		CustomerEmail:   reply.CustomerDetails.Email,
		CustomerName:    reply.CustomerDetails.Name,
		AmountTotal:     fromSmallestUnit(reply.AmountTotal),
		Currency:        reply.Currency,
	}
	for _, li := range reply.LineItems.Data {
		session.LineItems = append(session.LineItems, provider.LineItem{
			TicketTypeID: li.Price.Metadata.TicketTypeID,
			Description:  li.Description,
			Quantity:     li.Quantity,
			UnitAmount:   fromSmallestUnit(li.Price.UnitAmount),
		})
	}
	return session, nil
}

// fromSmallestUnit converts a provider amount in the currency's smallest unit
// to a decimal major-unit amount.
func fromSmallestUnit(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Div(decimal.NewFromInt(100))
}
