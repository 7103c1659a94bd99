package services

import (
	"context"
	"fmt"

	pubnub "github.com/pubnub/go"
)

// FulfillmentNotice is published after tickets are issued so storefronts
// watching the session can flip to the confirmation screen.
type FulfillmentNotice struct {
	SessionID     string   `json:"session_id"`
	TransactionID string   `json:"transaction_id"`
	TicketCodes   []string `json:"ticket_codes"`
}

// Notifier delivers fulfillment confirmations to interested clients.
// Delivery is best effort; fulfillment never depends on it.
type Notifier interface {
	NotifyFulfillment(ctx context.Context, notice *FulfillmentNotice) error
}

// PubNubNotifier publishes confirmations to one shared channel plus a
// per-session channel the buyer's browser subscribes to.
type PubNubNotifier struct {
	client  *pubnub.PubNub
	channel string
}

func NewPubNubNotifier(client *pubnub.PubNub, channel string) *PubNubNotifier {
	return &PubNubNotifier{client: client, channel: channel}
}

func (n *PubNubNotifier) NotifyFulfillment(_ context.Context, notice *FulfillmentNotice) error {
	message := map[string]interface{}{
		"type":           "fulfillment_completed",
		"session_id":     notice.SessionID,
		"transaction_id": notice.TransactionID,
		"ticket_codes":   notice.TicketCodes,
	}

	_, _, err := n.client.Publish().
		Channel(n.channel).
		Message(message).
		Execute()
	if err != nil {
		return fmt.Errorf("publish fulfillment for %s: %w", notice.SessionID, err)
	}

	_, _, err = n.client.Publish().
		Channel(fmt.Sprintf("session-%s", notice.SessionID)).
		Message(message).
		Execute()
	if err != nil {
		return fmt.Errorf("publish session notice for %s: %w", notice.SessionID, err)
	}
	return nil
}

// NoopNotifier is used when no publish keys are configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyFulfillment(context.Context, *FulfillmentNotice) error { return nil }
