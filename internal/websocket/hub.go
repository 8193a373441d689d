package websocket

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sirius-funding/internal/models"
	"sirius-funding/internal/wallet"
)

type MessageType string

const (
	MessageWalletChanged      MessageType = "walletChanged"
	MessageWalletDisconnected MessageType = "walletDisconnected"
	MessageDonationConfirmed  MessageType = "donationConfirmed"
	MessageSettlementFailed   MessageType = "settlementFailed"
)

// Message is what clients receive. Address is set for wallet messages,
// Attempt for settlement messages.
type Message struct {
	Type       MessageType               `json:"type"`
	Address    string                    `json:"address,omitempty"`
	CampaignID string                    `json:"campaignId,omitempty"`
	Attempt    *models.SettlementAttempt `json:"attempt,omitempty"`
}

type Client struct {
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte
	// CampaignID limits settlement messages to one campaign. Wallet
	// messages always go out.
	CampaignID string
}

func (c *Client) wants(msg Message) bool {
	return c.CampaignID == "" || msg.CampaignID == "" || msg.CampaignID == c.CampaignID
}

type Hub struct {
	Clients    map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan Message

	done   chan struct{}
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		Clients:    make(map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan Message, 64),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// Run services the hub until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.Clients {
				delete(h.Clients, client)
				close(client.Send)
			}
			return nil

		case client := <-h.Register:
			h.Clients[client] = struct{}{}
			h.logger.Debug().Str("campaign_id", client.CampaignID).Int("clients", len(h.Clients)).Msg("websocket client registered")

		case client := <-h.Unregister:
			if _, ok := h.Clients[client]; ok {
				delete(h.Clients, client)
				close(client.Send)
				h.logger.Debug().Int("clients", len(h.Clients)).Msg("websocket client unregistered")
			}

		case msg := <-h.Broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to marshal message")
				continue
			}

			for client := range h.Clients {
				if !client.wants(msg) {
					continue
				}
				select {
				case client.Send <- data:
				default:
					close(client.Send)
					delete(h.Clients, client)
					h.logger.Warn().Msg("dropped slow websocket client")
				}
			}
		}
	}
}

// Join registers client unless the hub has stopped.
func (h *Hub) Join(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Leave unregisters client. It returns immediately once the hub has stopped.
func (h *Hub) Leave(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

// Publish queues msg without blocking the caller. Messages are dropped when
// the queue is full.
func (h *Hub) Publish(msg Message) {
	select {
	case h.Broadcast <- msg:
	default:
		h.logger.Warn().Str("type", string(msg.Type)).Msg("hub queue full, message dropped")
	}
}

// OnWalletEvent forwards wallet session transitions. It is a wallet.Listener.
func (h *Hub) OnWalletEvent(ev wallet.Event) {
	switch ev.Type {
	case wallet.EventWalletChanged:
		h.Publish(Message{Type: MessageWalletChanged, Address: ev.Address})
	case wallet.EventWalletDisconnected:
		h.Publish(Message{Type: MessageWalletDisconnected})
	}
}

// OnSettlement forwards terminal donate states. It is a settlement.Observer.
func (h *Hub) OnSettlement(a models.SettlementAttempt) {
	var typ MessageType
	switch a.State {
	case models.StateConfirmed:
		typ = MessageDonationConfirmed
	case models.StateFailed:
		typ = MessageSettlementFailed
	default:
		return
	}
	h.Publish(Message{Type: typ, CampaignID: a.CampaignID, Attempt: &a})
}
