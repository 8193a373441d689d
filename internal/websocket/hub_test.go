package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sirius-funding/internal/models"
	"sirius-funding/internal/wallet"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "client channel closed")
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestHub_WalletEventsReachEveryClient(t *testing.T) {
	h := startHub(t)
	a := &Client{Hub: h, Send: make(chan []byte, 4)}
	b := &Client{Hub: h, Send: make(chan []byte, 4), CampaignID: "camp-1"}
	h.Register <- a
	h.Register <- b

	h.OnWalletEvent(wallet.Event{Type: wallet.EventWalletChanged, Address: "GABC"})
	h.OnWalletEvent(wallet.Event{Type: wallet.EventWalletDisconnected})

	for _, c := range []*Client{a, b} {
		msg := receive(t, c)
		assert.Equal(t, MessageWalletChanged, msg.Type)
		assert.Equal(t, "GABC", msg.Address)
		assert.Equal(t, MessageWalletDisconnected, receive(t, c).Type)
	}
}

func TestHub_SettlementMessagesAreFilteredByCampaign(t *testing.T) {
	h := startHub(t)
	all := &Client{Hub: h, Send: make(chan []byte, 4)}
	other := &Client{Hub: h, Send: make(chan []byte, 4), CampaignID: "camp-2"}
	h.Register <- all
	h.Register <- other

	h.OnSettlement(models.SettlementAttempt{CampaignID: "camp-1", State: models.StateSubmitted})
	h.OnSettlement(models.SettlementAttempt{
		CampaignID: "camp-1",
		State:      models.StateConfirmed,
		TxHash:     "hash-1",
		Amount:     decimal.NewFromInt(5),
	})
	h.OnWalletEvent(wallet.Event{Type: wallet.EventWalletDisconnected})

	msg := receive(t, all)
	assert.Equal(t, MessageDonationConfirmed, msg.Type)
	require.NotNil(t, msg.Attempt)
	assert.Equal(t, "hash-1", msg.Attempt.TxHash)

	// The confirmation for camp-1 is skipped, so the next thing other sees
	// is the wallet message.
	assert.Equal(t, MessageWalletDisconnected, receive(t, other).Type)
}

func TestHub_DropsSlowClients(t *testing.T) {
	h := startHub(t)
	slow := &Client{Hub: h, Send: make(chan []byte, 1)}
	slow.Send <- []byte(`{"type":"stale"}`)
	h.Register <- slow

	h.OnWalletEvent(wallet.Event{Type: wallet.EventWalletChanged, Address: "GABC"})

	time.Sleep(50 * time.Millisecond)
	<-slow.Send
	select {
	case _, ok := <-slow.Send:
		assert.False(t, ok, "slow client should have been closed")
	case <-time.After(2 * time.Second):
		t.Fatal("slow client was not dropped")
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	h := startHub(t)
	c := &Client{Hub: h, Send: make(chan []byte, 1)}
	h.Register <- c
	h.Unregister <- c

	_, ok := <-c.Send
	assert.False(t, ok)
}
