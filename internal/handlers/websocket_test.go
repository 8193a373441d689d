package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ws "sirius-funding/internal/websocket"
)

func TestServeWs_WalletChanged(t *testing.T) {
	ts := newTestServer(t)

	hub := ws.NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	ts.session.Subscribe(hub.OnWalletEvent)
	ts.router.GET("/ws", NewWebSocketHandler(hub, nil).ServeWs)

	srv := httptest.NewServer(ts.router)
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	ts.connect(t)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg ws.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, ws.MessageWalletChanged, msg.Type)
	assert.Equal(t, walletAddr, msg.Address)
}

func TestServeWs_RejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t)

	hub := ws.NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	ts.router.GET("/ws", NewWebSocketHandler(hub, []string{"https://funding.example"}).ServeWs)

	srv := httptest.NewServer(ts.router)
	t.Cleanup(srv.Close)

	header := http.Header{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
