package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sirius-funding/internal/models"
)

func newBridge(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", 5*time.Second)
}

func TestAddress(t *testing.T) {
	c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/address", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"address": "GABC"})
	})

	got, err := c.Address(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "GABC", got)
}

func TestSign(t *testing.T) {
	c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sign", r.URL.Path)
		var req struct {
			Payload map[string]any `json:"payload"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "GDEST", req.Payload["destination"])
		_ = json.NewEncoder(w).Encode(map[string]string{"envelope": "AAAA", "hash": "abc"})
	})

	env, err := c.Sign(context.Background(), []byte(`{"destination":"GDEST"}`))
	require.NoError(t, err)
	assert.Equal(t, "AAAA", env.Envelope)
	assert.Equal(t, "abc", env.Hash)
}

func TestSign_IncompleteEnvelope(t *testing.T) {
	c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"envelope": "AAAA"})
	})

	_, err := c.Sign(context.Background(), []byte(`{}`))
	assert.Error(t, err)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"user cancelled", http.StatusConflict, `{"code":"user_cancelled","message":"closed the popup"}`, models.ErrUserCancelled},
		{"rejected", http.StatusForbidden, `{"code":"rejected","message":"declined"}`, models.ErrSigningRejected},
		{"unavailable", http.StatusServiceUnavailable, `locked`, models.ErrWalletUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Address(context.Background())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUnreachableBridge(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Address(context.Background())
	assert.ErrorIs(t, err, models.ErrWalletUnavailable)
}

func TestDisconnect(t *testing.T) {
	var called bool
	c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		called = r.URL.Path == "/v1/disconnect"
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.Disconnect(context.Background()))
	assert.True(t, called)
}
