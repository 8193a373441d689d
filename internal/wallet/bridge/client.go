// Package bridge talks to a wallet bridge: a signer process the user runs
// and controls (browser extension relay, hardware wallet daemon, ...). The
// service never sees private keys; it only asks the bridge for an address
// and for signatures.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sirius-funding/internal/models"
	"sirius-funding/internal/wallet"
)

// Error codes a bridge may return in its JSON error body.
const (
	CodeUserCancelled = "user_cancelled"
	CodeRejected      = "rejected"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type addressResponse struct {
	Address string `json:"address"`
}

type signRequest struct {
	Payload json.RawMessage `json:"payload"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) Address(ctx context.Context) (string, error) {
	var resp addressResponse
	if err := c.post(ctx, "/v1/address", nil, &resp); err != nil {
		return "", err
	}
	return resp.Address, nil
}

func (c *Client) Sign(ctx context.Context, payload []byte) (wallet.SignedEnvelope, error) {
	var resp wallet.SignedEnvelope
	if err := c.post(ctx, "/v1/sign", signRequest{Payload: payload}, &resp); err != nil {
		return wallet.SignedEnvelope{}, err
	}
	if resp.Envelope == "" || resp.Hash == "" {
		return wallet.SignedEnvelope{}, fmt.Errorf("bridge returned an incomplete envelope")
	}
	return resp, nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.post(ctx, "/v1/disconnect", nil, nil)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrWalletUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var e errorResponse
	_ = json.Unmarshal(body, &e)
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch {
	case e.Code == CodeUserCancelled:
		return fmt.Errorf("%w: %s", models.ErrUserCancelled, msg)
	case e.Code == CodeRejected:
		return fmt.Errorf("%w: %s", models.ErrSigningRejected, msg)
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		return fmt.Errorf("%w: http status %d: %s", models.ErrWalletUnavailable, status, msg)
	}
	return fmt.Errorf("bridge: http status %d: %s", status, msg)
}

var _ wallet.Provider = (*Client)(nil)
