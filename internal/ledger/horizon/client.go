// Package horizon is a ledger.Client backed by a Stellar Horizon server.
package horizon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"sirius-funding/internal/ledger"
)

const (
	TestnetURL = "https://horizon-testnet.stellar.org"

	TestnetPassphrase = "Test SDF Network ; September 2015"
	PublicPassphrase  = "Public Global Stellar Network ; September 2015"
)

// Options tune the client. Zero values fall back to defaults.
type Options struct {
	Timeout         time.Duration
	RequestsPerSec  float64
	Burst           int
	MaxReadAttempts int
}

type Client struct {
	httpClient  *http.Client
	baseURL     string
	limiter     *rate.Limiter
	maxAttempts int
	logger      zerolog.Logger
}

func NewClient(baseURL string, opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.MaxReadAttempts <= 0 {
		opts.MaxReadAttempts = 3
	}
	return &Client{
		httpClient:  &http.Client{Timeout: opts.Timeout},
		baseURL:     strings.TrimRight(baseURL, "/"),
		limiter:     rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.Burst),
		maxAttempts: opts.MaxReadAttempts,
		logger:      logger.With().Str("component", "horizon").Logger(),
	}
}

type transactionResponse struct {
	Hash          string    `json:"hash"`
	Ledger        int64     `json:"ledger"`
	Successful    *bool     `json:"successful"`
	SourceAccount string    `json:"source_account"`
	Memo          string    `json:"memo"`
	CreatedAt     time.Time `json:"created_at"`
}

// receipt treats a missing successful flag as success: Horizon only answers
// 200 for transactions that made it into a ledger.
func (r transactionResponse) receipt() *ledger.Receipt {
	successful := true
	if r.Successful != nil {
		successful = *r.Successful
	}
	return &ledger.Receipt{
		Hash:       r.Hash,
		Ledger:     r.Ledger,
		Successful: successful,
		Source:     r.SourceAccount,
		Memo:       r.Memo,
		CreatedAt:  r.CreatedAt,
	}
}

type operationsResponse struct {
	Embedded struct {
		Records []struct {
			Type      string `json:"type"`
			From      string `json:"from"`
			To        string `json:"to"`
			AssetType string `json:"asset_type"`
			Amount    string `json:"amount"`
		} `json:"records"`
	} `json:"_embedded"`
}

type problemResponse struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
	Extras struct {
		ResultCodes struct {
			Transaction string   `json:"transaction"`
			Operations  []string `json:"operations"`
		} `json:"result_codes"`
	} `json:"extras"`
}

type accountResponse struct {
	ID       string `json:"id"`
	Balances []struct {
		AssetType string `json:"asset_type"`
		Balance   string `json:"balance"`
	} `json:"balances"`
}

// Submit posts the envelope to /transactions. It is never retried: a second
// submission of an ambiguous attempt is the caller's decision.
func (c *Client) Submit(ctx context.Context, envelope string) (*ledger.Receipt, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	form := url.Values{"tx": {envelope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("transaction submission did not complete")
		return nil, fmt.Errorf("%w: %v", ledger.ErrSubmissionTimeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ledger.ErrSubmissionTimeout, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var tx transactionResponse
		if err := json.Unmarshal(body, &tx); err != nil {
			return nil, fmt.Errorf("unmarshal transaction: %w", err)
		}
		return tx.receipt(), nil
	case resp.StatusCode == http.StatusBadRequest:
		return nil, rejected(body)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: http status %d", ledger.ErrSubmissionTimeout, resp.StatusCode)
	default:
		return nil, fmt.Errorf("submit transaction: http status %d: %s", resp.StatusCode, string(body))
	}
}

func rejected(body []byte) error {
	var p problemResponse
	if err := json.Unmarshal(body, &p); err != nil {
		return &ledger.RejectedError{Detail: strings.TrimSpace(string(body))}
	}
	var codes []string
	if p.Extras.ResultCodes.Transaction != "" {
		codes = append(codes, p.Extras.ResultCodes.Transaction)
	}
	codes = append(codes, p.Extras.ResultCodes.Operations...)
	return &ledger.RejectedError{Title: p.Title, Detail: p.Detail, ResultCodes: codes}
}

func (c *Client) Transaction(ctx context.Context, hash string) (*ledger.Receipt, error) {
	var tx transactionResponse
	if err := c.get(ctx, "/transactions/"+url.PathEscape(hash), &tx); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, ledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction %s: %w", hash, err)
	}
	return tx.receipt(), nil
}

func (c *Client) Payments(ctx context.Context, hash string) ([]ledger.Payment, error) {
	var ops operationsResponse
	if err := c.get(ctx, "/transactions/"+url.PathEscape(hash)+"/operations?limit=200", &ops); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, ledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get operations %s: %w", hash, err)
	}

	var out []ledger.Payment
	for _, op := range ops.Embedded.Records {
		if op.Type != "payment" {
			continue
		}
		amount, err := decimal.NewFromString(op.Amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", op.Amount, err)
		}
		out = append(out, ledger.Payment{From: op.From, To: op.To, Asset: op.AssetType, Amount: amount})
	}
	return out, nil
}

// Balance returns the native balance. Accounts the network has never seen
// hold nothing.
func (c *Client) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	var acct accountResponse
	if err := c.get(ctx, "/accounts/"+url.PathEscape(address), &acct); err != nil {
		if errors.Is(err, errNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("load account %s: %w", address, err)
	}
	for _, b := range acct.Balances {
		if b.AssetType != ledger.NativeAsset {
			continue
		}
		bal, err := decimal.NewFromString(b.Balance)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse balance %q: %w", b.Balance, err)
		}
		return bal, nil
	}
	return decimal.Zero, nil
}

var errNotFound = errors.New("horizon: not found")

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.status, e.body)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := c.getOnce(ctx, path, out)
		if err == nil || !transient(err) {
			return err
		}
		lastErr = err
		if attempt == c.maxAttempts {
			break
		}
		c.logger.Debug().Err(err).Str("path", path).Int("attempt", attempt).Msg("retrying horizon read")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
		}
	}
	return lastErr
}

func (c *Client) getOnce(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return errNotFound
	default:
		return &statusError{status: resp.StatusCode, body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func transient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch se.status {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

var _ ledger.Client = (*Client)(nil)
