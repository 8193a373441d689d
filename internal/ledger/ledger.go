// Package ledger describes the ledger network the service settles donations
// on. Implementations live in subpackages.
package ledger

//go:generate mockgen -source=ledger.go -destination=mocks/client_mock.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sirius-funding/internal/models"
)

// NativeAsset is the only asset campaigns are denominated in.
const NativeAsset = "native"

// MaxMemoLength is the longest text memo the network accepts.
const MaxMemoLength = 28

var (
	// ErrSubmissionTimeout means the network did not answer in time. The
	// transaction may still be included in a later ledger.
	ErrSubmissionTimeout   = errors.New("submission timed out")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// PaymentIntent is the unsigned payment handed to the wallet for signing.
type PaymentIntent struct {
	Source            string          `json:"source"`
	Destination       string          `json:"destination"`
	Asset             string          `json:"asset"`
	Amount            decimal.Decimal `json:"amount"`
	Memo              string          `json:"memo"`
	NetworkPassphrase string          `json:"networkPassphrase"`
	TimeoutSeconds    int             `json:"timeoutSeconds"`
}

// Receipt reports a transaction the network knows about.
type Receipt struct {
	Hash       string    `json:"hash"`
	Ledger     int64     `json:"ledger"`
	Successful bool      `json:"successful"`
	Source     string    `json:"source,omitempty"`
	Memo       string    `json:"memo,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Payment is one payment operation of a transaction.
type Payment struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// Client is the narrow view of the ledger network used by the service.
type Client interface {
	// Submit sends a signed envelope and waits for it to be included.
	Submit(ctx context.Context, envelope string) (*Receipt, error)
	// Transaction looks up a transaction by hash.
	Transaction(ctx context.Context, hash string) (*Receipt, error)
	// Payments lists the payment operations of a transaction.
	Payments(ctx context.Context, hash string) ([]Payment, error)
	// Balance returns the native balance of address.
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}

// RejectedError is returned when the network refused a transaction.
type RejectedError struct {
	Title       string
	Detail      string
	ResultCodes []string
}

func (e *RejectedError) Error() string {
	msg := "transaction rejected"
	if e.Title != "" {
		msg += ": " + e.Title
	}
	if len(e.ResultCodes) > 0 {
		msg += " (" + strings.Join(e.ResultCodes, ", ") + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *RejectedError) Unwrap() error { return models.ErrSubmissionRejected }

// MemoFor derives the payment memo that ties a transaction to a campaign.
func MemoFor(campaignID string) string {
	memo := strings.ReplaceAll(campaignID, "-", "")
	if len(memo) > MaxMemoLength {
		memo = memo[:MaxMemoLength]
	}
	return memo
}

// ValidateAmount checks that amount is positive and representable on the
// network.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", models.ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(models.AssetScale)) {
		return fmt.Errorf("%w: at most %d decimal places", models.ErrInvalidAmount, models.AssetScale)
	}
	return nil
}
