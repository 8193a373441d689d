// Package donation owns campaign totals. It is the only writer of
// DonationsTotal.
//
// The store only promises single-record atomicity, so every increment is a
// read followed by a write conditioned on the version that was read. A lost
// race is retried with a fresh read.
package donation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sirius-funding/internal/ledger"
	"sirius-funding/internal/metrics"
	"sirius-funding/internal/models"
	"sirius-funding/internal/store"
)

const (
	DefaultMaxAttempts = 5
	defaultBaseBackoff = 5 * time.Millisecond
)

type Ledger struct {
	store       store.DonationStore
	maxAttempts int
	baseBackoff time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

type Option func(*Ledger)

func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay between conflicting attempts. Zero disables
// waiting.
func WithBackoff(d time.Duration) Option {
	return func(l *Ledger) { l.baseBackoff = d }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(s store.DonationStore, logger zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:       s,
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		now:         time.Now,
		logger:      logger.With().Str("component", "donation").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ApplyDonation adds amount to the campaign total on behalf of txHash.
// Replaying a hash that was already applied succeeds without changing the
// total.
func (l *Ledger) ApplyDonation(ctx context.Context, campaignID string, amount decimal.Decimal, txHash, donor string) error {
	if err := ledger.ValidateAmount(amount); err != nil {
		return err
	}
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return errors.New("apply donation: transaction hash is required")
	}

	log := l.logger.With().Str("campaign_id", campaignID).Str("tx_hash", txHash).Logger()

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		c, err := l.store.GetCampaign(ctx, campaignID)
		if err != nil {
			return err
		}

		applied, err := l.store.HasDonation(ctx, campaignID, txHash)
		if err != nil {
			return fmt.Errorf("check donation: %w", err)
		}
		if applied {
			metrics.DonationReplays.Inc()
			log.Debug().Msg("donation already applied")
			return nil
		}

		ev := models.DonationEvent{
			CampaignID:   campaignID,
			Amount:       amount,
			DonorAddress: donor,
			TxHash:       txHash,
			ConfirmedAt:  l.now().UTC(),
		}
		err = l.store.UpdateDonationsTotal(ctx, c.Version, c.DonationsTotal.Add(amount), ev)
		switch {
		case err == nil:
			metrics.DonationsApplied.Inc()
			log.Info().
				Str("amount", amount.String()).
				Int("attempt", attempt).
				Msg("donation applied")
			return nil
		case errors.Is(err, models.ErrDuplicateDonation):
			metrics.DonationReplays.Inc()
			log.Debug().Msg("donation applied by a concurrent writer")
			return nil
		case errors.Is(err, models.ErrVersionConflict):
			metrics.DonationConflicts.WithLabelValues("false").Inc()
			log.Debug().Int("attempt", attempt).Msg("campaign changed underneath, retrying")
			if attempt < l.maxAttempts {
				if err := l.wait(ctx, attempt); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("update donations total: %w", err)
		}
	}

	metrics.DonationConflicts.WithLabelValues("true").Inc()
	log.Warn().Int("attempts", l.maxAttempts).Msg("gave up applying donation")
	return fmt.Errorf("%w: campaign %s after %d attempts", models.ErrConcurrentUpdateConflict, campaignID, l.maxAttempts)
}

func (l *Ledger) wait(ctx context.Context, attempt int) error {
	if l.baseBackoff <= 0 {
		return ctx.Err()
	}
	d := l.baseBackoff * time.Duration(attempt)
	d += time.Duration(rand.Int64N(int64(d)))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Donations lists what has been applied to a campaign, oldest first.
func (l *Ledger) Donations(ctx context.Context, campaignID string) ([]models.DonationEvent, error) {
	return l.store.ListDonations(ctx, campaignID)
}

// Donation returns the event recorded for txHash, whichever campaign it was
// applied to.
func (l *Ledger) Donation(ctx context.Context, txHash string) (*models.DonationEvent, error) {
	return l.store.FindDonation(ctx, strings.TrimSpace(txHash))
}

var hundred = decimal.NewFromInt(100)

// Progress is the funded percentage of c, capped at 100 and truncated to
// two decimal places so a campaign short of its goal never shows 100.
func Progress(c models.Campaign) decimal.Decimal {
	if !c.Goal.IsPositive() {
		return decimal.Zero
	}
	if c.DonationsTotal.GreaterThanOrEqual(c.Goal) {
		return hundred
	}
	return c.DonationsTotal.Mul(hundred).Div(c.Goal).Truncate(2)
}
