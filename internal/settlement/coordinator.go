// Package settlement runs the donate flow: build a payment, have the wallet
// sign it, submit it to the ledger network and, once the network confirms
// it, record the amount against the campaign.
//
// Nothing is retried across the signature or submission steps. Once an
// envelope has been submitted, the outcome is either Confirmed or a failure
// that carries the transaction hash; the two ambiguous failures leave a
// pending record behind so Reconcile can finish the job later.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sirius-funding/internal/ledger"
	"sirius-funding/internal/models"
	"sirius-funding/internal/store"
	"sirius-funding/internal/wallet"
)

// Reason names a terminal failure.
type Reason string

const (
	ReasonNotFound                    Reason = "NotFound"
	ReasonSigningRejected             Reason = "SigningRejected"
	ReasonSigningUnavailable          Reason = "SigningUnavailable"
	ReasonSubmissionRejected          Reason = "SubmissionRejected"
	ReasonSubmissionUnconfirmed       Reason = "SubmissionUnconfirmed"
	ReasonLedgerReconciliationPending Reason = "LedgerReconciliationPending"
	ReasonInternal                    Reason = "Internal"
)

const pendingSaveAttempts = 3

// FailedError is returned when an attempt ends in the Failed state.
type FailedError struct {
	Reason Reason
	Detail string
	TxHash string
	Err    error
}

func (e *FailedError) Error() string {
	msg := "settlement failed: " + string(e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.TxHash != "" {
		msg += " (tx " + e.TxHash + ")"
	}
	return msg
}

func (e *FailedError) Unwrap() error { return e.Err }

// Retryable reports whether Reconcile may still complete the donation.
func (e *FailedError) Retryable() bool {
	return e.Reason == ReasonLedgerReconciliationPending || e.Reason == ReasonSubmissionUnconfirmed
}

// Signer is the wallet session as seen by the coordinator.
type Signer interface {
	CurrentAddress() (string, bool)
	Sign(ctx context.Context, payload []byte) (wallet.SignedEnvelope, error)
}

type Campaigns interface {
	Get(ctx context.Context, id string) (*models.Campaign, error)
}

// Applier records confirmed donations. donation.Ledger satisfies it.
type Applier interface {
	ApplyDonation(ctx context.Context, campaignID string, amount decimal.Decimal, txHash, donor string) error
	// Donation returns the recorded event for txHash or models.ErrNotFound.
	Donation(ctx context.Context, txHash string) (*models.DonationEvent, error)
}

// Claim describes a submitted donation whose pending record was lost. Donor
// defaults to the active session address.
type Claim struct {
	CampaignID string
	Amount     decimal.Decimal
	Donor      string
}

// Observer is told about every state an attempt enters. Observers run
// synchronously and must not block.
type Observer func(models.SettlementAttempt)

type Options struct {
	NetworkPassphrase string
	// TxTimeout is the validity window requested on every payment. After it
	// passes an unconfirmed transaction can no longer be included.
	TxTimeout time.Duration
	// SettleTimeout bounds the submit, confirm and apply steps. Those steps
	// ignore cancellation of the caller's context.
	SettleTimeout time.Duration
}

type Coordinator struct {
	signer    Signer
	campaigns Campaigns
	applier   Applier
	client    ledger.Client
	pending   store.PendingStore
	opts      Options
	now       func() time.Time
	logger    zerolog.Logger

	saveBackoff time.Duration

	mu        sync.RWMutex
	observers []Observer
}

func NewCoordinator(signer Signer, campaigns Campaigns, applier Applier, client ledger.Client, pending store.PendingStore, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = 3 * time.Minute
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 2 * time.Minute
	}
	return &Coordinator{
		signer:    signer,
		campaigns: campaigns,
		applier:   applier,
		client:    client,
		pending:   pending,
		opts:      opts,
		now:       time.Now,
		logger:    logger.With().Str("component", "settlement").Logger(),

		saveBackoff: 200 * time.Millisecond,
	}
}

// Observe registers fn for every future transition.
func (c *Coordinator) Observe(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *Coordinator) transition(a *models.SettlementAttempt, state models.SettlementState) {
	a.State = state
	if state == models.StateConfirmed || state == models.StateFailed {
		a.FinishedAt = c.now().UTC()
	}

	c.mu.RLock()
	observers := c.observers
	c.mu.RUnlock()
	for _, fn := range observers {
		fn(*a)
	}
}

func (c *Coordinator) fail(a *models.SettlementAttempt, reason Reason, detail string, err error) (*models.SettlementAttempt, error) {
	a.Reason = string(reason)
	a.Detail = detail
	c.transition(a, models.StateFailed)

	ev := c.logger.Warn()
	if reason == ReasonLedgerReconciliationPending {
		ev = c.logger.Error()
	}
	ev.Str("attempt_id", a.ID).
		Str("campaign_id", a.CampaignID).
		Str("tx_hash", a.TxHash).
		Str("reason", a.Reason).
		Str("detail", detail).
		Msg("donation failed")

	return a, &FailedError{Reason: reason, Detail: detail, TxHash: a.TxHash, Err: err}
}

// Donate moves amount from the active wallet to the campaign. It returns the
// attempt in its terminal state. Failures after the session and amount
// checks come back as *FailedError together with the attempt.
func (c *Coordinator) Donate(ctx context.Context, campaignID string, amount decimal.Decimal) (*models.SettlementAttempt, error) {
	donor, ok := c.signer.CurrentAddress()
	if !ok {
		return nil, models.ErrNotAuthenticated
	}
	if err := ledger.ValidateAmount(amount); err != nil {
		return nil, err
	}

	a := &models.SettlementAttempt{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		Amount:     amount,
		Donor:      donor,
		StartedAt:  c.now().UTC(),
	}
	c.transition(a, models.StateIdle)

	c.transition(a, models.StateBuilding)
	campaign, err := c.campaigns.Get(ctx, campaignID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.fail(a, ReasonNotFound, "campaign "+campaignID+" does not exist", models.ErrNotFound)
		}
		return c.fail(a, ReasonInternal, "load campaign: "+err.Error(), fmt.Errorf("load campaign: %w", err))
	}
	payload, err := json.Marshal(ledger.PaymentIntent{
		Source:            donor,
		Destination:       campaign.Creator,
		Asset:             ledger.NativeAsset,
		Amount:            amount,
		Memo:              ledger.MemoFor(campaign.ID),
		NetworkPassphrase: c.opts.NetworkPassphrase,
		TimeoutSeconds:    int(c.opts.TxTimeout / time.Second),
	})
	if err != nil {
		return c.fail(a, ReasonInternal, "marshal payment: "+err.Error(), fmt.Errorf("marshal payment: %w", err))
	}

	c.transition(a, models.StateAwaitingSignature)
	env, err := c.signer.Sign(ctx, payload)
	if err != nil {
		if errors.Is(err, models.ErrSigningRejected) {
			return c.fail(a, ReasonSigningRejected, err.Error(), models.ErrSigningRejected)
		}
		return c.fail(a, ReasonSigningUnavailable, err.Error(), models.ErrSigningUnavailable)
	}
	a.TxHash = env.Hash

	// From here the transaction may land on the network whatever the caller
	// does, so the remaining steps run to completion on their own deadline.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.SettleTimeout)
	defer cancel()

	c.transition(a, models.StateSubmitted)
	receipt, err := c.client.Submit(sctx, env.Envelope)
	if err != nil {
		if errors.Is(err, models.ErrSubmissionRejected) {
			return c.fail(a, ReasonSubmissionRejected, err.Error(), models.ErrSubmissionRejected)
		}

		c.logger.Warn().Err(err).Str("tx_hash", env.Hash).Msg("submission outcome unknown, checking by hash")
		receipt, err = c.client.Transaction(sctx, env.Hash)
		if err != nil {
			detail := c.savePending(sctx, a, models.PendingConfirmation, "no confirmation for submitted transaction: "+err.Error())
			return c.fail(a, ReasonSubmissionUnconfirmed, detail, models.ErrSubmissionUnconfirmed)
		}
	}
	if !receipt.Successful {
		return c.fail(a, ReasonSubmissionRejected, "transaction failed on the network", models.ErrSubmissionRejected)
	}
	if receipt.Hash != "" {
		a.TxHash = receipt.Hash
	}

	if err := c.applier.ApplyDonation(sctx, a.CampaignID, a.Amount, a.TxHash, a.Donor); err != nil {
		detail := c.savePending(sctx, a, models.PendingLedgerWrite, "confirmed on the network but not yet recorded: "+err.Error())
		return c.fail(a, ReasonLedgerReconciliationPending, detail, models.ErrLedgerReconciliationPending)
	}

	c.transition(a, models.StateConfirmed)
	c.logger.Info().
		Str("attempt_id", a.ID).
		Str("campaign_id", a.CampaignID).
		Str("tx_hash", a.TxHash).
		Str("amount", a.Amount.String()).
		Int64("ledger", receipt.Ledger).
		Msg("donation confirmed")
	return a, nil
}

// savePending records a for Reconcile and returns detail, extended when the
// record could not be written. In that case only a Claim can recover the
// donation, so the caller is told to keep the attempt.
func (c *Coordinator) savePending(ctx context.Context, a *models.SettlementAttempt, reason models.PendingReason, detail string) string {
	p := &models.PendingSettlement{
		TxHash:       a.TxHash,
		CampaignID:   a.CampaignID,
		Amount:       a.Amount,
		DonorAddress: a.Donor,
		Reason:       reason,
		LastError:    detail,
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = c.pending.SavePending(ctx, p); err == nil {
			return detail
		}
		c.logger.Warn().Err(err).Str("tx_hash", a.TxHash).Int("attempt", attempt).Msg("failed to record pending settlement")
		if attempt == pendingSaveAttempts || !sleep(ctx, c.saveBackoff*time.Duration(attempt)) {
			break
		}
	}

	c.logger.Error().Err(err).
		Str("tx_hash", a.TxHash).
		Str("campaign_id", a.CampaignID).
		Str("amount", a.Amount.String()).
		Str("donor", a.Donor).
		Msg("pending settlement not recorded, reconcile needs a claim")
	return detail + "; pending record not saved, reconcile with campaignId, amount and donor"
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Reconcile finishes a donation left pending by Donate. It is safe to call
// any number of times for the same hash: once the donation is recorded it
// answers with the confirmed attempt. When no pending record exists, claim
// describes the donation instead and is applied only if the network shows a
// matching payment.
func (c *Coordinator) Reconcile(ctx context.Context, txHash string, claim *Claim) (*models.SettlementAttempt, error) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return nil, models.ErrNotFound
	}

	p, err := c.pending.GetPending(ctx, txHash)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("load pending: %w", err)
		}
		if a, err := c.recorded(ctx, txHash); a != nil || err != nil {
			return a, err
		}
		if claim == nil {
			return nil, models.ErrNotFound
		}
		return c.reconcileClaim(ctx, txHash, *claim)
	}

	a := &models.SettlementAttempt{
		ID:         uuid.NewString(),
		CampaignID: p.CampaignID,
		Amount:     p.Amount,
		Donor:      p.DonorAddress,
		TxHash:     p.TxHash,
		State:      models.StateSubmitted,
		StartedAt:  c.now().UTC(),
	}

	if p.Reason == models.PendingConfirmation {
		receipt, err := c.client.Transaction(ctx, p.TxHash)
		switch {
		case errors.Is(err, ledger.ErrTransactionNotFound) && c.expired(p):
			if derr := c.pending.DeletePending(ctx, p.TxHash); derr != nil {
				return nil, fmt.Errorf("delete pending: %w", derr)
			}
			return c.fail(a, ReasonSubmissionRejected, "transaction expired without being included", models.ErrSubmissionRejected)
		case err != nil:
			return c.retryLater(ctx, a, p, ReasonSubmissionUnconfirmed, "still unconfirmed: "+err.Error(), models.ErrSubmissionUnconfirmed)
		case !receipt.Successful:
			if derr := c.pending.DeletePending(ctx, p.TxHash); derr != nil {
				return nil, fmt.Errorf("delete pending: %w", derr)
			}
			return c.fail(a, ReasonSubmissionRejected, "transaction failed on the network", models.ErrSubmissionRejected)
		}
		p.Reason = models.PendingLedgerWrite
	}

	if err := c.applier.ApplyDonation(ctx, p.CampaignID, p.Amount, p.TxHash, p.DonorAddress); err != nil {
		return c.retryLater(ctx, a, p, ReasonLedgerReconciliationPending, "confirmed on the network but not yet recorded: "+err.Error(), models.ErrLedgerReconciliationPending)
	}
	if err := c.pending.DeletePending(ctx, p.TxHash); err != nil {
		c.logger.Warn().Err(err).Str("tx_hash", p.TxHash).Msg("failed to delete reconciled settlement")
	}

	c.transition(a, models.StateConfirmed)
	c.logger.Info().
		Str("campaign_id", a.CampaignID).
		Str("tx_hash", a.TxHash).
		Int("attempts", p.Attempts+1).
		Msg("pending donation reconciled")
	return a, nil
}

func (c *Coordinator) retryLater(ctx context.Context, a *models.SettlementAttempt, p *models.PendingSettlement, reason Reason, detail string, sentinel error) (*models.SettlementAttempt, error) {
	p.Attempts++
	p.LastError = detail
	if err := c.pending.SavePending(ctx, p); err != nil {
		c.logger.Error().Err(err).Str("tx_hash", p.TxHash).Msg("failed to update pending settlement")
	}
	return c.fail(a, reason, detail, sentinel)
}

// expired reports whether the validity window of a pending transaction has
// closed, with a grace period for ledger close time.
func (c *Coordinator) expired(p *models.PendingSettlement) bool {
	return c.now().After(p.CreatedAt.Add(c.opts.TxTimeout + time.Minute))
}

// recorded returns a confirmed attempt for a donation already applied, or nil.
func (c *Coordinator) recorded(ctx context.Context, txHash string) (*models.SettlementAttempt, error) {
	ev, err := c.applier.Donation(ctx, txHash)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up donation: %w", err)
	}
	return &models.SettlementAttempt{
		ID:         uuid.NewString(),
		CampaignID: ev.CampaignID,
		Amount:     ev.Amount,
		Donor:      ev.DonorAddress,
		State:      models.StateConfirmed,
		TxHash:     ev.TxHash,
		StartedAt:  c.now().UTC(),
		FinishedAt: ev.ConfirmedAt,
	}, nil
}

func (c *Coordinator) reconcileClaim(ctx context.Context, txHash string, claim Claim) (*models.SettlementAttempt, error) {
	session, ok := c.signer.CurrentAddress()
	if !ok {
		return nil, models.ErrNotAuthenticated
	}
	if claim.Donor == "" {
		claim.Donor = session
	}
	if claim.Donor != session {
		return nil, models.ErrNotAuthenticated
	}
	if err := ledger.ValidateAmount(claim.Amount); err != nil {
		return nil, err
	}
	campaign, err := c.campaigns.Get(ctx, claim.CampaignID)
	if err != nil {
		return nil, err
	}

	a := &models.SettlementAttempt{
		ID:         uuid.NewString(),
		CampaignID: campaign.ID,
		Amount:     claim.Amount,
		Donor:      claim.Donor,
		TxHash:     txHash,
		State:      models.StateSubmitted,
		StartedAt:  c.now().UTC(),
	}

	receipt, err := c.client.Transaction(ctx, txHash)
	switch {
	case err != nil:
		return c.fail(a, ReasonSubmissionUnconfirmed, "no confirmation for claimed transaction: "+err.Error(), models.ErrSubmissionUnconfirmed)
	case !receipt.Successful:
		return c.fail(a, ReasonSubmissionRejected, "transaction failed on the network", models.ErrSubmissionRejected)
	}

	payments, err := c.client.Payments(ctx, txHash)
	if err != nil {
		return c.fail(a, ReasonSubmissionUnconfirmed, "load payments: "+err.Error(), models.ErrSubmissionUnconfirmed)
	}
	if !claimMatches(receipt, payments, campaign, claim) {
		verr := &models.ValidationError{}
		verr.Add("txHash", "transaction does not pay the claimed amount to this campaign")
		return nil, verr
	}

	if err := c.applier.ApplyDonation(ctx, a.CampaignID, a.Amount, a.TxHash, a.Donor); err != nil {
		detail := c.savePending(ctx, a, models.PendingLedgerWrite, "confirmed on the network but not yet recorded: "+err.Error())
		return c.fail(a, ReasonLedgerReconciliationPending, detail, models.ErrLedgerReconciliationPending)
	}

	c.transition(a, models.StateConfirmed)
	c.logger.Info().
		Str("campaign_id", a.CampaignID).
		Str("tx_hash", a.TxHash).
		Str("amount", a.Amount.String()).
		Msg("claimed donation reconciled")
	return a, nil
}

// claimMatches reports whether the transaction carries the campaign memo and
// a native payment of the claimed amount from the donor to the creator.
func claimMatches(receipt *ledger.Receipt, payments []ledger.Payment, campaign *models.Campaign, claim Claim) bool {
	if receipt.Memo != ledger.MemoFor(campaign.ID) {
		return false
	}
	for _, p := range payments {
		if p.From == claim.Donor && p.To == campaign.Creator && p.Asset == ledger.NativeAsset && p.Amount.Equal(claim.Amount) {
			return true
		}
	}
	return false
}
