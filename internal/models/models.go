package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amounts are kept as decimals in the ledger's native asset (XLM). The
// network cannot represent anything finer than one stroop.
const AssetScale = 7

// Campaign is a fundraising campaign. Everything except DonationsTotal and
// Version is fixed at creation.
type Campaign struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"projectId"`
	Creator        string          `json:"creator"`
	Goal           decimal.Decimal `json:"goal"`
	Deadline       time.Time       `json:"deadline"`
	Description    string          `json:"description,omitempty"`
	ImageRef       string          `json:"imageRef,omitempty"`
	DonationsTotal decimal.Decimal `json:"donationsTotal"`
	CreatedAt      time.Time       `json:"createdAt"`
	Version        int64           `json:"-"`
}

// FullyFunded reports whether the collected total reached the goal.
func (c Campaign) FullyFunded() bool {
	return c.DonationsTotal.GreaterThanOrEqual(c.Goal)
}

// Expired reports whether the deadline has passed at now.
func (c Campaign) Expired(now time.Time) bool {
	return now.After(c.Deadline)
}

// DonationEvent is one confirmed contribution applied to a campaign total.
type DonationEvent struct {
	CampaignID   string          `json:"campaignId"`
	Amount       decimal.Decimal `json:"amount"`
	DonorAddress string          `json:"donorAddress"`
	TxHash       string          `json:"txHash"`
	ConfirmedAt  time.Time       `json:"confirmedAt"`
}

// PendingReason explains why a submitted transaction still needs
// reconciliation.
type PendingReason string

const (
	PendingLedgerWrite  PendingReason = "LedgerReconciliationPending"
	PendingConfirmation PendingReason = "SubmissionUnconfirmed"
)

// PendingSettlement remembers a signed and submitted donation whose effect
// on the campaign total has not been recorded yet.
type PendingSettlement struct {
	TxHash       string          `json:"txHash"`
	CampaignID   string          `json:"campaignId"`
	Amount       decimal.Decimal `json:"amount"`
	DonorAddress string          `json:"donorAddress"`
	Reason       PendingReason   `json:"reason"`
	Attempts     int             `json:"attempts"`
	LastError    string          `json:"lastError,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// SettlementState is a step of a single donate attempt.
type SettlementState string

const (
	StateIdle              SettlementState = "Idle"
	StateBuilding          SettlementState = "Building"
	StateAwaitingSignature SettlementState = "AwaitingSignature"
	StateSubmitted         SettlementState = "Submitted"
	StateConfirmed         SettlementState = "Confirmed"
	StateFailed            SettlementState = "Failed"
)

// SettlementAttempt describes one run of the donate flow.
type SettlementAttempt struct {
	ID         string          `json:"id"`
	CampaignID string          `json:"campaignId"`
	Amount     decimal.Decimal `json:"amount"`
	Donor      string          `json:"donor,omitempty"`
	State      SettlementState `json:"state"`
	TxHash     string          `json:"txHash,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt,omitempty"`
}
