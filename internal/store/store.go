// Package store defines the document store contract used by the campaign
// registry, the donation ledger and the settlement coordinator.
//
// Implementations guarantee atomicity for a single campaign record only. The
// ledger builds its lost-update protection on top of the version check in
// UpdateDonationsTotal instead of relying on transactions spanning records.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"sirius-funding/internal/models"
)

// CampaignStore persists campaign records.
type CampaignStore interface {
	// CreateCampaign assigns ID (and CreatedAt when zero) and persists c.
	// It returns models.ErrSlugTaken when the store rejects a duplicate
	// project id.
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	// FindCampaignBySlug returns the first record whose ProjectID matches.
	FindCampaignBySlug(ctx context.Context, projectID string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
}

// DonationStore owns the donations total of a campaign and the events that
// produced it.
type DonationStore interface {
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	// UpdateDonationsTotal writes newTotal and records ev only if the campaign
	// is still at expectedVersion. It returns models.ErrVersionConflict when
	// another writer got there first and models.ErrDuplicateDonation when
	// ev.TxHash is already recorded for the campaign. Nothing is written in
	// either case.
	UpdateDonationsTotal(ctx context.Context, expectedVersion int64, newTotal decimal.Decimal, ev models.DonationEvent) error
	HasDonation(ctx context.Context, campaignID, txHash string) (bool, error)
	// FindDonation returns the earliest event recorded for txHash in any
	// campaign, or models.ErrNotFound.
	FindDonation(ctx context.Context, txHash string) (*models.DonationEvent, error)
	ListDonations(ctx context.Context, campaignID string) ([]models.DonationEvent, error)
}

// PendingStore keeps settlements that were submitted to the network but not
// yet reflected in a campaign total.
type PendingStore interface {
	SavePending(ctx context.Context, p *models.PendingSettlement) error
	GetPending(ctx context.Context, txHash string) (*models.PendingSettlement, error)
	ListPending(ctx context.Context) ([]models.PendingSettlement, error)
	DeletePending(ctx context.Context, txHash string) error
}

// Store is the full document store.
type Store interface {
	CampaignStore
	DonationStore
	PendingStore
	Ping(ctx context.Context) error
	Close() error
}
