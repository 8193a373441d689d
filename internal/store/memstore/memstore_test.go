package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sirius-funding/internal/models"
)

func newCampaign(t *testing.T, s *Store, slug string) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		ProjectID: slug,
		Creator:   "GCREATOR",
		Goal:      decimal.NewFromInt(1000),
		Deadline:  time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, s.CreateCampaign(context.Background(), c))
	return c
}

func TestStore_CreateAssignsIdentity(t *testing.T) {
	s := New()
	c := newCampaign(t, s, "sirius")

	assert.NotEmpty(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())
	assert.True(t, c.DonationsTotal.IsZero())

	err := s.CreateCampaign(context.Background(), &models.Campaign{ProjectID: "sirius"})
	assert.ErrorIs(t, err, models.ErrSlugTaken)
}

func TestStore_ListKeepsInsertionOrder(t *testing.T) {
	s := New()
	first := newCampaign(t, s, "a")
	second := newCampaign(t, s, "b")

	list, err := s.ListCampaigns(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	found, err := s.FindCampaignBySlug(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)

	_, err = s.FindCampaignBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_UpdateDonationsTotal(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := newCampaign(t, s, "sirius")
	ev := models.DonationEvent{CampaignID: c.ID, Amount: decimal.NewFromInt(250), TxHash: "abc"}

	require.NoError(t, s.UpdateDonationsTotal(ctx, 0, decimal.NewFromInt(250), ev))

	assert.ErrorIs(t, s.UpdateDonationsTotal(ctx, 0, decimal.NewFromInt(500), models.DonationEvent{CampaignID: c.ID, TxHash: "def"}), models.ErrVersionConflict)
	assert.ErrorIs(t, s.UpdateDonationsTotal(ctx, 1, decimal.NewFromInt(500), ev), models.ErrDuplicateDonation)
	assert.ErrorIs(t, s.UpdateDonationsTotal(ctx, 0, decimal.NewFromInt(1), models.DonationEvent{CampaignID: "nope", TxHash: "x"}), models.ErrNotFound)

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.DonationsTotal.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, int64(1), got.Version)

	has, err := s.HasDonation(ctx, c.ID, "abc")
	require.NoError(t, err)
	assert.True(t, has)

	events, err := s.ListDonations(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	found, err := s.FindDonation(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, c.ID, found.CampaignID)
	_, err = s.FindDonation(ctx, "def")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_PendingUpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := New()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }

	p := &models.PendingSettlement{TxHash: "abc", CampaignID: "c1", Reason: models.PendingConfirmation, Attempts: 1}
	require.NoError(t, s.SavePending(ctx, p))

	s.now = func() time.Time { return start.Add(time.Minute) }
	p2 := &models.PendingSettlement{TxHash: "abc", CampaignID: "c1", Reason: models.PendingLedgerWrite, Attempts: 2}
	require.NoError(t, s.SavePending(ctx, p2))

	got, err := s.GetPending(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, start, got.CreatedAt)
	assert.Equal(t, start.Add(time.Minute), got.UpdatedAt)
	assert.Equal(t, models.PendingLedgerWrite, got.Reason)

	require.NoError(t, s.DeletePending(ctx, "abc"))
	_, err = s.GetPending(ctx, "abc")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
