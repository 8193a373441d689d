package donation

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"sirius-funding/internal/models"
	"sirius-funding/internal/store/memstore"
)

func seedCampaign(t *testing.T, s *memstore.Store, goal string) string {
	t.Helper()
	c := &models.Campaign{
		ProjectID: "project-" + goal,
		Creator:   "GCREATOR",
		Goal:      decimal.RequireFromString(goal),
		Deadline:  time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, s.CreateCampaign(context.Background(), c))
	return c.ID
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestApplyDonation_Scenario(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := seedCampaign(t, s, "1000")
	l := NewLedger(s, zerolog.Nop())

	require.NoError(t, l.ApplyDonation(ctx, id, dec("250"), "seed", "GDONOR1"))
	c, err := s.GetCampaign(ctx, id)
	require.NoError(t, err)
	assert.True(t, dec("25").Equal(Progress(*c)))

	require.NoError(t, l.ApplyDonation(ctx, id, dec("750"), "abc", "GDONOR2"))
	c, err = s.GetCampaign(ctx, id)
	require.NoError(t, err)
	assert.True(t, dec("1000").Equal(c.DonationsTotal))
	assert.True(t, dec("100").Equal(Progress(*c)))
	assert.True(t, c.FullyFunded())

	require.NoError(t, l.ApplyDonation(ctx, id, dec("750"), "abc", "GDONOR2"))
	c, err = s.GetCampaign(ctx, id)
	require.NoError(t, err)
	assert.True(t, dec("1000").Equal(c.DonationsTotal), "replay must not double count, got %s", c.DonationsTotal)

	events, err := l.Donations(ctx, id)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestApplyDonation_RejectsInvalidAmount(t *testing.T) {
	s := memstore.New()
	id := seedCampaign(t, s, "10")
	l := NewLedger(s, zerolog.Nop())

	for _, amount := range []string{"0", "-1", "0.00000001"} {
		err := l.ApplyDonation(context.Background(), id, dec(amount), "tx", "GDONOR")
		assert.ErrorIs(t, err, models.ErrInvalidAmount, amount)
	}

	c, err := s.GetCampaign(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, c.DonationsTotal.IsZero())
}

func TestDonation_LookupByHash(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := seedCampaign(t, s, "10")
	l := NewLedger(s, zerolog.Nop())
	require.NoError(t, l.ApplyDonation(ctx, id, dec("2.5"), "tx-1", "GDONOR"))

	ev, err := l.Donation(ctx, " tx-1 ")
	require.NoError(t, err)
	assert.Equal(t, id, ev.CampaignID)
	assert.Equal(t, "GDONOR", ev.DonorAddress)

	_, err = l.Donation(ctx, "tx-2")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestApplyDonation_UnknownCampaign(t *testing.T) {
	l := NewLedger(memstore.New(), zerolog.Nop())
	err := l.ApplyDonation(context.Background(), "nope", dec("1"), "tx", "GDONOR")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestApplyDonation_ConcurrentDistinctHashes(t *testing.T) {
	const n = 16
	ctx := context.Background()
	s := memstore.New()
	id := seedCampaign(t, s, "100000")
	// A donor can lose at most n-1 races, so n attempts always suffice.
	l := NewLedger(s, zerolog.Nop(), WithMaxAttempts(n), WithBackoff(time.Millisecond))

	want := decimal.Zero
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		amount := decimal.NewFromInt(int64(i + 1)).Add(dec("0.0000001"))
		want = want.Add(amount)
		hash := fmt.Sprintf("tx-%02d", i)
		g.Go(func() error {
			return l.ApplyDonation(gctx, id, amount, hash, "GDONOR")
		})
	}
	require.NoError(t, g.Wait())

	c, err := s.GetCampaign(ctx, id)
	require.NoError(t, err)
	assert.True(t, want.Equal(c.DonationsTotal), "want %s, got %s", want, c.DonationsTotal)
	assert.Equal(t, int64(n), c.Version)
}

func TestApplyDonation_ConcurrentSameHash(t *testing.T) {
	const n = 8
	ctx := context.Background()
	s := memstore.New()
	id := seedCampaign(t, s, "100")
	l := NewLedger(s, zerolog.Nop(), WithMaxAttempts(n), WithBackoff(0))

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return l.ApplyDonation(ctx, id, dec("5"), "same", "GDONOR")
		})
	}
	require.NoError(t, g.Wait())

	c, err := s.GetCampaign(ctx, id)
	require.NoError(t, err)
	assert.True(t, dec("5").Equal(c.DonationsTotal))
}

// conflictStore loses every conditional write.
type conflictStore struct {
	*memstore.Store
	writes atomic.Int32
}

func (s *conflictStore) UpdateDonationsTotal(context.Context, int64, decimal.Decimal, models.DonationEvent) error {
	s.writes.Add(1)
	return models.ErrVersionConflict
}

func TestApplyDonation_RetriesExhausted(t *testing.T) {
	ms := memstore.New()
	id := seedCampaign(t, ms, "10")
	s := &conflictStore{Store: ms}
	l := NewLedger(s, zerolog.Nop(), WithBackoff(0))

	err := l.ApplyDonation(context.Background(), id, dec("1"), "tx", "GDONOR")
	assert.ErrorIs(t, err, models.ErrConcurrentUpdateConflict)
	assert.Equal(t, int32(DefaultMaxAttempts), s.writes.Load())

	c, err := ms.GetCampaign(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, c.DonationsTotal.IsZero())
}

func TestProgress(t *testing.T) {
	tests := []struct {
		goal, total, want string
	}{
		{"1000", "0", "0"},
		{"1000", "250", "25"},
		{"1000", "999.99", "99.99"},
		{"3", "1", "33.33"},
		{"1000", "1000", "100"},
		{"1000", "5000", "100"},
		{"0", "10", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.goal+"/"+tt.total, func(t *testing.T) {
			c := models.Campaign{Goal: dec(tt.goal), DonationsTotal: dec(tt.total)}
			assert.True(t, dec(tt.want).Equal(Progress(c)), "got %s", Progress(c))
		})
	}
}

func TestProgress_MonotoneAndClamped(t *testing.T) {
	c := models.Campaign{Goal: dec("7.5")}
	prev := decimal.NewFromInt(-1)
	for i := 0; i <= 100; i++ {
		c.DonationsTotal = dec("0.1").Mul(decimal.NewFromInt(int64(i)))
		p := Progress(c)
		assert.True(t, p.GreaterThanOrEqual(prev), "progress decreased at total %s", c.DonationsTotal)
		assert.True(t, p.LessThanOrEqual(decimal.NewFromInt(100)))
		prev = p
	}
}
