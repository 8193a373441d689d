package campaign

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sirius-funding/internal/models"
	"sirius-funding/internal/store/memstore"
)

const creatorAddr = "GCREATORXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX"

type staticIdentity string

func (s staticIdentity) CurrentAddress() (string, bool) {
	return string(s), s != ""
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(identity Identity) *Registry {
	return NewRegistry(memstore.New(), identity, zerolog.Nop(), WithClock(func() time.Time { return fixedNow }))
}

func validInput() CreateInput {
	return CreateInput{
		ProjectID:   "clean-water",
		Goal:        decimal.RequireFromString("1000"),
		Deadline:    fixedNow.Add(30 * 24 * time.Hour),
		Description: "Wells for three villages",
		ImageRef:    "uploads/clean-water.png",
	}
}

func TestCreateThenGet(t *testing.T) {
	r := newTestRegistry(staticIdentity(creatorAddr))
	ctx := context.Background()
	in := validInput()

	id, err := r.Create(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, in.ProjectID, got.ProjectID)
	assert.Equal(t, creatorAddr, got.Creator)
	assert.True(t, in.Goal.Equal(got.Goal))
	assert.True(t, in.Deadline.Equal(got.Deadline))
	assert.Equal(t, in.Description, got.Description)
	assert.Equal(t, in.ImageRef, got.ImageRef)
	assert.True(t, got.DonationsTotal.IsZero())
	assert.True(t, fixedNow.Equal(got.CreatedAt))
}

func TestCreate_NotAuthenticated(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		r := newTestRegistry(staticIdentity(""))
		_, err := r.Create(context.Background(), validInput())
		assert.ErrorIs(t, err, models.ErrNotAuthenticated)
	})

	t.Run("creator is not the session address", func(t *testing.T) {
		r := newTestRegistry(staticIdentity(creatorAddr))
		in := validInput()
		in.Creator = "GSOMEONEELSE"
		_, err := r.Create(context.Background(), in)
		assert.ErrorIs(t, err, models.ErrNotAuthenticated)
	})

	t.Run("checked before field validation", func(t *testing.T) {
		r := newTestRegistry(staticIdentity(""))
		_, err := r.Create(context.Background(), CreateInput{})
		assert.ErrorIs(t, err, models.ErrNotAuthenticated)
	})
}

func TestCreate_PastDeadline(t *testing.T) {
	r := newTestRegistry(staticIdentity(creatorAddr))
	in := validInput()
	in.Deadline = fixedNow.Add(-time.Hour)

	_, err := r.Create(context.Background(), in)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("deadline"))
	assert.Len(t, verr.Fields, 1)
}

func TestCreate_DeadlineEqualToNowIsRejected(t *testing.T) {
	r := newTestRegistry(staticIdentity(creatorAddr))
	in := validInput()
	in.Deadline = fixedNow

	_, err := r.Create(context.Background(), in)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("deadline"))
}

func TestCreate_ReportsEveryViolation(t *testing.T) {
	r := newTestRegistry(staticIdentity(creatorAddr))
	in := CreateInput{
		ProjectID:   "   ",
		Goal:        decimal.RequireFromString("-5"),
		Deadline:    fixedNow.Add(-time.Minute),
		Description: strings.Repeat("x", MaxDescriptionLength+1),
		ImageRef:    strings.Repeat("y", MaxImageRefLength+1),
	}

	_, err := r.Create(context.Background(), in)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	for _, field := range []string{"projectId", "goal", "deadline", "description", "imageRef"} {
		assert.True(t, verr.Has(field), "missing violation for %s", field)
	}
}

func TestCreate_GoalPrecision(t *testing.T) {
	r := newTestRegistry(staticIdentity(creatorAddr))
	in := validInput()
	in.Goal = decimal.RequireFromString("10.12345678")

	_, err := r.Create(context.Background(), in)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("goal"))
}

func TestCreate_DuplicateProjectID(t *testing.T) {
	r := newTestRegistry(staticIdentity(creatorAddr))
	ctx := context.Background()

	_, err := r.Create(ctx, validInput())
	require.NoError(t, err)

	_, err = r.Create(ctx, validInput())
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("projectId"))
}

func TestFindBySlugAndList(t *testing.T) {
	r := newTestRegistry(staticIdentity(creatorAddr))
	ctx := context.Background()

	first := validInput()
	firstID, err := r.Create(ctx, first)
	require.NoError(t, err)

	second := validInput()
	second.ProjectID = "school-roof"
	secondID, err := r.Create(ctx, second)
	require.NoError(t, err)

	got, err := r.FindBySlug(ctx, " school-roof ")
	require.NoError(t, err)
	assert.Equal(t, secondID, got.ID)

	_, err = r.FindBySlug(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = r.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, firstID, all[0].ID)
	assert.Equal(t, secondID, all[1].ID)
}
