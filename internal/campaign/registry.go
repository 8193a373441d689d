// Package campaign is the validated surface over campaign records.
package campaign

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sirius-funding/internal/models"
	"sirius-funding/internal/store"
)

const (
	MaxDescriptionLength = 2000
	MaxImageRefLength    = 512
)

// Identity reports who is acting right now. wallet.Session satisfies it.
type Identity interface {
	CurrentAddress() (string, bool)
}

// CreateInput is what a creator submits. Creator may be left empty, in which
// case the active wallet address is used.
type CreateInput struct {
	ProjectID   string          `json:"projectId"`
	Creator     string          `json:"creator"`
	Goal        decimal.Decimal `json:"goal"`
	Deadline    time.Time       `json:"deadline"`
	Description string          `json:"description"`
	ImageRef    string          `json:"imageRef"`
}

type Registry struct {
	store    store.CampaignStore
	identity Identity
	now      func() time.Time
	logger   zerolog.Logger
}

type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(s store.CampaignStore, identity Identity, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:    s,
		identity: identity,
		now:      time.Now,
		logger:   logger.With().Str("component", "campaign").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create validates in and persists a new campaign, returning its id.
func (r *Registry) Create(ctx context.Context, in CreateInput) (string, error) {
	addr, ok := r.identity.CurrentAddress()
	if !ok {
		return "", models.ErrNotAuthenticated
	}
	creator := strings.TrimSpace(in.Creator)
	if creator == "" {
		creator = addr
	}
	if creator != addr {
		return "", models.ErrNotAuthenticated
	}

	now := r.now().UTC()
	in.ProjectID = strings.TrimSpace(in.ProjectID)

	verr := validate(in, now)
	if in.ProjectID != "" && !verr.Has("projectId") {
		_, err := r.store.FindCampaignBySlug(ctx, in.ProjectID)
		switch {
		case err == nil:
			verr.Add("projectId", "is already taken")
		case !errors.Is(err, models.ErrNotFound):
			return "", err
		}
	}
	if err := verr.OrNil(); err != nil {
		return "", err
	}

	c := &models.Campaign{
		ProjectID:      in.ProjectID,
		Creator:        creator,
		Goal:           in.Goal,
		Deadline:       in.Deadline.UTC(),
		Description:    in.Description,
		ImageRef:       in.ImageRef,
		DonationsTotal: decimal.Zero,
		CreatedAt:      now,
	}
	if err := r.store.CreateCampaign(ctx, c); err != nil {
		if errors.Is(err, models.ErrSlugTaken) {
			return "", &models.ValidationError{Fields: []models.FieldError{{Field: "projectId", Reason: "is already taken"}}}
		}
		return "", err
	}

	r.logger.Info().
		Str("campaign_id", c.ID).
		Str("project_id", c.ProjectID).
		Str("creator", c.Creator).
		Str("goal", c.Goal.String()).
		Msg("campaign created")
	return c.ID, nil
}

func validate(in CreateInput, now time.Time) *models.ValidationError {
	verr := &models.ValidationError{}
	if in.ProjectID == "" {
		verr.Add("projectId", "is required")
	}
	switch {
	case !in.Goal.IsPositive():
		verr.Add("goal", "must be greater than zero")
	case !in.Goal.Equal(in.Goal.Truncate(models.AssetScale)):
		verr.Add("goal", "must have at most 7 decimal places")
	}
	switch {
	case in.Deadline.IsZero():
		verr.Add("deadline", "is required")
	case !in.Deadline.After(now):
		verr.Add("deadline", "must be in the future")
	}
	if utf8.RuneCountInString(in.Description) > MaxDescriptionLength {
		verr.Add("description", "is too long")
	}
	if len(in.ImageRef) > MaxImageRefLength {
		verr.Add("imageRef", "is too long")
	}
	return verr
}

func (r *Registry) Get(ctx context.Context, id string) (*models.Campaign, error) {
	return r.store.GetCampaign(ctx, id)
}

// FindBySlug returns the first campaign using projectID.
func (r *Registry) FindBySlug(ctx context.Context, projectID string) (*models.Campaign, error) {
	return r.store.FindCampaignBySlug(ctx, strings.TrimSpace(projectID))
}

// List returns a snapshot of every campaign in store order.
func (r *Registry) List(ctx context.Context) ([]models.Campaign, error) {
	return r.store.ListCampaigns(ctx)
}
