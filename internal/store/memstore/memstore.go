// Package memstore is an in-process store for development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sirius-funding/internal/models"
	"sirius-funding/internal/store"
)

type Store struct {
	mu        sync.Mutex
	order     []string
	campaigns map[string]models.Campaign
	donations map[string][]models.DonationEvent
	pending   map[string]models.PendingSettlement
	now       func() time.Time
}

func New() *Store {
	return &Store{
		campaigns: make(map[string]models.Campaign),
		donations: make(map[string][]models.DonationEvent),
		pending:   make(map[string]models.PendingSettlement),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateCampaign(_ context.Context, c *models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.campaigns {
		if existing.ProjectID == c.ProjectID {
			return models.ErrSlugTaken
		}
	}
	c.ID = uuid.NewString()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.DonationsTotal = decimal.Zero
	c.Version = 0
	s.campaigns[c.ID] = *c
	s.order = append(s.order, c.ID)
	return nil
}

func (s *Store) GetCampaign(_ context.Context, id string) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &c, nil
}

func (s *Store) FindCampaignBySlug(_ context.Context, projectID string) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		if c := s.campaigns[id]; c.ProjectID == projectID {
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *Store) ListCampaigns(_ context.Context) ([]models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Campaign, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.campaigns[id])
	}
	return out, nil
}

func (s *Store) UpdateDonationsTotal(_ context.Context, expectedVersion int64, newTotal decimal.Decimal, ev models.DonationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[ev.CampaignID]
	if !ok {
		return models.ErrNotFound
	}
	for _, applied := range s.donations[ev.CampaignID] {
		if applied.TxHash == ev.TxHash {
			return models.ErrDuplicateDonation
		}
	}
	if c.Version != expectedVersion {
		return models.ErrVersionConflict
	}
	c.DonationsTotal = newTotal
	c.Version++
	s.campaigns[c.ID] = c
	s.donations[c.ID] = append(s.donations[c.ID], ev)
	return nil
}

func (s *Store) HasDonation(_ context.Context, campaignID, txHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.donations[campaignID] {
		if ev.TxHash == txHash {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) FindDonation(_ context.Context, txHash string) (*models.DonationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		for _, ev := range s.donations[id] {
			if ev.TxHash == txHash {
				return &ev, nil
			}
		}
	}
	return nil, models.ErrNotFound
}

func (s *Store) ListDonations(_ context.Context, campaignID string) ([]models.DonationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaigns[campaignID]; !ok {
		return nil, models.ErrNotFound
	}
	return append([]models.DonationEvent(nil), s.donations[campaignID]...), nil
}

func (s *Store) SavePending(_ context.Context, p *models.PendingSettlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.pending[p.TxHash]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.pending[p.TxHash] = *p
	return nil
}

func (s *Store) GetPending(_ context.Context, txHash string) (*models.PendingSettlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[txHash]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListPending(_ context.Context) ([]models.PendingSettlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.PendingSettlement, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeletePending(_ context.Context, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, txHash)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
