// Package store persists manifests and their items.
package store

import (
	"context"
	"sort"
	"sync"

	"custody/internal/manifest/models"
	id "custody/pkg/domain"
	"custody/pkg/platform/sentinel"
)

type InMemory struct {
	mu        sync.RWMutex
	manifests map[id.ManifestID]*models.Manifest
	numbers   map[string]id.ManifestID
}

func NewInMemory() *InMemory {
	return &InMemory{
		manifests: make(map[id.ManifestID]*models.Manifest),
		numbers:   make(map[string]id.ManifestID),
	}
}

func (s *InMemory) Create(_ context.Context, m *models.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.numbers[m.Number]; taken {
		return sentinel.ErrAlreadyUsed
	}
	if _, exists := s.manifests[m.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.manifests[m.ID] = m.Clone()
	s.numbers[m.Number] = m.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, manifestID id.ManifestID) (*models.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[manifestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return m.Clone(), nil
}

// FindByIDForUpdate is FindByID; in-memory isolation comes from the unit of
// work runner.
func (s *InMemory) FindByIDForUpdate(ctx context.Context, manifestID id.ManifestID) (*models.Manifest, error) {
	return s.FindByID(ctx, manifestID)
}

func (s *InMemory) FindByNumber(_ context.Context, number string) (*models.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	manifestID, ok := s.numbers[number]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.manifests[manifestID].Clone(), nil
}

// ListByElection returns the election's manifests, oldest first.
func (s *InMemory) ListByElection(_ context.Context, electionID id.ElectionID) ([]*models.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Manifest
	for _, m := range s.manifests {
		if m.ElectionID == electionID {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Number < out[j].Number
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) Update(_ context.Context, m *models.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.manifests[m.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.manifests[m.ID] = m.Clone()
	return nil
}
