// Package store persists kits and their asset links.
package store

import (
	"context"
	"sort"
	"sync"

	"custody/internal/kit/models"
	id "custody/pkg/domain"
	"custody/pkg/platform/sentinel"
)

type InMemory struct {
	mu   sync.RWMutex
	kits map[id.KitID]*models.Kit
}

func NewInMemory() *InMemory {
	return &InMemory{kits: make(map[id.KitID]*models.Kit)}
}

func (s *InMemory) Create(_ context.Context, kit *models.Kit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.kits[kit.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.kits[kit.ID] = kit.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, kitID id.KitID) (*models.Kit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kit, ok := s.kits[kitID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return kit.Clone(), nil
}

func (s *InMemory) Update(_ context.Context, kit *models.Kit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kits[kit.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.kits[kit.ID] = kit.Clone()
	return nil
}

// FindByStatusWithAnyAsset returns kits in status that hold at least one of
// assetIDs, oldest first.
func (s *InMemory) FindByStatusWithAnyAsset(_ context.Context, status models.Status, assetIDs []id.AssetID) ([]*models.Kit, error) {
	want := make(map[id.AssetID]struct{}, len(assetIDs))
	for _, assetID := range assetIDs {
		want[assetID] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Kit
	for _, kit := range s.kits {
		if kit.Status == status && kit.HasAnyAsset(want) {
			out = append(out, kit.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
