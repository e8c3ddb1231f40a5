// Package store persists assets. InMemory backs development and tests;
// PostgresStore backs production.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"custody/internal/asset/models"
	id "custody/pkg/domain"
	"custody/pkg/platform/sentinel"
)

// InMemory keeps assets in a map guarded by a mutex. Entities are cloned on
// the way in and out.
type InMemory struct {
	mu      sync.RWMutex
	assets  map[id.AssetID]*models.Asset
	serials map[string]id.AssetID
}

func NewInMemory() *InMemory {
	return &InMemory{
		assets:  make(map[id.AssetID]*models.Asset),
		serials: make(map[string]id.AssetID),
	}
}

func serialKey(serial string) string {
	return strings.ToUpper(strings.TrimSpace(serial))
}

// CreateIfSerialAvailable inserts the asset unless its serial number is
// already registered (case-insensitive).
func (s *InMemory) CreateIfSerialAvailable(_ context.Context, asset *models.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := serialKey(asset.SerialNumber)
	if _, taken := s.serials[key]; taken {
		return fmt.Errorf("serial %s: %w", asset.SerialNumber, sentinel.ErrAlreadyUsed)
	}
	s.assets[asset.ID] = asset.Clone()
	s.serials[key] = asset.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, assetID id.AssetID) (*models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.assets[assetID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return asset.Clone(), nil
}

func (s *InMemory) FindBySerial(_ context.Context, serial string) (*models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assetID, ok := s.serials[serialKey(serial)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.assets[assetID].Clone(), nil
}

// ListByStatus returns assets in status ordered by creation time.
func (s *InMemory) ListByStatus(_ context.Context, status models.Status) ([]*models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Asset
	for _, asset := range s.assets {
		if asset.Status == status {
			out = append(out, asset.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SerialNumber < out[j].SerialNumber
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Execute loads the asset, runs validate, applies mutate and persists, all
// under the store lock. A validate error leaves the stored asset untouched.
func (s *InMemory) Execute(_ context.Context, assetID id.AssetID, validate func(*models.Asset) error, mutate func(*models.Asset)) (*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.assets[assetID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	asset := stored.Clone()
	if err := validate(asset); err != nil {
		return nil, err
	}
	mutate(asset)
	s.assets[assetID] = asset.Clone()
	return asset, nil
}
