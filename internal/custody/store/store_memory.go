// Package store persists chain-of-custody forms and their signatures.
package store

import (
	"context"
	"sort"
	"sync"

	"custody/internal/custody/models"
	id "custody/pkg/domain"
	"custody/pkg/platform/sentinel"
)

type InMemory struct {
	mu         sync.RWMutex
	forms      map[id.FormID]*models.Form
	publicIDs  map[string]id.FormID
	signatures map[id.FormID][]*models.Signature
}

func NewInMemory() *InMemory {
	return &InMemory{
		forms:      make(map[id.FormID]*models.Form),
		publicIDs:  make(map[string]id.FormID),
		signatures: make(map[id.FormID][]*models.Signature),
	}
}

func (s *InMemory) CreateForm(_ context.Context, form *models.Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.publicIDs[form.PublicID]; taken {
		return sentinel.ErrAlreadyUsed
	}
	if _, exists := s.forms[form.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.forms[form.ID] = form.Clone()
	s.publicIDs[form.PublicID] = form.ID
	return nil
}

// LockManifest is a no-op: the sharded memory runner already serializes
// units of work keyed by manifest.
func (s *InMemory) LockManifest(context.Context, id.ManifestID) error {
	return nil
}

func (s *InMemory) FindFormByID(_ context.Context, formID id.FormID) (*models.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	form, ok := s.forms[formID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return form.Clone(), nil
}

func (s *InMemory) FindFormByIDForUpdate(ctx context.Context, formID id.FormID) (*models.Form, error) {
	return s.FindFormByID(ctx, formID)
}

func (s *InMemory) FindFormByPublicID(_ context.Context, publicID string) (*models.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	formID, ok := s.publicIDs[publicID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.forms[formID].Clone(), nil
}

// ListFormsByManifest returns the manifest's forms, newest first.
func (s *InMemory) ListFormsByManifest(_ context.Context, manifestID id.ManifestID) ([]*models.Form, error) {
	return s.collect(func(f *models.Form) bool { return f.ManifestID == manifestID }, true), nil
}

// ListNonTerminalForms returns forms that are neither Completed nor stored
// as Expired, oldest first.
func (s *InMemory) ListNonTerminalForms(_ context.Context) ([]*models.Form, error) {
	return s.collect(func(f *models.Form) bool { return !f.Status.IsTerminal() }, false), nil
}

func (s *InMemory) collect(match func(*models.Form) bool, newestFirst bool) []*models.Form {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Form
	for _, f := range s.forms {
		if match(f) {
			out = append(out, f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PublicID < out[j].PublicID
		}
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *InMemory) UpdateForm(_ context.Context, form *models.Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[form.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.forms[form.ID] = form.Clone()
	return nil
}

func (s *InMemory) CreateSignature(_ context.Context, sig *models.Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[sig.FormID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *sig
	s.signatures[sig.FormID] = append(s.signatures[sig.FormID], &cp)
	return nil
}

// ListSignaturesByForm returns signatures in signing order.
func (s *InMemory) ListSignaturesByForm(_ context.Context, formID id.FormID) ([]*models.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Signature, 0, len(s.signatures[formID]))
	for _, sig := range s.signatures[formID] {
		cp := *sig
		out = append(out, &cp)
	}
	return out, nil
}

// ListSignaturesByManifest returns signatures across all of a manifest's
// forms, oldest first.
func (s *InMemory) ListSignaturesByManifest(_ context.Context, manifestID id.ManifestID) ([]*models.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Signature
	for _, sigs := range s.signatures {
		for _, sig := range sigs {
			if sig.ManifestID == manifestID {
				cp := *sig
				out = append(out, &cp)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SignedAt.Before(out[j].SignedAt) })
	return out, nil
}
