package memory

import (
	"context"
	"sync"

	audit "custody/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[string][]audit.Event)}
}

func entityKey(entityType, entityID string) string {
	return entityType + "/" + entityID
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entityKey(event.EntityType, event.EntityID)
	s.events[key] = append(s.events[key], event)
	return nil
}

func (s *InMemoryStore) ListByEntity(_ context.Context, entityType, entityID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[entityKey(entityType, entityID)]...), nil
}

// Actions lists every recorded action in append order per entity. Test helper.
func (s *InMemoryStore) Actions(entityType, entityID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var actions []string
	for _, e := range s.events[entityKey(entityType, entityID)] {
		actions = append(actions, e.Action)
	}
	return actions
}
