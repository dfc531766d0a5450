package service

import (
	"sync"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/boddenberg/rfv-config-bfa-go/internal/port"
)

const existingKey = "existing"

// ParameterStore holds the list of existing configurations as last loaded
// from the RFV API. The list lives in a port.Cache so it expires with the
// cache TTL and can be shared through Redis; the mutex serialises the
// read-modify-write updates.
type ParameterStore struct {
	mu    sync.RWMutex
	cache port.Cache[[]domain.ParameterSet]
}

// NewParameterStore creates a store on top of the given cache.
func NewParameterStore(cache port.Cache[[]domain.ParameterSet]) *ParameterStore {
	return &ParameterStore{cache: cache}
}

// Snapshot returns a deep copy of the list; ok is false when nothing is loaded.
func (s *ParameterStore) Snapshot() ([]domain.ParameterSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, ok := s.cache.Get(existingKey)
	if !ok {
		return nil, false
	}
	return cloneList(list), true
}

// Get returns a copy of one configuration.
func (s *ParameterStore) Get(id int) (*domain.ParameterSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, ok := s.cache.Get(existingKey)
	if !ok {
		return nil, false
	}
	for i := range list {
		if list[i].ID == id {
			return list[i].Clone(), true
		}
	}
	return nil, false
}

// Replace swaps the whole list.
func (s *ParameterStore) Replace(list []domain.ParameterSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set(existingKey, cloneList(list))
}

// Upsert inserts or replaces one configuration. No-op when nothing is loaded.
func (s *ParameterStore) Upsert(p *domain.ParameterSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.cache.Get(existingKey)
	if !ok {
		return
	}
	list = cloneList(list)
	for i := range list {
		if list[i].ID == p.ID {
			list[i] = *p.Clone()
			s.cache.Set(existingKey, list)
			return
		}
	}
	s.cache.Set(existingKey, append(list, *p.Clone()))
}

// Remove drops one configuration and reports whether it was present.
func (s *ParameterStore) Remove(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.cache.Get(existingKey)
	if !ok {
		return false
	}
	out := make([]domain.ParameterSet, 0, len(list))
	found := false
	for i := range list {
		if list[i].ID == id {
			found = true
			continue
		}
		out = append(out, *list[i].Clone())
	}
	if found {
		s.cache.Set(existingKey, out)
	}
	return found
}

// Invalidate forces the next read to reload from the API.
func (s *ParameterStore) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Delete(existingKey)
}

func cloneList(list []domain.ParameterSet) []domain.ParameterSet {
	out := make([]domain.ParameterSet, len(list))
	for i := range list {
		out[i] = *list[i].Clone()
	}
	return out
}
