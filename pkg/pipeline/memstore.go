package pipeline

import (
	"fmt"
	"sync"
)

// MemoryStore is an in-memory StageStore. It backs tests and acts as a
// fallback when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Load retrieves a record by ID.
func (s *MemoryStore) Load(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return rec.Clone(), nil
}

// Save persists a record, overwriting any previous version.
func (s *MemoryStore) Save(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record.Clone()
	return nil
}

// List returns records matching the filter.
func (s *MemoryStore) List(filter ListFilter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, rec := range s.records {
		if filter.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}
