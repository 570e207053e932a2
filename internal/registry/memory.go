package registry

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
	}
}

// Track records an entry.
func (s *MemoryStore) Track(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.MachineID] = e
	return nil
}

// Release removes an entry. Returns true if it existed.
func (s *MemoryStore) Release(_ context.Context, machineID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.entries[machineID]
	if exists {
		delete(s.entries, machineID)
	}
	return exists, nil
}

// List returns a snapshot of all entries.
func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		result = append(result, e)
	}
	return result, nil
}

// Len returns the number of tracked entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
