package fraudreport

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for demo/test use.
type MemoryStore struct {
	mu   sync.RWMutex
	sets map[string]map[string]struct{}
}

// NewMemoryStore creates an in-memory fraud report store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: make(map[string]map[string]struct{})}
}

func (s *MemoryStore) Add(ctx context.Context, senderID, destination string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[senderID]
	if !ok {
		set = make(map[string]struct{})
		s.sets[senderID] = set
	}
	if _, dup := set[destination]; dup {
		return false, nil
	}
	set[destination] = struct{}{}
	return true, nil
}

func (s *MemoryStore) List(ctx context.Context, senderID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.sets[senderID]))
	for d := range s.sets[senderID] {
		out = append(out, d)
	}
	return out, nil
}
