package payment

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps attempts in process memory. Attempts are short-lived,
// so this is the only store.
type MemoryStore struct {
	attempts map[string]*Attempt
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory attempt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts: make(map[string]*Attempt),
	}
}

func (m *MemoryStore) Create(ctx context.Context, a *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts[a.ID] = a.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, a *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.attempts[a.ID]; !ok {
		return ErrAttemptNotFound
	}
	m.attempts[a.ID] = a.Clone()
	return nil
}

// ListOpen returns the sender's allowed and warned attempts, oldest first.
func (m *MemoryStore) ListOpen(ctx context.Context, senderID string) ([]*Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Attempt
	for _, a := range m.attempts {
		if a.SenderID == senderID && a.IsOpen() {
			out = append(out, a.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

// ListExpired returns open attempts whose deadline is before the given time.
func (m *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Attempt
	for _, a := range m.attempts {
		if a.IsOpen() && a.ExpiresAt.Before(before) {
			out = append(out, a.Clone())
		}
	}
	sortByCreated(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prune drops terminal attempts last updated before the given time.
func (m *MemoryStore) Prune(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, a := range m.attempts {
		if a.IsTerminal() && a.UpdatedAt.Before(before) {
			delete(m.attempts, id)
			n++
		}
	}
	return n
}

func sortByCreated(as []*Attempt) {
	slices.SortFunc(as, func(a, b *Attempt) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})
}
