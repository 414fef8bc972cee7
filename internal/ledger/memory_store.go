package ledger

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]map[string]Transaction // senderID → id → tx
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]map[string]Transaction)}
}

func (m *MemoryStore) Load(ctx context.Context, senderID string, limit int) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Transaction, 0, len(m.txs[senderID]))
	for _, tx := range m.txs[senderID] {
		out = append(out, tx)
	}
	slices.SortFunc(out, func(a, b Transaction) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Save(ctx context.Context, senderID string, txs ...Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.txs[senderID]
	if !ok {
		byID = make(map[string]Transaction)
		m.txs[senderID] = byID
	}
	for _, tx := range txs {
		byID[tx.ID] = tx
	}
	return nil
}

func (m *MemoryStore) Retain(ctx context.Context, senderID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.txs[senderID] {
		if !slices.Contains(ids, id) {
			delete(m.txs[senderID], id)
		}
	}
	return nil
}
