package risk

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	verdicts map[string][]*Verdict // senderID → verdicts, oldest first
}

// NewMemoryStore creates an in-memory verdict store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		verdicts: make(map[string][]*Verdict),
	}
}

func (s *MemoryStore) Record(ctx context.Context, v *Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.verdicts[v.SenderID] = append(s.verdicts[v.SenderID], cloneVerdict(v))
	return nil
}

func (s *MemoryStore) ListBySender(ctx context.Context, senderID string, limit int, opts ...ListOption) ([]*Verdict, error) {
	o := applyListOpts(opts)

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.verdicts[senderID]
	result := []*Verdict{}
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		if !o.cursor.Admits(all[i].EvaluatedAt, all[i].ID) {
			continue
		}
		result = append(result, cloneVerdict(all[i]))
	}
	return result, nil
}

func cloneVerdict(v *Verdict) *Verdict {
	c := *v
	c.Result.Factors = append([]string(nil), v.Result.Factors...)
	c.Fallbacks = append([]Fallback(nil), v.Fallbacks...)
	if v.Receiver != nil {
		info := *v.Receiver
		c.Receiver = &info
	}
	return &c
}
