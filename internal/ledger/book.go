package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentrapay/sentra/internal/fraudapi"
	"github.com/sentrapay/sentra/internal/logging"
	"github.com/sentrapay/sentra/internal/retry"
	"github.com/sentrapay/sentra/internal/risk"
	"github.com/sentrapay/sentra/internal/syncutil"
	"github.com/sentrapay/sentra/internal/traces"
)

// HistorySource lists a sender's transactions on the platform.
type HistorySource interface {
	ListTransactions(ctx context.Context, senderID string) ([]fraudapi.TransactionRecord, error)
}

// Book owns one Ledger per sender. Ledgers are loaded from the Store on
// first use and every change is written through.
type Book struct {
	store    Store
	capacity int
	history  HistorySource
	policy   retry.Policy
	logger   *slog.Logger

	mu      sync.Mutex
	ledgers map[string]*Ledger
	writes  *syncutil.KeyedMutex
}

// NewBook creates a Book backed by store.
func NewBook(store Store, capacity int, logger *slog.Logger) *Book {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Book{
		store:    store,
		capacity: capacity,
		policy:   retry.DefaultPolicy,
		logger:   logger,
		ledgers:  make(map[string]*Ledger),
		writes:   syncutil.NewKeyedMutex(0),
	}
}

// WithHistory enables Sync against the platform's transaction history.
func (b *Book) WithHistory(src HistorySource) *Book {
	b.history = src
	return b
}

// WithRetryPolicy overrides the history pull retry policy.
func (b *Book) WithRetryPolicy(p retry.Policy) *Book {
	b.policy = p
	return b
}

// Capacity returns the per-sender retention bound.
func (b *Book) Capacity() int { return b.capacity }

// For returns the sender's ledger, loading it on first use. The store is
// read outside the book lock; if two callers race on a first load the
// first one to finish wins.
func (b *Book) For(ctx context.Context, senderID string) (*Ledger, error) {
	b.mu.Lock()
	l, ok := b.ledgers[senderID]
	b.mu.Unlock()
	if ok {
		return l, nil
	}

	txs, err := b.store.Load(ctx, senderID, b.capacity)
	if err != nil {
		return nil, fmt.Errorf("load ledger for %s: %w", senderID, err)
	}
	loaded := New(b.capacity)
	loaded.txs = append(loaded.txs, txs...)

	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.ledgers[senderID]; ok {
		return l, nil
	}
	b.ledgers[senderID] = loaded
	return loaded, nil
}

// Velocity reports the sender's recent payment activity as of now.
func (b *Book) Velocity(ctx context.Context, senderID string, now time.Time) (risk.Velocity, error) {
	l, err := b.For(ctx, senderID)
	if err != nil {
		return risk.Velocity{}, err
	}
	return l.Velocity(now), nil
}

// Append records a transaction for the sender.
func (b *Book) Append(ctx context.Context, senderID string, tx Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	l, err := b.For(ctx, senderID)
	if err != nil {
		return err
	}

	// Serialize store writes per sender so the persisted set matches the
	// in-memory ledger.
	unlock, err := b.writes.Lock(ctx, senderID)
	if err != nil {
		return err
	}
	defer unlock()

	// The ledger only changes once the store has accepted the write, so a
	// failed append leaves nothing behind.
	if err := b.store.Save(ctx, senderID, tx); err != nil {
		return fmt.Errorf("persist transaction %s: %w", tx.ID, err)
	}
	if evicted := l.Append(tx); evicted > 0 {
		logging.L(ctx).Info("ledger at capacity, evicted oldest transactions",
			"evicted", evicted, "capacity", b.capacity)
		b.retain(ctx, senderID, l)
	}
	return nil
}

// Sync pulls the sender's history from the platform and merges it into
// the ledger. Records that cannot be decoded are skipped.
func (b *Book) Sync(ctx context.Context, senderID string) (SyncResult, error) {
	if b.history == nil {
		return SyncResult{}, fmt.Errorf("ledger sync: %w", fraudapi.ErrUnavailable)
	}
	ctx, span := traces.StartSpan(ctx, "ledger.Sync", traces.SenderID(senderID))
	defer span.End()

	var recs []fraudapi.TransactionRecord
	err := retry.Do(ctx, b.policy, func(ctx context.Context) error {
		var err error
		recs, err = b.history.ListTransactions(ctx, senderID)
		if err != nil && !fraudapi.Retryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		traces.Fail(span, err)
		return SyncResult{}, fmt.Errorf("ledger sync: %w", err)
	}

	remote := make([]Transaction, 0, len(recs))
	for _, rec := range recs {
		tx, err := FromRecord(rec)
		if err != nil {
			logging.L(ctx).Warn("skipping malformed history record", "error", err)
			continue
		}
		remote = append(remote, tx)
	}

	l, err := b.For(ctx, senderID)
	if err != nil {
		return SyncResult{}, err
	}

	unlock, err := b.writes.Lock(ctx, senderID)
	if err != nil {
		return SyncResult{}, err
	}
	defer unlock()

	merged, _ := l.Preview(remote)
	if err := b.store.Save(ctx, senderID, merged...); err != nil {
		return SyncResult{}, fmt.Errorf("persist synced ledger: %w", err)
	}
	res := l.Sync(remote)
	b.retain(ctx, senderID, l)
	logging.L(ctx).Info("ledger synced",
		"remote", res.Remote, "local_only", res.LocalOnly, "total", res.Total, "evicted", res.Evicted)
	return res, nil
}

// retain prunes stored rows the ledger no longer holds. A failure only
// leaves extra rows behind; Load is bounded by capacity and the next
// prune removes them.
func (b *Book) retain(ctx context.Context, senderID string, l *Ledger) {
	all := l.All()
	ids := make([]string, len(all))
	for i, tx := range all {
		ids[i] = tx.ID
	}
	if err := b.store.Retain(ctx, senderID, ids); err != nil {
		logging.L(ctx).Warn("failed to prune ledger", "error", err)
	}
}
