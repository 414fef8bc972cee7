// Package ledger keeps each sender's bounded transaction history.
//
// A Ledger holds at most its capacity of transactions, newest first. When
// an append overflows the capacity the oldest records are dropped; this is
// normal operation, not an error. A Book owns one Ledger per sender and
// keeps it in step with a Store.
package ledger

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentrapay/sentra/internal/metrics"
	"github.com/sentrapay/sentra/internal/risk"
)

// DefaultCapacity is the number of transactions a ledger retains.
const DefaultCapacity = 50

var (
	ErrInvalidTransaction = errors.New("ledger: invalid transaction")
	ErrMalformedRecord    = errors.New("ledger: malformed history record")
)

// Transaction is a completed or blocked payment. Transactions are
// immutable once created.
type Transaction struct {
	ID           string          `json:"id"`
	Recipient    string          `json:"recipient"`
	Amount       decimal.Decimal `json:"amount"`
	Timestamp    time.Time       `json:"timestamp"`
	RiskScore    float64         `json:"riskScore"`
	RiskCategory risk.Category   `json:"riskCategory"`
	Blocked      bool            `json:"blocked"`
}

// Validate checks the fields a transaction must carry.
func (t Transaction) Validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidTransaction)
	case t.Recipient == "":
		return fmt.Errorf("%w: recipient is required", ErrInvalidTransaction)
	case !t.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransaction)
	case !(t.RiskScore >= 0 && t.RiskScore <= 1):
		return fmt.Errorf("%w: risk score out of range", ErrInvalidTransaction)
	}
	return nil
}

// Ledger is a bounded newest-first list of transactions, safe for
// concurrent use. Readers always see a complete snapshot.
type Ledger struct {
	mu       sync.RWMutex
	capacity int
	txs      []Transaction
}

// New creates an empty ledger. A non-positive capacity means DefaultCapacity.
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{capacity: capacity, txs: make([]Transaction, 0, capacity)}
}

// Capacity returns the retention bound.
func (l *Ledger) Capacity() int { return l.capacity }

// Append inserts tx at the front, replacing any record with the same ID,
// and evicts from the back past capacity. It returns how many records were
// evicted.
func (l *Ledger) Append(tx Transaction) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.txs = slices.DeleteFunc(l.txs, func(e Transaction) bool { return e.ID == tx.ID })
	l.txs = slices.Insert(l.txs, 0, tx)
	return l.trim()
}

// All returns every transaction, newest first.
func (l *Ledger) All() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.txs)
}

// Recent returns up to n of the newest transactions.
func (l *Ledger) Recent(n int) []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 {
		return []Transaction{}
	}
	if n > len(l.txs) {
		n = len(l.txs)
	}
	return slices.Clone(l.txs[:n])
}

// Get returns the transaction with the given ID.
func (l *Ledger) Get(id string) (Transaction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, tx := range l.txs {
		if tx.ID == id {
			return tx, true
		}
	}
	return Transaction{}, false
}

// Len returns the number of retained transactions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.txs)
}

// Velocity counts the payments recorded before now within the burst and
// hour windows. QuietBefore is set when the burst window holds a payment
// and an older one exists outside it.
func (l *Ledger) Velocity(now time.Time) risk.Velocity {
	l.mu.RLock()
	defer l.mu.RUnlock()

	burstStart := now.Add(-risk.BurstWindow)
	hourStart := now.Add(-risk.HourWindow)
	var v risk.Velocity
	var oldestInBurst, newestBefore time.Time
	for _, tx := range l.txs {
		ts := tx.Timestamp
		if ts.After(now) {
			continue
		}
		if ts.After(hourStart) {
			v.LastHour++
		}
		if ts.After(burstStart) {
			v.LastFiveMinutes++
			if oldestInBurst.IsZero() || ts.Before(oldestInBurst) {
				oldestInBurst = ts
			}
		} else if ts.After(newestBefore) {
			newestBefore = ts
		}
	}
	if !oldestInBurst.IsZero() && !newestBefore.IsZero() {
		v.QuietBefore = oldestInBurst.Sub(newestBefore)
	}
	return v
}

// SyncResult summarizes a merge.
type SyncResult struct {
	Remote    int `json:"remote"`    // records received from the platform
	LocalOnly int `json:"localOnly"` // local records the platform did not know
	Total     int `json:"total"`     // records retained after the merge
	Evicted   int `json:"evicted"`
}

// Sync merges remote records into the ledger. Remote records win for IDs
// present on both sides; local-only records are kept. The merged set is
// ordered by timestamp, newest first, and trimmed to capacity. Syncing the
// same records twice leaves the ledger unchanged.
func (l *Ledger) Sync(remote []Transaction) SyncResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	var res SyncResult
	l.txs, res = merge(l.txs, remote)
	res.Evicted = l.trim()
	res.Total = len(l.txs)
	return res
}

// Preview returns the transactions Sync(remote) would leave in the ledger
// without changing it.
func (l *Ledger) Preview(remote []Transaction) ([]Transaction, SyncResult) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	merged, res := merge(l.txs, remote)
	if over := len(merged) - l.capacity; over > 0 {
		merged = merged[:l.capacity]
		res.Evicted = over
	}
	res.Total = len(merged)
	return merged, res
}

// merge returns a new slice; local is not modified.
func merge(local, remote []Transaction) ([]Transaction, SyncResult) {
	seen := make(map[string]struct{}, len(remote))
	merged := make([]Transaction, 0, len(remote)+len(local))
	for _, tx := range remote {
		if _, dup := seen[tx.ID]; dup {
			continue
		}
		seen[tx.ID] = struct{}{}
		merged = append(merged, tx)
	}
	res := SyncResult{Remote: len(merged)}
	for _, tx := range local {
		if _, ok := seen[tx.ID]; ok {
			continue
		}
		seen[tx.ID] = struct{}{}
		merged = append(merged, tx)
		res.LocalOnly++
	}
	slices.SortStableFunc(merged, func(a, b Transaction) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return merged, res
}

// trim must be called with mu held.
func (l *Ledger) trim() int {
	over := len(l.txs) - l.capacity
	if over <= 0 {
		return 0
	}
	clear(l.txs[l.capacity:])
	l.txs = l.txs[:l.capacity]
	metrics.LedgerEvictionsTotal.Add(float64(over))
	return over
}
