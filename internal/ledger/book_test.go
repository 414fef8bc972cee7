package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrapay/sentra/internal/fraudapi"
	"github.com/sentrapay/sentra/internal/retry"
)

type fakeHistory struct {
	recs     []fraudapi.TransactionRecord
	failures int
	err      error
	calls    atomic.Int32
}

func (f *fakeHistory) ListTransactions(_ context.Context, _ string) ([]fraudapi.TransactionRecord, error) {
	n := int(f.calls.Add(1))
	if n <= f.failures {
		return nil, f.err
	}
	return f.recs, nil
}

var fastRetry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestBook_AppendWritesThrough(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	book := NewBook(store, 3, nil)

	for i := 1; i <= 4; i++ {
		require.NoError(t, book.Append(ctx, "alice", txn(i)))
	}

	l, err := book.For(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"TXN-004", "TXN-003", "TXN-002"}, ids(l.All()))

	stored, err := store.Load(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"TXN-004", "TXN-003", "TXN-002"}, ids(stored))

	other, err := book.For(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, other.Len())
}

func TestBook_LoadsExistingLedger(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, "alice", txn(1), txn(2)))

	book := NewBook(store, 10, nil)
	l, err := book.For(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"TXN-002", "TXN-001"}, ids(l.All()))
}

func TestBook_AppendRejectsInvalid(t *testing.T) {
	book := NewBook(NewMemoryStore(), 10, nil)
	bad := txn(1)
	bad.ID = ""
	assert.ErrorIs(t, book.Append(context.Background(), "alice", bad), ErrInvalidTransaction)
}

func TestBook_Sync(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	history := &fakeHistory{
		failures: 1,
		err:      fmt.Errorf("%w: %w", fraudapi.ErrUnavailable, &fraudapi.StatusError{Code: 502, Message: "bad gateway"}),
		recs: []fraudapi.TransactionRecord{
			ToRecord(txn(3)),
			ToRecord(txn(2)),
			{TransactionID: "broken", Receiver: "x@bank", Amount: 5, Timestamp: "not a time"},
		},
	}
	book := NewBook(store, 10, nil).WithHistory(history).WithRetryPolicy(fastRetry)
	require.NoError(t, book.Append(ctx, "alice", txn(4)))

	res, err := book.Sync(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int32(2), history.calls.Load())
	assert.Equal(t, 2, res.Remote)
	assert.Equal(t, 1, res.LocalOnly)
	assert.Equal(t, 3, res.Total)

	l, _ := book.For(ctx, "alice")
	assert.Equal(t, []string{"TXN-004", "TXN-003", "TXN-002"}, ids(l.All()))

	stored, err := store.Load(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	res, err = book.Sync(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, l.Len())
}

func TestBook_SyncDoesNotRetryMissingCredential(t *testing.T) {
	history := &fakeHistory{
		failures: 5,
		err:      fmt.Errorf("%w: %w", fraudapi.ErrUnavailable, fraudapi.ErrNoCredential),
	}
	book := NewBook(NewMemoryStore(), 10, nil).WithHistory(history).WithRetryPolicy(fastRetry)

	_, err := book.Sync(context.Background(), "alice")
	assert.ErrorIs(t, err, fraudapi.ErrUnavailable)
	assert.Equal(t, int32(1), history.calls.Load())
}

func TestBook_SyncWithoutHistory(t *testing.T) {
	book := NewBook(NewMemoryStore(), 10, nil)
	_, err := book.Sync(context.Background(), "alice")
	assert.ErrorIs(t, err, fraudapi.ErrUnavailable)
}

// flakyStore fails the first saveFailures Saves and every Retain while
// retainErr is set.
type flakyStore struct {
	*MemoryStore
	saveFailures int
	saves        int
	retainErr    error
}

func (s *flakyStore) Save(ctx context.Context, senderID string, txs ...Transaction) error {
	s.saves++
	if s.saves <= s.saveFailures {
		return errors.New("db down")
	}
	return s.MemoryStore.Save(ctx, senderID, txs...)
}

func (s *flakyStore) Retain(ctx context.Context, senderID string, ids []string) error {
	if s.retainErr != nil {
		return s.retainErr
	}
	return s.MemoryStore.Retain(ctx, senderID, ids)
}

func TestBook_FailedSaveLeavesLedgerUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore(), saveFailures: 1}
	book := NewBook(store, 10, nil)

	err := book.Append(ctx, "alice", txn(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")

	l, err := book.For(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, l.Len())

	require.NoError(t, book.Append(ctx, "alice", txn(2)))
	assert.Equal(t, []string{"TXN-002"}, ids(l.All()))

	stored, err := store.Load(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"TXN-002"}, ids(stored))
}

func TestBook_FailedSyncSaveLeavesLedgerUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	history := &fakeHistory{recs: []fraudapi.TransactionRecord{ToRecord(txn(3)), ToRecord(txn(2))}}
	book := NewBook(store, 10, nil).WithHistory(history).WithRetryPolicy(fastRetry)
	require.NoError(t, book.Append(ctx, "alice", txn(1)))

	store.saveFailures = store.saves + 1
	_, err := book.Sync(ctx, "alice")
	require.Error(t, err)

	l, _ := book.For(ctx, "alice")
	assert.Equal(t, []string{"TXN-001"}, ids(l.All()))

	res, err := book.Sync(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, []string{"TXN-003", "TXN-002", "TXN-001"}, ids(l.All()))
}

func TestBook_PruneFailureIsNotAnAppendError(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore(), retainErr: errors.New("db down")}
	book := NewBook(store, 2, nil)

	for i := 1; i <= 3; i++ {
		require.NoError(t, book.Append(ctx, "alice", txn(i)))
	}
	l, _ := book.For(ctx, "alice")
	assert.Equal(t, []string{"TXN-003", "TXN-002"}, ids(l.All()))

	// Load stays bounded by capacity while the extra row waits for the
	// next successful prune.
	stored, err := store.Load(ctx, "alice", book.Capacity())
	require.NoError(t, err)
	assert.Equal(t, []string{"TXN-003", "TXN-002"}, ids(stored))
}

// slowStore blocks Load until release is closed.
type slowStore struct {
	*MemoryStore
	loads   atomic.Int32
	release chan struct{}
}

func (s *slowStore) Load(ctx context.Context, senderID string, limit int) ([]Transaction, error) {
	s.loads.Add(1)
	<-s.release
	return s.MemoryStore.Load(ctx, senderID, limit)
}

func TestBook_ForLoadsOutsideLock(t *testing.T) {
	ctx := context.Background()
	store := &slowStore{MemoryStore: NewMemoryStore(), release: make(chan struct{})}
	book := NewBook(store, 10, nil)

	got := make(chan *Ledger, 2)
	for i := 0; i < 2; i++ {
		go func() {
			l, err := book.For(ctx, "alice")
			assert.NoError(t, err)
			got <- l
		}()
	}

	// Both first loads reach the store; a lock held across Load would
	// leave one of them waiting.
	require.Eventually(t, func() bool { return store.loads.Load() == 2 }, time.Second, time.Millisecond)
	close(store.release)

	first, second := <-got, <-got
	assert.Same(t, first, second)

	again, err := book.For(ctx, "alice")
	require.NoError(t, err)
	assert.Same(t, first, again)
}

// failingLoadStore fails every Load.
type failingLoadStore struct{ *MemoryStore }

func (failingLoadStore) Load(context.Context, string, int) ([]Transaction, error) {
	return nil, errors.New("db down")
}

func TestBook_Velocity(t *testing.T) {
	ctx := context.Background()
	book := NewBook(NewMemoryStore(), 10, nil)
	now := epoch.Add(time.Hour)

	for i, ago := range []time.Duration{40 * time.Minute, 3 * time.Minute, time.Minute} {
		tx := txn(i)
		tx.Timestamp = now.Add(-ago)
		require.NoError(t, book.Append(ctx, "alice", tx))
	}

	v, err := book.Velocity(ctx, "alice", now)
	require.NoError(t, err)
	assert.Equal(t, 2, v.LastFiveMinutes)
	assert.Equal(t, 3, v.LastHour)
	assert.Equal(t, 37*time.Minute, v.QuietBefore)

	_, err = NewBook(failingLoadStore{NewMemoryStore()}, 10, nil).Velocity(ctx, "alice", now)
	assert.Error(t, err)
}
