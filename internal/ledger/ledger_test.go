package ledger

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrapay/sentra/internal/risk"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func txn(i int) Transaction {
	return Transaction{
		ID:           fmt.Sprintf("TXN-%03d", i),
		Recipient:    "bob@okbank",
		Amount:       decimal.NewFromInt(int64(100 + i)),
		Timestamp:    epoch.Add(time.Duration(i) * time.Minute),
		RiskScore:    0.1,
		RiskCategory: risk.CategoryLow,
	}
}

func ids(txs []Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}

func TestLedger_AppendIsNewestFirst(t *testing.T) {
	l := New(DefaultCapacity)
	for i := 1; i <= 3; i++ {
		assert.Zero(t, l.Append(txn(i)))
	}
	assert.Equal(t, []string{"TXN-003", "TXN-002", "TXN-001"}, ids(l.All()))
	assert.Equal(t, []string{"TXN-003", "TXN-002"}, ids(l.Recent(2)))
	assert.Len(t, l.Recent(10), 3)
	assert.Empty(t, l.Recent(0))
}

func TestLedger_EvictsOldestPastCapacity(t *testing.T) {
	l := New(50)
	evicted := 0
	for i := 1; i <= 51; i++ {
		evicted += l.Append(txn(i))
	}

	all := l.All()
	require.Len(t, all, 50)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, "TXN-051", all[0].ID)
	assert.Equal(t, "TXN-002", all[49].ID)
	_, ok := l.Get("TXN-001")
	assert.False(t, ok)
}

func TestLedger_AppendReplacesSameID(t *testing.T) {
	l := New(5)
	l.Append(txn(1))
	l.Append(txn(2))

	updated := txn(1)
	updated.Blocked = true
	l.Append(updated)

	assert.Equal(t, []string{"TXN-001", "TXN-002"}, ids(l.All()))
	got, ok := l.Get("TXN-001")
	require.True(t, ok)
	assert.True(t, got.Blocked)
}

func TestLedger_AllIsASnapshot(t *testing.T) {
	l := New(5)
	l.Append(txn(1))
	snap := l.All()
	snap[0].ID = "mutated"

	got, ok := l.Get("TXN-001")
	assert.True(t, ok)
	assert.Equal(t, "TXN-001", got.ID)
}

func TestLedger_ConcurrentAppend(t *testing.T) {
	l := New(50)
	var wg sync.WaitGroup
	for i := 1; i <= 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Append(txn(i))
			_ = l.All()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, l.Len())
}

func TestLedger_Sync(t *testing.T) {
	l := New(10)
	l.Append(txn(1))
	l.Append(txn(5)) // local only

	remoteOne := txn(1)
	remoteOne.Blocked = true
	remote := []Transaction{remoteOne, txn(3), txn(7), txn(3)}

	res := l.Sync(remote)
	assert.Equal(t, SyncResult{Remote: 3, LocalOnly: 1, Total: 4}, res)
	assert.Equal(t, []string{"TXN-007", "TXN-005", "TXN-003", "TXN-001"}, ids(l.All()))

	got, _ := l.Get("TXN-001")
	assert.True(t, got.Blocked, "remote record wins")

	again := l.Sync(remote)
	assert.Equal(t, 4, again.Total)
	assert.Equal(t, []string{"TXN-007", "TXN-005", "TXN-003", "TXN-001"}, ids(l.All()))
}

func TestLedger_SyncTrimsToCapacity(t *testing.T) {
	l := New(3)
	remote := []Transaction{txn(1), txn(2), txn(3), txn(4), txn(5)}

	res := l.Sync(remote)
	assert.Equal(t, 2, res.Evicted)
	assert.Equal(t, []string{"TXN-005", "TXN-004", "TXN-003"}, ids(l.All()))
}

func TestTransaction_Validate(t *testing.T) {
	good := txn(1)
	assert.NoError(t, good.Validate())

	tests := []struct {
		name   string
		mutate func(*Transaction)
	}{
		{"missing id", func(tx *Transaction) { tx.ID = "" }},
		{"missing recipient", func(tx *Transaction) { tx.Recipient = "" }},
		{"zero amount", func(tx *Transaction) { tx.Amount = decimal.Zero }},
		{"score above one", func(tx *Transaction) { tx.RiskScore = 1.2 }},
		{"negative score", func(tx *Transaction) { tx.RiskScore = -0.1 }},
		{"nan score", func(tx *Transaction) { tx.RiskScore = math.NaN() }},
		{"infinite score", func(tx *Transaction) { tx.RiskScore = math.Inf(1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := txn(1)
			tt.mutate(&tx)
			assert.ErrorIs(t, tx.Validate(), ErrInvalidTransaction)
		})
	}
}

func TestLedger_Velocity(t *testing.T) {
	now := epoch.Add(30 * 24 * time.Hour)
	at := func(id string, ago time.Duration) Transaction {
		tx := txn(0)
		tx.ID = id
		tx.Timestamp = now.Add(-ago)
		return tx
	}

	tests := []struct {
		name string
		txs  []Transaction
		want risk.Velocity
	}{
		{"empty", nil, risk.Velocity{}},
		{
			"burst after dormancy",
			[]Transaction{
				at("old", 10*24*time.Hour),
				at("a", 4*time.Minute),
				at("b", 2*time.Minute),
				at("c", time.Minute),
			},
			risk.Velocity{LastFiveMinutes: 3, LastHour: 3, QuietBefore: 10*24*time.Hour - 4*time.Minute},
		},
		{
			"hour without burst",
			[]Transaction{
				at("a", 50*time.Minute),
				at("b", 30*time.Minute),
				at("c", 10*time.Minute),
			},
			risk.Velocity{LastHour: 3},
		},
		{
			"future timestamps are ignored",
			[]Transaction{at("a", -time.Minute), at("b", time.Minute)},
			risk.Velocity{LastFiveMinutes: 1, LastHour: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(10)
			for _, tx := range tt.txs {
				l.Append(tx)
			}
			assert.Equal(t, tt.want, l.Velocity(now))
		})
	}
}
