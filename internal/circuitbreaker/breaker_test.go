package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, open time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(threshold, open)
	b.now = clock.Now
	return b, clock
}

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	if !b.Allow("fraud-scoring") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	b.RecordFailure("fraud-scoring")
	b.RecordFailure("fraud-scoring")
	if !b.Allow("fraud-scoring") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("fraud-scoring")
	if b.Allow("fraud-scoring") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("fraud-scoring") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("fraud-scoring"))
	}
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)

	b.RecordFailure("k")
	b.RecordFailure("k")
	if b.Allow("k") {
		t.Fatal("should be open")
	}

	clock.Advance(time.Minute)
	if !b.Allow("k") {
		t.Fatal("should allow trial call in half-open")
	}
	if b.Allow("k") {
		t.Fatal("should reject second request in half-open")
	}

	b.RecordSuccess("k")
	if b.State("k") != StateClosed {
		t.Fatalf("expected StateClosed after successful trial call, got %v", b.State("k"))
	}
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure("k")
	clock.Advance(time.Minute)
	b.Allow("k")
	b.RecordFailure("k")

	if b.State("k") != StateOpen {
		t.Fatalf("expected StateOpen after failed trial call, got %v", b.State("k"))
	}
}

func TestBreaker_KeysAreIndependent(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	b.RecordFailure("a")
	if b.Allow("a") {
		t.Fatal("a should be open")
	}
	if !b.Allow("b") {
		t.Fatal("b should be unaffected")
	}
}

func TestBreaker_Execute(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)
	boom := errors.New("boom")

	calls := 0
	fail := func() error { calls++; return boom }

	if err := b.Execute("k", fail); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := b.Execute("k", fail); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := b.Execute("k", fail); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("fn should not run while open, ran %d times", calls)
	}
}

func TestBreaker_OnTransition(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	got := make(chan State, 1)
	b.OnTransition(func(_ string, _, to State) { got <- to })

	b.RecordFailure("k")

	select {
	case s := <-got:
		if s != StateOpen {
			t.Fatalf("expected transition to open, got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("transition callback not invoked")
	}
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b, _ := newTestBreaker(100, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Allow("k")
			b.RecordFailure("k")
			b.RecordSuccess("k")
			_ = b.State("k")
		}()
	}
	wg.Wait()
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half_open",
		State(42):     "unknown",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
