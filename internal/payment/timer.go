package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultRetention is how long terminal attempts stay readable.
const DefaultRetention = 24 * time.Hour

// pruner is implemented by stores that can drop old terminal attempts.
type pruner interface {
	Prune(before time.Time) int
}

// Sweeper periodically expires abandoned attempts.
type Sweeper struct {
	service   *Service
	store     Store
	interval  time.Duration
	retention time.Duration
	batch     int
	logger    *slog.Logger
	stop      chan struct{}
	running   atomic.Bool
}

// NewSweeper creates a new attempt sweeper.
func NewSweeper(service *Service, store Store, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		service:   service,
		store:     store,
		interval:  30 * time.Second,
		retention: DefaultRetention,
		batch:     100,
		logger:    logger,
		stop:      make(chan struct{}, 1),
	}
}

// WithInterval sets how often the sweeper runs.
func (t *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		t.interval = d
	}
	return t
}

// Running reports whether the sweeper loop is actively running.
func (t *Sweeper) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Sweeper) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (t *Sweeper) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in payment sweeper", "panic", fmt.Sprint(r))
		}
	}()
	t.sweep(ctx)
}

func (t *Sweeper) sweep(ctx context.Context) {
	n, err := t.service.ExpireStale(ctx, t.batch)
	if err != nil {
		t.logger.Warn("failed to list stale payment attempts", "error", err)
	} else if n > 0 {
		t.logger.Info("expired abandoned payment attempts", "count", n)
	}

	if p, ok := t.store.(pruner); ok {
		if pruned := p.Prune(time.Now().Add(-t.retention)); pruned > 0 {
			t.logger.Debug("pruned finished payment attempts", "count", pruned)
		}
	}
}
