// Package fraudreport keeps each sender's denylist of destinations they
// have reported as fraudulent.
//
// Reports are idempotent and never withdrawn. Once a destination is
// reported, every later risk analysis by that sender against it is forced
// to HIGH and blocked.
package fraudreport

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/sentrapay/sentra/internal/logging"
	"github.com/sentrapay/sentra/internal/metrics"
	"github.com/sentrapay/sentra/internal/validation"
)

// ErrEmptyDestination is returned when reporting an empty identifier.
var ErrEmptyDestination = errors.New("fraudreport: destination is required")

// Store persists denylists.
type Store interface {
	// Add records destination for the sender, reporting whether it was new.
	Add(ctx context.Context, senderID, destination string) (bool, error)
	// List returns every destination the sender has reported.
	List(ctx context.Context, senderID string) ([]string, error)
}

// Registry is the in-process view of all senders' denylists. A sender's
// list is loaded from the Store on first use; reports are written through.
type Registry struct {
	store  Store
	logger *slog.Logger

	mu   sync.RWMutex
	sets map[string]map[string]struct{}
}

// NewRegistry creates a Registry backed by store.
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		store:  store,
		logger: logger,
		sets:   make(map[string]map[string]struct{}),
	}
}

// Report adds destination to the sender's denylist. It reports whether the
// destination was newly added; reporting twice is a no-op.
func (r *Registry) Report(ctx context.Context, senderID, destination string) (bool, error) {
	dest := validation.NormalizeDestination(destination)
	if dest == "" {
		return false, ErrEmptyDestination
	}
	set, err := r.load(ctx, senderID)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := set[dest]; ok {
		return false, nil
	}
	if _, err := r.store.Add(ctx, senderID, dest); err != nil {
		return false, err
	}
	set[dest] = struct{}{}

	metrics.FraudReportsTotal.Inc()
	logging.L(ctx).Info("destination reported as fraudulent", "destination", dest)
	return true, nil
}

// IsReported reports whether the sender has reported destination. A store
// failure reads as not reported and is logged.
func (r *Registry) IsReported(ctx context.Context, senderID, destination string) bool {
	set, err := r.load(ctx, senderID)
	if err != nil {
		logging.L(ctx).Warn("fraud report lookup failed", "error", err)
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := set[validation.NormalizeDestination(destination)]
	return ok
}

// Reported returns the sender's denylist in sorted order.
func (r *Registry) Reported(ctx context.Context, senderID string) ([]string, error) {
	set, err := r.load(ctx, senderID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	out := make([]string, 0, len(set))
	for dest := range set {
		out = append(out, dest)
	}
	r.mu.RUnlock()

	slices.Sort(out)
	return out, nil
}

func (r *Registry) load(ctx context.Context, senderID string) (map[string]struct{}, error) {
	r.mu.RLock()
	set, ok := r.sets[senderID]
	r.mu.RUnlock()
	if ok {
		return set, nil
	}

	dests, err := r.store.List(ctx, senderID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.sets[senderID]; ok {
		return set, nil
	}
	set = make(map[string]struct{}, len(dests))
	for _, d := range dests {
		set[d] = struct{}{}
	}
	r.sets[senderID] = set
	return set, nil
}
