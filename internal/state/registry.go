package state

import (
	"context"
	"log/slog"
	"sync"

	"github.com/marcus/huddle/internal/metrics"
)

// Managed is the view of a slice the registry and the reconciliation layer
// need: its current key plus the load operations.
type Managed interface {
	Key() string
	Hydrate(ctx context.Context) error
	Reload(ctx context.Context) error
}

// Registry tracks every managed slice. It routes changefeed events to the
// slice whose current key matches and drives whole-store operations like
// initial hydration and manual refresh.
type Registry struct {
	log *slog.Logger

	mu     sync.RWMutex
	slices []Managed

	invalidations chan string
}

// NewRegistry returns an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:           log,
		invalidations: make(chan string, 64),
	}
}

// Register adds a slice. Slices are never removed; identity changes re-key
// them in place.
func (r *Registry) Register(s Managed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slices = append(r.slices, s)
}

// Keys returns the current remote key of every registered slice.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.slices))
	for _, s := range r.slices {
		keys = append(keys, s.Key())
	}
	return keys
}

// HydrateAll loads every registered slice. All hydration errors are logged;
// the first is returned so callers can surface degraded startup.
func (r *Registry) HydrateAll(ctx context.Context) error {
	var first error
	for _, s := range r.snapshot() {
		if err := s.Hydrate(ctx); err != nil {
			r.log.Warn("registry: hydrate failed", "key", s.Key(), "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// ReloadAll re-fetches every registered slice. This is the target of the
// manual refresh gesture.
func (r *Registry) ReloadAll(ctx context.Context) error {
	var first error
	for _, s := range r.snapshot() {
		key := s.Key()
		if err := s.Reload(ctx); err != nil {
			r.log.Warn("registry: reload failed", "key", key, "error", err)
			if first == nil {
				first = err
			}
			continue
		}
		r.invalidate(key)
	}
	return first
}

// Dispatch reloads the slice whose current key matches the change event.
// Events for unmapped keys are ignored.
func (r *Registry) Dispatch(ctx context.Context, key string) {
	metrics.ReconcileEvents.Inc()

	var target Managed
	r.mu.RLock()
	for _, s := range r.slices {
		if s.Key() == key {
			target = s
			break
		}
	}
	r.mu.RUnlock()

	if target == nil {
		r.log.Debug("registry: ignoring change for unmapped key", "key", key)
		return
	}
	if err := target.Reload(ctx); err != nil {
		r.log.Warn("registry: dispatch reload failed", "key", key, "error", err)
		return
	}
	r.invalidate(key)
}

// Invalidations yields the keys of slices whose values may have changed
// through reconciliation or refresh. Delivery is best-effort; consumers
// that fall behind miss nudges, not data.
func (r *Registry) Invalidations() <-chan string { return r.invalidations }

func (r *Registry) invalidate(key string) {
	select {
	case r.invalidations <- key:
	default:
	}
}

func (r *Registry) snapshot() []Managed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Managed, len(r.slices))
	copy(out, r.slices)
	return out
}
