package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/huddle/internal/metrics"
	"github.com/marcus/huddle/internal/remote"
)

const persistTimeout = 10 * time.Second

// Slice binds one in-memory collection to the remote row of the same key.
//
// Reads return the current value immediately. Mutations apply synchronously
// in memory and persist in the background; a failed persist keeps the
// optimistic value and leaves convergence to the next reload. Reloads
// replace the value only when the fetched version is newer than the newest
// version already applied, so a slice never moves backwards and ignores
// echoes of its own writes.
type Slice[T any] struct {
	store remote.Store
	log   *slog.Logger
	def   func() T

	mu       sync.Mutex
	cond     *sync.Cond
	key      string
	value    T
	hydrated bool
	applied  int64 // newest remote version incorporated locally
	pending  int   // persists in flight
}

// NewSlice creates a slice for key seeded with the default value. The slice
// is not hydrated until Hydrate succeeds.
func NewSlice[T any](store remote.Store, key string, def func() T, log *slog.Logger) *Slice[T] {
	if log == nil {
		log = slog.Default()
	}
	s := &Slice[T]{
		store: store,
		log:   log,
		def:   def,
		key:   key,
		value: def(),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Key returns the slice's current remote key.
func (s *Slice[T]) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// Get returns the current in-memory value.
func (s *Slice[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Hydrated reports whether the slice has loaded successfully at least once
// under its current key.
func (s *Slice[T]) Hydrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hydrated
}

// Version returns the newest remote version incorporated locally.
func (s *Slice[T]) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// Hydrate loads the remote row for the slice's key. A missing row seeds the
// remote with the default value. On failure the previous value and
// hydration mark are kept and a *HydrationError is returned.
func (s *Slice[T]) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	key := s.key
	s.mu.Unlock()

	row, err := s.store.Fetch(ctx, key)
	if errors.Is(err, remote.ErrNotFound) {
		return s.seed(ctx, key)
	}
	if err != nil {
		return &HydrationError{Key: key, Err: err}
	}

	var v T
	if err := json.Unmarshal(row.Value, &v); err != nil {
		return &HydrationError{Key: key, Err: fmt.Errorf("decode row: %w", err)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != key {
		// Re-keyed while the fetch was in flight. The new key's own
		// hydrate owns the slice now.
		return nil
	}
	s.value = v
	s.hydrated = true
	if row.Version > s.applied {
		s.applied = row.Version
	}
	return nil
}

func (s *Slice[T]) seed(ctx context.Context, key string) error {
	def := s.def()
	data, err := json.Marshal(def)
	if err != nil {
		return &HydrationError{Key: key, Err: fmt.Errorf("encode default: %w", err)}
	}
	ver, err := s.store.Upsert(ctx, key, data)
	if err != nil {
		return &HydrationError{Key: key, Err: fmt.Errorf("seed default: %w", err)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != key {
		return nil
	}
	s.value = def
	s.hydrated = true
	if ver > s.applied {
		s.applied = ver
	}
	return nil
}

// Mutate applies fn to the current value and schedules a background persist
// of the result. fn runs under the slice lock and must not block.
func (s *Slice[T]) Mutate(fn func(T) T) {
	s.MutateIf(func(v T) (T, bool) { return fn(v), true })
}

// MutateIf applies fn under the slice lock. When fn reports false, neither
// the value nor the remote row is touched. Returns whether a change was
// applied.
func (s *Slice[T]) MutateIf(fn func(T) (T, bool)) bool {
	s.mu.Lock()
	next, changed := fn(s.value)
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.value = next
	key := s.key
	data, err := json.Marshal(next)
	if err != nil {
		s.mu.Unlock()
		s.log.Error("slice: encode value", "key", key, "error", err)
		return true
	}
	s.pending++
	s.mu.Unlock()

	go s.persist(key, data)
	return true
}

func (s *Slice[T]) persist(key string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	ver, err := s.store.Upsert(ctx, key, data)

	s.mu.Lock()
	defer func() {
		s.cond.Broadcast()
		s.mu.Unlock()
	}()
	s.pending--
	if err != nil {
		perr := &PersistError{Key: key, Err: err}
		base, _ := SplitKey(key)
		metrics.PersistFailures.WithLabelValues(base).Inc()
		s.log.Warn("slice: persist failed, keeping optimistic value", "key", key, "error", perr)
		return
	}
	if key == s.key && ver > s.applied {
		s.applied = ver
	}
}

// Flush blocks until every persist issued before the call has completed.
func (s *Slice[T]) Flush() {
	s.mu.Lock()
	for s.pending > 0 {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

// Reload re-fetches the remote row and replaces the in-memory value when
// the fetched version is newer than the newest already applied. Stale rows
// and echoes of this slice's own writes are discarded. A missing row is not
// an error: the seeded default is authoritative until someone writes.
func (s *Slice[T]) Reload(ctx context.Context) error {
	s.mu.Lock()
	key := s.key
	s.mu.Unlock()
	base, _ := SplitKey(key)

	row, err := s.store.Fetch(ctx, key)
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	if err != nil {
		metrics.SliceReloads.WithLabelValues(base, "error").Inc()
		return &HydrationError{Key: key, Err: err}
	}

	var v T
	if err := json.Unmarshal(row.Value, &v); err != nil {
		metrics.SliceReloads.WithLabelValues(base, "error").Inc()
		return &HydrationError{Key: key, Err: fmt.Errorf("decode row: %w", err)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != key {
		return nil
	}
	if row.Version <= s.applied {
		metrics.SliceReloads.WithLabelValues(base, "stale").Inc()
		s.log.Debug("slice: discarding stale reload",
			"key", key, "fetched", row.Version, "applied", s.applied)
		return nil
	}
	s.value = v
	s.hydrated = true
	s.applied = row.Version
	metrics.SliceReloads.WithLabelValues(base, "applied").Inc()
	return nil
}

// Rekey switches the slice to a new remote key, dropping the old value and
// hydrating under the new key. A no-op when the key is unchanged.
func (s *Slice[T]) Rekey(ctx context.Context, newKey string) error {
	s.mu.Lock()
	if s.key == newKey {
		s.mu.Unlock()
		return nil
	}
	s.key = newKey
	s.value = s.def()
	s.hydrated = false
	s.applied = 0
	s.mu.Unlock()

	return s.Hydrate(ctx)
}
