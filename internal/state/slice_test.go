package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marcus/huddle/internal/remote"
)

// fakeStore is a scriptable remote.Store for exercising slice edge cases
// the in-memory backend cannot produce (failed fetches, pinned versions).
type fakeStore struct {
	mu       sync.Mutex
	rows     map[string]remote.Row
	fetchErr error
	writeErr error
	upserts  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]remote.Row)}
}

func (f *fakeStore) set(key string, version int64, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[key] = remote.Row{Key: key, Value: data, Version: version, UpdatedAt: time.Now()}
}

func (f *fakeStore) Fetch(ctx context.Context, key string) (*remote.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	row, ok := f.rows[key]
	if !ok {
		return nil, remote.ErrNotFound
	}
	out := row
	return &out, nil
}

func (f *fakeStore) Upsert(ctx context.Context, key string, value json.RawMessage) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	row := f.rows[key]
	row.Key = key
	row.Value = append(json.RawMessage(nil), value...)
	row.Version++
	row.UpdatedAt = time.Now()
	f.rows[key] = row
	return row.Version, nil
}

func (f *fakeStore) Changefeed(ctx context.Context, keys []string) (remote.Feed, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

func newTestSlice(store remote.Store) *Slice[[]string] {
	return NewSlice(store, KeyPosts, func() []string { return []string{} }, nil)
}

func TestHydrateSeedsDefault(t *testing.T) {
	store := newFakeStore()
	s := newTestSlice(store)

	if s.Hydrated() {
		t.Fatal("slice hydrated before Hydrate")
	}
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if !s.Hydrated() {
		t.Fatal("slice not hydrated after Hydrate")
	}
	if got := s.Version(); got != 1 {
		t.Errorf("Version() = %d, want 1 (seed write)", got)
	}
	row, err := store.Fetch(context.Background(), KeyPosts)
	if err != nil {
		t.Fatalf("Fetch after seed: %v", err)
	}
	if string(row.Value) != "[]" {
		t.Errorf("seeded row = %s, want []", row.Value)
	}
}

func TestHydrateLoadsExistingRow(t *testing.T) {
	store := newFakeStore()
	store.set(KeyPosts, 7, []string{"a", "b"})
	s := newTestSlice(store)

	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	got := s.Get()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Get() = %v, want [a b]", got)
	}
	if v := s.Version(); v != 7 {
		t.Errorf("Version() = %d, want 7", v)
	}
}

func TestHydrateFailureKeepsValue(t *testing.T) {
	store := newFakeStore()
	store.set(KeyPosts, 3, []string{"kept"})
	s := newTestSlice(store)
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("first Hydrate() error = %v", err)
	}

	store.mu.Lock()
	store.fetchErr = errors.New("store down")
	store.mu.Unlock()

	err := s.Hydrate(context.Background())
	var herr *HydrationError
	if !errors.As(err, &herr) {
		t.Fatalf("Hydrate() error = %v, want *HydrationError", err)
	}
	if !s.Hydrated() {
		t.Error("failed re-hydrate cleared the hydrated mark")
	}
	if got := s.Get(); len(got) != 1 || got[0] != "kept" {
		t.Errorf("Get() after failed hydrate = %v, want [kept]", got)
	}
}

func TestMutateIsSynchronousAndPersists(t *testing.T) {
	store := newFakeStore()
	s := newTestSlice(store)
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}

	s.Mutate(func(v []string) []string { return append(v, "first") })
	if got := s.Get(); len(got) != 1 || got[0] != "first" {
		t.Fatalf("Get() immediately after Mutate = %v, want [first]", got)
	}

	s.Flush()
	row, err := store.Fetch(context.Background(), KeyPosts)
	if err != nil {
		t.Fatalf("Fetch after flush: %v", err)
	}
	var persisted []string
	if err := json.Unmarshal(row.Value, &persisted); err != nil {
		t.Fatalf("decode persisted row: %v", err)
	}
	if len(persisted) != 1 || persisted[0] != "first" {
		t.Errorf("persisted = %v, want [first]", persisted)
	}
	if v := s.Version(); v != row.Version {
		t.Errorf("Version() = %d, want %d (persist ack)", v, row.Version)
	}
}

func TestMutateIfFalseSkipsPersist(t *testing.T) {
	store := newFakeStore()
	s := newTestSlice(store)
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	before := store.upsertCount()

	changed := s.MutateIf(func(v []string) ([]string, bool) { return v, false })
	if changed {
		t.Error("MutateIf reported a change for a declined mutation")
	}
	s.Flush()
	if got := store.upsertCount(); got != before {
		t.Errorf("upserts = %d, want %d (no write for declined mutation)", got, before)
	}
}

func TestPersistFailureKeepsOptimisticValue(t *testing.T) {
	store := newFakeStore()
	s := newTestSlice(store)
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}

	store.mu.Lock()
	store.writeErr = errors.New("write refused")
	store.mu.Unlock()

	s.Mutate(func(v []string) []string { return append(v, "optimistic") })
	s.Flush()

	if got := s.Get(); len(got) != 1 || got[0] != "optimistic" {
		t.Errorf("Get() after failed persist = %v, want [optimistic]", got)
	}
}

func TestReloadAppliesNewerVersion(t *testing.T) {
	store := newFakeStore()
	store.set(KeyPosts, 1, []string{"old"})
	s := newTestSlice(store)
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}

	// Another session wrote version 2.
	store.set(KeyPosts, 2, []string{"new"})

	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := s.Get(); len(got) != 1 || got[0] != "new" {
		t.Errorf("Get() after reload = %v, want [new]", got)
	}
	if v := s.Version(); v != 2 {
		t.Errorf("Version() = %d, want 2", v)
	}
}

func TestReloadDiscardsStaleVersion(t *testing.T) {
	store := newFakeStore()
	store.set(KeyPosts, 5, []string{"current"})
	s := newTestSlice(store)
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}

	// The remote hands back the same version with different bytes, as an
	// echo of this session's own write would.
	store.set(KeyPosts, 5, []string{"echo"})

	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := s.Get(); len(got) != 1 || got[0] != "current" {
		t.Errorf("Get() after stale reload = %v, want [current]", got)
	}
}

func TestReloadMissingRowIsNoop(t *testing.T) {
	store := newFakeStore()
	s := newTestSlice(store)
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	s.Mutate(func(v []string) []string { return append(v, "x") })
	s.Flush()

	store.mu.Lock()
	delete(store.rows, KeyPosts)
	store.mu.Unlock()

	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() with missing row error = %v", err)
	}
	if got := s.Get(); len(got) != 1 || got[0] != "x" {
		t.Errorf("Get() = %v, want [x]", got)
	}
}

func TestRekeyDropsValueAndRehydrates(t *testing.T) {
	store := newFakeStore()
	oldKey := PartitionKey(KeyHistory, "u1")
	newKey := PartitionKey(KeyHistory, "u2")
	store.set(oldKey, 4, []string{"u1-entry"})
	store.set(newKey, 9, []string{"u2-entry"})

	s := NewSlice(store, oldKey, func() []string { return []string{} }, nil)
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}

	if err := s.Rekey(context.Background(), newKey); err != nil {
		t.Fatalf("Rekey() error = %v", err)
	}
	if got := s.Key(); got != newKey {
		t.Errorf("Key() = %q, want %q", got, newKey)
	}
	if got := s.Get(); len(got) != 1 || got[0] != "u2-entry" {
		t.Errorf("Get() after rekey = %v, want [u2-entry]", got)
	}
	if v := s.Version(); v != 9 {
		t.Errorf("Version() = %d, want 9 (old key's version must not leak)", v)
	}
}

func TestRekeySameKeyIsNoop(t *testing.T) {
	store := newFakeStore()
	s := newTestSlice(store)
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	s.Mutate(func(v []string) []string { return append(v, "keep") })
	s.Flush()

	if err := s.Rekey(context.Background(), KeyPosts); err != nil {
		t.Fatalf("Rekey() error = %v", err)
	}
	if got := s.Get(); len(got) != 1 || got[0] != "keep" {
		t.Errorf("Get() after same-key rekey = %v, want [keep]", got)
	}
}

func TestConcurrentMutations(t *testing.T) {
	store := newFakeStore()
	s := newTestSlice(store)
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Mutate(func(v []string) []string {
				return append(v, fmt.Sprintf("m%d", i))
			})
		}(i)
	}
	wg.Wait()
	s.Flush()

	if got := len(s.Get()); got != n {
		t.Errorf("len(Get()) = %d, want %d", got, n)
	}
}
