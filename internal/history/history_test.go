package history

import (
	"context"
	"testing"

	"github.com/marcus/huddle/internal/remote/memory"
	"github.com/marcus/huddle/internal/state"
)

func newTestStack(t *testing.T) (*Stack, *memory.Store) {
	t.Helper()
	store := memory.New(nil)
	t.Cleanup(func() { store.Close() })
	slice := state.NewSlice(store, state.PartitionKey(state.KeyHistory, "u1"), DefaultStack, nil)
	if err := slice.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	return NewStack(slice), store
}

func TestStackStartsWithDefaultEntry(t *testing.T) {
	s, _ := newTestStack(t)
	if got := s.Depth(); got != 1 {
		t.Fatalf("Depth() = %d, want 1", got)
	}
	if got := s.Current().Page; got != PageFeed {
		t.Errorf("Current().Page = %q, want %q", got, PageFeed)
	}
	if s.CanGoBack() {
		t.Error("CanGoBack() = true for root-only stack")
	}
}

func TestNavigatePushes(t *testing.T) {
	s, _ := newTestStack(t)

	if !s.Navigate(PageMembers, nil) {
		t.Fatal("Navigate() = false, want push")
	}
	if got := s.Depth(); got != 2 {
		t.Errorf("Depth() = %d, want 2", got)
	}
	if got := s.Current().Page; got != PageMembers {
		t.Errorf("Current().Page = %q, want %q", got, PageMembers)
	}
}

func TestNavigateToCurrentTopIsIdempotent(t *testing.T) {
	s, _ := newTestStack(t)
	ctx := map[string]any{"peer": "u2"}

	if !s.Navigate(PageMessages, ctx) {
		t.Fatal("first Navigate() = false, want push")
	}
	if s.Navigate(PageMessages, map[string]any{"peer": "u2"}) {
		t.Error("second Navigate() with equal context pushed, want no-op")
	}
	if got := s.Depth(); got != 2 {
		t.Errorf("Depth() = %d, want 2", got)
	}

	// A different context for the same page is a distinct entry.
	if !s.Navigate(PageMessages, map[string]any{"peer": "u3"}) {
		t.Error("Navigate() with different context = false, want push")
	}
	if got := s.Depth(); got != 3 {
		t.Errorf("Depth() = %d, want 3", got)
	}
}

func TestGoBackPopsAndStopsAtRoot(t *testing.T) {
	s, _ := newTestStack(t)
	s.Navigate(PageMembers, nil)
	s.Navigate(PageSettings, nil)

	if !s.GoBack() {
		t.Fatal("GoBack() = false, want pop")
	}
	if got := s.Current().Page; got != PageMembers {
		t.Errorf("Current().Page = %q, want %q", got, PageMembers)
	}
	if !s.GoBack() {
		t.Fatal("GoBack() = false, want pop")
	}
	if s.GoBack() {
		t.Error("GoBack() at root = true, want no-op")
	}
	if got := s.Depth(); got != 1 {
		t.Errorf("Depth() = %d, want 1 (root preserved)", got)
	}
}

func TestScrollCaptureAndRestore(t *testing.T) {
	s, _ := newTestStack(t)
	offset := 42
	var restored []int
	s.SetScrollHooks(
		func() int { return offset },
		func(o int) { restored = append(restored, o) },
	)

	// Leaving feed captures its offset; the new page starts at the top.
	s.Navigate(PageMembers, nil)
	if len(restored) != 1 || restored[0] != 0 {
		t.Fatalf("restored after navigate = %v, want [0]", restored)
	}

	offset = 7
	if !s.GoBack() {
		t.Fatal("GoBack() = false, want pop")
	}
	if len(restored) != 2 || restored[1] != 42 {
		t.Errorf("restored after back = %v, want [0 42]", restored)
	}
}

func TestUpdateCurrentContextMergesWithoutPush(t *testing.T) {
	s, _ := newTestStack(t)
	s.Navigate(PageMessages, map[string]any{"peer": "u2"})

	s.UpdateCurrentContext(map[string]any{"draft": "hello"})

	if got := s.Depth(); got != 2 {
		t.Errorf("Depth() = %d, want 2 (no push)", got)
	}
	cur := s.Current()
	if cur.Context["peer"] != "u2" || cur.Context["draft"] != "hello" {
		t.Errorf("Context = %v, want peer and draft merged", cur.Context)
	}
}

func TestResetForIdentity(t *testing.T) {
	s, _ := newTestStack(t)
	s.Navigate(PageMembers, nil)
	s.Navigate(PageSettings, nil)

	if err := s.ResetForIdentity(context.Background(), "u9"); err != nil {
		t.Fatalf("ResetForIdentity() error = %v", err)
	}
	if got := s.Slice().Key(); got != "history:u9" {
		t.Errorf("Key() = %q, want history:u9", got)
	}
	if got := s.Depth(); got != 1 {
		t.Errorf("Depth() = %d, want 1", got)
	}
	if got := s.Current().Page; got != PageFeed {
		t.Errorf("Current().Page = %q, want %q", got, PageFeed)
	}
}

func TestStackPersistsAcrossHydration(t *testing.T) {
	s, store := newTestStack(t)
	s.Navigate(PageCollabs, map[string]any{"collab": "c1"})
	s.Slice().Flush()

	// A second stack over the same store and key sees the persisted state.
	slice := state.NewSlice(store, state.PartitionKey(state.KeyHistory, "u1"), DefaultStack, nil)
	if err := slice.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	twin := NewStack(slice)
	if got := twin.Depth(); got != 2 {
		t.Fatalf("twin Depth() = %d, want 2", got)
	}
	cur := twin.Current()
	if cur.Page != PageCollabs || cur.Context["collab"] != "c1" {
		t.Errorf("twin Current() = %+v, want collabs with collab=c1", cur)
	}
}
