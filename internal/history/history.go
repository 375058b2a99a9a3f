// Package history manages the per-identity navigation stack. The stack is
// an ordinary synchronized slice underneath, so it persists across restarts
// and reconciles between sessions like any other collection.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/marcus/huddle/internal/state"
)

// PageID identifies one navigable page of the client.
type PageID string

const (
	PageFeed     PageID = "feed"
	PageMembers  PageID = "members"
	PageMessages PageID = "messages"
	PageCollabs  PageID = "collabs"
	PageAlerts   PageID = "alerts"
	PageSettings PageID = "settings"
)

// Entry is one record in the navigation stack. Context carries page
// parameters (a peer user id, a collaboration id); ScrollTop is the scroll
// offset captured when the page was left.
type Entry struct {
	Page      PageID         `json:"page"`
	Context   map[string]any `json:"context,omitempty"`
	ScrollTop int            `json:"scroll_top,omitempty"`
}

// DefaultStack returns the single-entry stack every identity starts with.
func DefaultStack() []Entry {
	return []Entry{{Page: PageFeed}}
}

// ScrollSource reports the active surface's current scroll offset.
type ScrollSource func() int

// ScrollRestorer repositions the active surface. It runs synchronously
// within the navigation call, before the next paint.
type ScrollRestorer func(offset int)

// Stack wraps the history slice with the navigation operations. All
// methods are safe for concurrent use; reconciliation may replace the
// underlying slice value at any time.
type Stack struct {
	slice *state.Slice[[]Entry]

	mu      sync.Mutex
	source  ScrollSource
	restore ScrollRestorer
}

// NewStack wraps an existing history slice.
func NewStack(slice *state.Slice[[]Entry]) *Stack {
	return &Stack{slice: slice}
}

// Slice exposes the underlying synchronized slice.
func (s *Stack) Slice() *state.Slice[[]Entry] { return s.slice }

// SetScrollHooks registers the scroll capture and restore surface. Either
// may be nil.
func (s *Stack) SetScrollHooks(source ScrollSource, restore ScrollRestorer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
	s.restore = restore
}

// Current returns the top entry. The stack always holds at least the
// default entry, so this never fails once the slice is seeded.
func (s *Stack) Current() Entry {
	entries := s.slice.Get()
	if len(entries) == 0 {
		return DefaultStack()[0]
	}
	return entries[len(entries)-1]
}

// Depth returns the number of entries on the stack.
func (s *Stack) Depth() int { return len(s.slice.Get()) }

// CanGoBack reports whether a GoBack would pop an entry.
func (s *Stack) CanGoBack() bool { return s.Depth() > 1 }

// Navigate pushes a new entry for (page, pageCtx). When the target equals
// the current top structurally, nothing happens. Otherwise the current
// scroll offset is captured onto the outgoing top and the surface is reset
// to the top for the new page. Returns whether an entry was pushed.
func (s *Stack) Navigate(page PageID, pageCtx map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pushed := s.slice.MutateIf(func(entries []Entry) ([]Entry, bool) {
		if len(entries) > 0 {
			top := entries[len(entries)-1]
			if top.Page == page && contextEqual(top.Context, pageCtx) {
				return entries, false
			}
		}
		next := make([]Entry, len(entries), len(entries)+1)
		copy(next, entries)
		if len(next) > 0 && s.source != nil {
			next[len(next)-1].ScrollTop = s.source()
		}
		return append(next, Entry{Page: page, Context: pageCtx}), true
	})
	if pushed && s.restore != nil {
		s.restore(0)
	}
	return pushed
}

// GoBack pops the top entry and restores the revealed entry's scroll
// offset. A no-op when only the root entry remains. Returns whether an
// entry was popped.
func (s *Stack) GoBack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var revealed Entry
	popped := s.slice.MutateIf(func(entries []Entry) ([]Entry, bool) {
		if len(entries) <= 1 {
			return entries, false
		}
		next := make([]Entry, len(entries)-1)
		copy(next, entries[:len(entries)-1])
		revealed = next[len(next)-1]
		return next, true
	})
	if popped && s.restore != nil {
		s.restore(revealed.ScrollTop)
	}
	return popped
}

// UpdateCurrentContext shallow-merges patch into the top entry's context
// without pushing a new entry or touching scroll state.
func (s *Stack) UpdateCurrentContext(patch map[string]any) {
	if len(patch) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slice.MutateIf(func(entries []Entry) ([]Entry, bool) {
		if len(entries) == 0 {
			return entries, false
		}
		next := make([]Entry, len(entries))
		copy(next, entries)
		top := &next[len(next)-1]
		merged := make(map[string]any, len(top.Context)+len(patch))
		for k, v := range top.Context {
			merged[k] = v
		}
		for k, v := range patch {
			merged[k] = v
		}
		top.Context = merged
		return next, true
	})
}

// CaptureScroll records the current surface offset onto the top entry so a
// later return restores the position. Called by surfaces on significant
// scroll settling.
func (s *Stack) CaptureScroll() {
	s.mu.Lock()
	source := s.source
	s.mu.Unlock()
	if source == nil {
		return
	}
	offset := source()

	s.slice.MutateIf(func(entries []Entry) ([]Entry, bool) {
		if len(entries) == 0 {
			return entries, false
		}
		if entries[len(entries)-1].ScrollTop == offset {
			return entries, false
		}
		next := make([]Entry, len(entries))
		copy(next, entries)
		next[len(next)-1].ScrollTop = offset
		return next, true
	})
}

// ResetForIdentity re-keys the stack to the identity's partition and
// resets it to a single default entry. The reset is persisted so every
// session of the identity starts the sign-in from the same place.
func (s *Stack) ResetForIdentity(ctx context.Context, userID string) error {
	err := s.slice.Rekey(ctx, state.PartitionKey(state.KeyHistory, userID))
	s.slice.Mutate(func([]Entry) []Entry { return DefaultStack() })
	s.mu.Lock()
	restore := s.restore
	s.mu.Unlock()
	if restore != nil {
		restore(0)
	}
	return err
}

// contextEqual compares contexts structurally via their canonical JSON
// encoding, so values that round-tripped through the store compare equal
// to freshly built ones.
func contextEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
