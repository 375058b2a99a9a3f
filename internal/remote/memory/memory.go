// Package memory implements the remote row store in process memory. It is
// the backend for tests and for single-binary demos where several engines
// share one store to exercise cross-session reconciliation.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/huddle/internal/remote"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

const feedBuffer = 256

// Store holds rows in memory and broadcasts writes to subscribed feeds.
type Store struct {
	log *slog.Logger

	mu     sync.RWMutex
	rows   map[string]remote.Row
	feeds  map[*feed]struct{}
	closed bool
}

// New returns an empty in-memory store.
func New(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		log:   log,
		rows:  make(map[string]remote.Row),
		feeds: make(map[*feed]struct{}),
	}
}

func (s *Store) Fetch(ctx context.Context, key string) (*remote.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	row, ok := s.rows[key]
	if !ok {
		return nil, remote.ErrNotFound
	}
	out := row
	out.Value = append(json.RawMessage(nil), row.Value...)
	return &out, nil
}

func (s *Store) Upsert(ctx context.Context, key string, value json.RawMessage) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	row := s.rows[key]
	row.Key = key
	row.Value = append(json.RawMessage(nil), value...)
	row.Version++
	row.UpdatedAt = time.Now().UTC()
	s.rows[key] = row

	change := remote.Change{Key: key, Version: row.Version}
	targets := make([]*feed, 0, len(s.feeds))
	for f := range s.feeds {
		if f.wants(key) {
			targets = append(targets, f)
		}
	}
	s.mu.Unlock()

	for _, f := range targets {
		f.deliver(change)
	}
	return change.Version, nil
}

func (s *Store) Changefeed(ctx context.Context, keys []string) (remote.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	f := newFeed(s, keys)
	s.feeds[f] = struct{}{}
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			f.Close()
		}()
	}
	return f, nil
}

// Close drops all rows and terminates every open feed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	open := make([]*feed, 0, len(s.feeds))
	for f := range s.feeds {
		open = append(open, f)
	}
	s.feeds = make(map[*feed]struct{})
	s.mu.Unlock()

	for _, f := range open {
		f.Close()
	}
	return nil
}

type feed struct {
	store *Store
	keys  map[string]struct{} // nil means all keys
	ch    chan remote.Change

	mu     sync.Mutex
	closed bool
	err    error
}

func newFeed(s *Store, keys []string) *feed {
	f := &feed{store: s, ch: make(chan remote.Change, feedBuffer)}
	if len(keys) > 0 {
		f.keys = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			f.keys[k] = struct{}{}
		}
	}
	return f
}

func (f *feed) wants(key string) bool {
	if f.keys == nil {
		return true
	}
	_, ok := f.keys[key]
	return ok
}

func (f *feed) deliver(c remote.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- c:
	default:
		// Slow consumer. Dropping is fine: the consumer reconverges on
		// its next reload.
		f.store.log.Debug("memory feed: dropping change", "key", c.Key, "version", c.Version)
	}
}

func (f *feed) Events() <-chan remote.Change { return f.ch }

func (f *feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.ch)
	f.mu.Unlock()

	f.store.mu.Lock()
	delete(f.store.feeds, f)
	f.store.mu.Unlock()
	return nil
}
