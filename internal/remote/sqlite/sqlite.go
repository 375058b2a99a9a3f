// Package sqlite persists remote rows in a local SQLite database. It is
// the default backend for single-machine use: several huddle processes on
// one host share the database file, and the polling changefeed gives them
// cross-session reconciliation without a server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marcus/huddle/internal/remote"
)

const schema = `
CREATE TABLE IF NOT EXISTS rows (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at TEXT NOT NULL
)`

// DefaultPollInterval is how often feeds check for new versions.
const DefaultPollInterval = time.Second

// Store is a remote.Store over one SQLite database.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	// PollInterval overrides the changefeed poll cadence. Set before the
	// first Changefeed call; tests shorten it.
	PollInterval time.Duration

	mu     sync.Mutex
	closed bool
	feeds  map[*feed]struct{}
}

// Open opens (or creates) the database at path.
func Open(path string, log *slog.Logger) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets concurrent sessions read while one writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	return NewFromDB(conn, log)
}

// NewFromDB wraps an already-open database, creating the schema if needed.
// Tests use this with an in-memory database.
func NewFromDB(db *sql.DB, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	// One connection keeps writes serialized and makes in-memory
	// databases (one per connection otherwise) usable.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{
		db:           db,
		log:          log,
		PollInterval: DefaultPollInterval,
		feeds:        make(map[*feed]struct{}),
	}, nil
}

func (s *Store) Fetch(ctx context.Context, key string) (*remote.Row, error) {
	var (
		value     string
		version   int64
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT value, version, updated_at FROM rows WHERE key = ?", key,
	).Scan(&value, &version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, remote.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch row %s: %w", key, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		ts = time.Time{}
	}
	return &remote.Row{
		Key:       key,
		Value:     json.RawMessage(value),
		Version:   version,
		UpdatedAt: ts,
	}, nil
}

func (s *Store) Upsert(ctx context.Context, key string, value json.RawMessage) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rows (key, value, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			version    = rows.version + 1,
			updated_at = excluded.updated_at
		RETURNING version`,
		key, string(value), time.Now().UTC().Format(time.RFC3339Nano),
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("upsert row %s: %w", key, err)
	}
	return version, nil
}

// Changefeed watches the rows table by polling for version advances. Each
// feed remembers the versions it has reported and emits one change per key
// per advance, regardless of which process wrote it.
func (s *Store) Changefeed(ctx context.Context, keys []string) (remote.Feed, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("store closed")
	}
	f := newFeed(s, keys)
	s.feeds[f] = struct{}{}
	s.mu.Unlock()

	// Baseline at current versions so only writes after subscription are
	// reported.
	if err := f.baseline(ctx); err != nil {
		f.Close()
		return nil, err
	}
	go f.run(ctx)
	return f, nil
}

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
	return s.db.Close()
}

func (s *Store) dropFeed(f *feed) {
	s.mu.Lock()
	delete(s.feeds, f)
	s.mu.Unlock()
}

type feed struct {
	store *Store
	keys  map[string]struct{} // nil means all keys
	ch    chan remote.Change
	stop  chan struct{}

	mu     sync.Mutex
	seen   map[string]int64
	closed bool
	err    error
}

func newFeed(s *Store, keys []string) *feed {
	f := &feed{
		store: s,
		ch:    make(chan remote.Change, 64),
		stop:  make(chan struct{}),
		seen:  make(map[string]int64),
	}
	if len(keys) > 0 {
		f.keys = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			f.keys[k] = struct{}{}
		}
	}
	return f
}

func (f *feed) baseline(ctx context.Context) error {
	versions, err := f.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("baseline changefeed: %w", err)
	}
	f.mu.Lock()
	f.seen = versions
	f.mu.Unlock()
	return nil
}

func (f *feed) snapshot(ctx context.Context) (map[string]int64, error) {
	rows, err := f.store.db.QueryContext(ctx, "SELECT key, version FROM rows")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			key     string
			version int64
		)
		if err := rows.Scan(&key, &version); err != nil {
			return nil, err
		}
		if f.wants(key) {
			out[key] = version
		}
	}
	return out, rows.Err()
}

func (f *feed) wants(key string) bool {
	if f.keys == nil {
		return true
	}
	_, ok := f.keys[key]
	return ok
}

func (f *feed) run(ctx context.Context) {
	interval := f.store.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.Close()
			return
		case <-f.stop:
			return
		case <-ticker.C:
		}

		versions, err := f.snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				f.Close()
				return
			}
			f.fail(fmt.Errorf("poll changefeed: %w", err))
			return
		}
		f.emitAdvances(versions)
	}
}

func (f *feed) emitAdvances(versions map[string]int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for key, version := range versions {
		if version <= f.seen[key] {
			continue
		}
		f.seen[key] = version
		select {
		case f.ch <- remote.Change{Key: key, Version: version}:
		default:
			// Slow consumer: the next reload reconverges.
			f.store.log.Debug("sqlite feed: dropping change", "key", key, "version", version)
		}
	}
}

func (f *feed) fail(err error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.err = err
	close(f.ch)
	f.mu.Unlock()

	close(f.stop)
	f.store.dropFeed(f)
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

	close(f.stop)
	f.store.dropFeed(f)
	return nil
}
