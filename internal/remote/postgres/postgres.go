// Package postgres persists remote rows in PostgreSQL. Writes bump a
// per-key version and announce themselves on a NOTIFY channel, so the
// changefeed delivers events without polling and across every connected
// session.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marcus/huddle/internal/remote"
)

const schema = `
CREATE TABLE IF NOT EXISTS rows (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	version    BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// NotifyChannel is the pg_notify channel row writes are announced on.
const NotifyChannel = "huddle_rows"

// Store is a remote.Store over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// New connects to dsn, verifies the connection, and ensures the schema.
func New(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Fetch(ctx context.Context, key string) (*remote.Row, error) {
	row := &remote.Row{Key: key}
	err := s.pool.QueryRow(ctx,
		"SELECT value, version, updated_at FROM rows WHERE key = $1", key,
	).Scan(&row.Value, &row.Version, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, remote.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch row %s: %w", key, err)
	}
	return row, nil
}

func (s *Store) Upsert(ctx context.Context, key string, value json.RawMessage) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rows (key, value, version, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (key) DO UPDATE SET
			value      = EXCLUDED.value,
			version    = rows.version + 1,
			updated_at = now()
		RETURNING version`,
		key, value,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("upsert row %s: %w", key, err)
	}

	payload, err := encodeNotification(remote.Change{Key: key, Version: version})
	if err != nil {
		return 0, err
	}
	if _, err := s.pool.Exec(ctx, "SELECT pg_notify($1, $2)", NotifyChannel, payload); err != nil {
		// The write is durable; peers that miss the notification catch
		// up on their next reload.
		s.log.Warn("postgres: notify failed", "key", key, "error", err)
	}
	return version, nil
}

// Changefeed holds one pooled connection on LISTEN for the lifetime of the
// feed.
func (s *Store) Changefeed(ctx context.Context, keys []string) (remote.Feed, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	f := &feed{
		conn:   conn,
		cancel: cancel,
		ch:     make(chan remote.Change, 64),
		keys:   keySet(keys),
		log:    s.log,
	}
	go f.run(runCtx)
	return f, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func encodeNotification(c remote.Change) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}
	return string(data), nil
}

func decodeNotification(payload string) (remote.Change, error) {
	var c remote.Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return remote.Change{}, fmt.Errorf("decode notification: %w", err)
	}
	if c.Key == "" {
		return remote.Change{}, errors.New("notification has no key")
	}
	return c, nil
}

func keySet(keys []string) map[string]struct{} {
	if len(keys) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

type feed struct {
	conn   *pgxpool.Conn
	cancel context.CancelFunc
	ch     chan remote.Change
	keys   map[string]struct{} // nil means all keys
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
	err    error
}

func (f *feed) run(ctx context.Context) {
	for {
		n, err := f.conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				f.finish(nil)
			} else {
				f.finish(fmt.Errorf("wait for notification: %w", err))
			}
			return
		}

		change, err := decodeNotification(n.Payload)
		if err != nil {
			f.log.Warn("postgres feed: bad notification", "payload", n.Payload, "error", err)
			continue
		}
		if !f.wants(change.Key) {
			continue
		}
		select {
		case f.ch <- change:
		default:
			f.log.Debug("postgres feed: dropping change", "key", change.Key, "version", change.Version)
		}
	}
}

func (f *feed) wants(key string) bool {
	if f.keys == nil {
		return true
	}
	_, ok := f.keys[key]
	return ok
}

func (f *feed) finish(err error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.err = err
	close(f.ch)
	f.mu.Unlock()

	f.conn.Release()
}

func (f *feed) Events() <-chan remote.Change { return f.ch }

func (f *feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *feed) Close() error {
	f.cancel()
	return nil
}
