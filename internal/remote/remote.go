// Package remote defines the durable row store the state engine syncs
// against. The key space is the set of slice keys; each key maps to exactly
// one row holding the collection's JSON value and a per-key monotonic
// version assigned by the store on every write.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by Fetch when no row exists for the key.
var ErrNotFound = errors.New("row not found")

// Row is one durable record.
type Row struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Change announces that a row was written. Version is the version the
// write produced.
type Change struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
}

// Feed is a live subscription to row changes. Events is closed when the
// feed fails or is closed; Err reports the failure cause, nil after a
// clean Close.
type Feed interface {
	Events() <-chan Change
	Err() error
	Close() error
}

// Store is the remote row store contract.
//
// Changefeed subscribes to writes on the given keys; an empty key list
// subscribes to the whole key space. Implementations deliver changes
// best-effort: a dropped event is recovered by the next reload or manual
// refresh, never by blocking writers.
type Store interface {
	Fetch(ctx context.Context, key string) (*Row, error)
	Upsert(ctx context.Context, key string, value json.RawMessage) (int64, error)
	Changefeed(ctx context.Context, keys []string) (Feed, error)
	Close() error
}
