// Package reconcile owns the single remote changefeed subscription and fans
// incoming change events out to the matching slices. One bus per engine;
// every slice shares it.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/marcus/huddle/internal/metrics"
	"github.com/marcus/huddle/internal/remote"
	"github.com/marcus/huddle/internal/state"
)

// State is the lifecycle state of the reconciliation channel.
type State string

const (
	StateClosed       State = "closed"
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateChannelError State = "channel_error"
)

func stateGauge(s State) float64 {
	switch s {
	case StateConnecting:
		return 1
	case StateSubscribed:
		return 2
	case StateChannelError:
		return 3
	default:
		return 0
	}
}

// Bus subscribes to the remote changefeed for every registered slice key
// and reloads the matching slice on each event. A failed channel moves to
// channel_error and stays there: the bus never retries on its own, the
// manual refresh path covers freshness until someone reopens it.
type Bus struct {
	store    remote.Store
	registry *state.Registry
	log      *slog.Logger

	mu      sync.Mutex
	current State
	feed    remote.Feed
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a closed bus.
func New(store remote.Store, registry *state.Registry, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		store:    store,
		registry: registry,
		log:      log,
		current:  StateClosed,
	}
}

// State returns the channel's current lifecycle state.
func (b *Bus) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Open subscribes to the changefeed for all currently registered keys. A
// bus that is already connecting or subscribed is left alone.
func (b *Bus) Open(ctx context.Context) error {
	b.mu.Lock()
	if b.current == StateConnecting || b.current == StateSubscribed {
		b.mu.Unlock()
		return nil
	}
	b.current = StateConnecting
	metrics.ChannelState.Set(stateGauge(StateConnecting))
	b.mu.Unlock()

	keys := b.registry.Keys()
	// The feed must outlive the opener's context: Open is called from
	// session-change handlers whose contexts end with the handler, while
	// the subscription lasts until Close or Reopen.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	feed, err := b.store.Changefeed(runCtx, keys)
	if err != nil {
		cancel()
		b.setState(StateChannelError)
		return fmt.Errorf("open changefeed: %w", err)
	}

	done := make(chan struct{})
	b.mu.Lock()
	b.feed = feed
	b.cancel = cancel
	b.done = done
	b.current = StateSubscribed
	metrics.ChannelState.Set(stateGauge(StateSubscribed))
	b.mu.Unlock()

	b.log.Debug("reconcile: subscribed", "keys", len(keys))
	go b.run(runCtx, feed, done)
	return nil
}

func (b *Bus) run(ctx context.Context, feed remote.Feed, done chan struct{}) {
	defer close(done)
	for change := range feed.Events() {
		b.registry.Dispatch(ctx, change.Key)
	}
	if err := feed.Err(); err != nil {
		b.log.Warn("reconcile: channel failed", "error", err)
	}
	// A still-subscribed state here means the feed ended without Close;
	// report it instead of staying subscribed over a dead feed.
	b.failIfSubscribed()
}

// failIfSubscribed transitions to channel_error unless Close got there
// first.
func (b *Bus) failIfSubscribed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != StateSubscribed {
		return
	}
	b.current = StateChannelError
	metrics.ChannelState.Set(stateGauge(StateChannelError))
	b.feed = nil
	b.cancel = nil
	b.done = nil
}

func (b *Bus) setState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = s
	metrics.ChannelState.Set(stateGauge(s))
}

// Close tears the subscription down and waits for the event loop to stop.
// Safe to call in any state.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.current != StateSubscribed && b.current != StateConnecting {
		b.current = StateClosed
		metrics.ChannelState.Set(stateGauge(StateClosed))
		b.mu.Unlock()
		return
	}
	b.current = StateClosed
	metrics.ChannelState.Set(stateGauge(StateClosed))
	feed, cancel, done := b.feed, b.cancel, b.done
	b.feed, b.cancel, b.done = nil, nil, nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if feed != nil {
		feed.Close()
	}
	if done != nil {
		<-done
	}
}

// Reopen tears the channel down and subscribes again with the registry's
// current keys. Used after the signed-in identity changes, since the
// partitioned keys change with it.
func (b *Bus) Reopen(ctx context.Context) error {
	b.Close()
	return b.Open(ctx)
}
