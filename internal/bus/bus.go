// Package bus is the in-process announcement channel for same-session UX
// events (toast fodder). Delivery is at most once and only within this
// process; anything that must reach other sessions goes through the
// synchronized slices, never through here.
package bus

import "sync"

// Event is one announcement. RecipientID scopes delivery to subscribers
// interested in that user; an empty RecipientID reaches everyone.
type Event struct {
	RecipientID string
	Name        string
	Payload     any
}

type subscriber struct {
	ch        chan Event
	recipient string // "" subscribes to all recipients
}

// Bus fans events out to subscribers without blocking publishers. A full
// subscriber buffer drops the event for that subscriber.
type Bus struct {
	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers interest in events for recipientID ("" for all).
// The returned cancel func closes the channel and drops the subscription.
func (b *Bus) Subscribe(recipientID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{ch: make(chan Event, buffer), recipient: recipientID}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers ev to every matching subscriber. Never blocks.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.recipient != "" && ev.RecipientID != "" && sub.recipient != ev.RecipientID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}
