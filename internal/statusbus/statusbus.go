// Package statusbus is the in-process publish/subscribe channel for link
// state, packet text and buffer occupancy events. Delivery to subscribers
// is best-effort: a subscriber that stops draining its channel loses events
// rather than stalling the sender loop. Guaranteed delivery applies only to
// the device-bound packet path, which never goes through the bus.
package statusbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic selects a class of events.
type Topic string

const (
	TopicConnectionState Topic = "connection_state"
	TopicPacketText      Topic = "packet_text"
	TopicBufferOccupancy Topic = "buffer_occupancy"
)

// Event is one published occurrence. State is set for connection_state
// events, Text for packet/state detail, Buffered for buffer_occupancy.
type Event struct {
	Topic    Topic     `json:"topic"`
	State    string    `json:"state,omitempty"`
	Text     string    `json:"text,omitempty"`
	Buffered int       `json:"buffered,omitempty"`
	At       time.Time `json:"at"`
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber more
// than this many events behind starts losing them.
const subscriberBuffer = 16

type subscriber struct {
	ch     chan Event
	topics map[Topic]bool // empty means all topics
}

func (s *subscriber) wants(t Topic) bool {
	return len(s.topics) == 0 || s.topics[t]
}

// Bus fans events out to subscribers in publish order.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]*subscriber
	closed bool
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers interest in the given topics (none means every
// topic) and returns the subscription ID used to unsubscribe, plus the
// event channel. The channel is closed on Unsubscribe or bus Close.
func (b *Bus) Subscribe(topics ...Topic) (string, <-chan Event) {
	sub := &subscriber{
		ch:     make(chan Event, subscriberBuffer),
		topics: make(map[Topic]bool, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return id, sub.ch
	}
	b.subs[id] = sub
	return id, sub.ch
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish delivers ev to every interested subscriber without blocking; a
// full subscriber channel drops the event for that subscriber only.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.wants(ev.Topic) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// slow subscriber: drop rather than stall the publisher
		}
	}
}

// Close closes every subscriber channel and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
