package scanner

import (
	"sync"
	"time"
)

// EventType classifies a device-table change for listeners.
type EventType string

const (
	// EventFound fires when a previously-unknown address occupies a slot.
	EventFound EventType = "found"
	// EventUpdated fires on every subsequent change to an occupied slot.
	EventUpdated EventType = "updated"
	// EventLost fires when the liveness sweep deactivates a slot.
	EventLost EventType = "lost"
)

// Event is delivered to listeners with a snapshot of the affected entry.
type Event struct {
	Type      EventType `json:"type"`
	Index     int       `json:"index"`
	Entry     Entry     `json:"entry"`
	Timestamp time.Time `json:"timestamp"`
}

type subscriber struct {
	ch chan Event
}

// EventBus fans device-table events out to registered listeners. The core
// never holds a strong reference to listener state beyond the channel; a
// listener unsubscribes by calling the returned function.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a listener. The returned channel is buffered; a
// consumer that falls behind misses events rather than stalling the worker.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, 32)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.ch)
	}
	return s.ch, unsub
}

// Publish delivers an event to every subscriber without blocking.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			// Slow consumer, drop.
		}
	}
}
