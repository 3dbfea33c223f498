package feed

import (
	"sync"
	"time"
)

// Bus is an in-process Source for tests and single-node deployments. Publish
// dispatches synchronously to the handlers subscribed at that moment.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]Handler)}
}

// Subscribe registers a handler for the category.
func (b *Bus) Subscribe(category string, h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[category] == nil {
		b.subs[category] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[category][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[category], id)
	}, nil
}

// Publish delivers the event to current subscribers of its category.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(b.subs[ev.Category]))
	for _, h := range b.subs[ev.Category] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Close drops all subscriptions and stops delivery.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[int]Handler)
	return nil
}
