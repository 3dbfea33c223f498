// Package feed delivers change notifications for backend resources. The
// dashboard never reads data from the feed; an event only signals that a
// category changed and a coalesced refetch should follow.
package feed

import "time"

// Event signals a change in one resource category.
type Event struct {
	// Category names the changed data family, e.g. "notifications" or
	// "attendance". It matches the topic suffix on the kafka source.
	Category  string
	Resource  string
	Timestamp time.Time
}

// Handler receives events for a subscribed category. Handlers must be quick;
// sources dispatch them inline.
type Handler func(Event)

// Source is a stream of change events. Subscribe registers a handler for one
// category and returns its unsubscribe function.
type Source interface {
	Subscribe(category string, h Handler) (func(), error)
	Close() error
}
