package store

import "context"

// EventType classifies a change-feed event.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventModify EventType = "MODIFY"
	EventRemove EventType = "REMOVE"
)

// Event is one change notification from the store's change feed. Old is nil
// for inserts, New is nil for removes.
type Event struct {
	Type EventType
	User string
	SK   string
	Old  *Record
	New  *Record
}

// Notifier receives change-event batches. Implementations must tolerate
// at-least-once delivery; events for a single (user, sk) arrive in order.
type Notifier interface {
	Notify(ctx context.Context, events []Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, events []Event)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, events []Event) { f(ctx, events) }

// eventFor builds the change event for a write, given the previous value.
func eventFor(old *Record, rec Record) Event {
	typ := EventInsert
	if old != nil {
		typ = EventModify
	}
	r := rec
	return Event{Type: typ, User: rec.User, SK: rec.SK, Old: old, New: &r}
}

// removeEvent builds the change event for a delete.
func removeEvent(old Record) Event {
	o := old
	return Event{Type: EventRemove, User: old.User, SK: old.SK, Old: &o}
}
