package event

import (
	"context"

	"github.com/loomhq/loom/id"
)

// Store defines the persistence contract for events.
type Store interface {
	// PublishEvent persists a new event and makes it available to waiters.
	PublishEvent(ctx context.Context, evt *Event) error

	// NextEvent returns the oldest unacked event with the given name, or
	// loom.ErrEventNotFound if none exists. It does not block: durable
	// suspensions poll at wait-node entry and on publish notification.
	NextEvent(ctx context.Context, name string) (*Event, error)

	// AckEvent acknowledges an event, marking it consumed. Each event is
	// consumed by at most one waiter.
	AckEvent(ctx context.Context, eventID id.EventID) error
}
