package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/loomhq/loom/id"
)

// Handler is an in-process delivery callback invoked after an event is
// persisted. The pause coordinator registers one to wake suspended runs.
type Handler func(ctx context.Context, evt *Event)

// Bus provides publish operations over an event Store plus in-process
// delivery notification. Persistence makes delivery durable; the
// notification is only a latency optimization over the waiters' polling.
type Bus struct {
	store Store

	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an event bus backed by the given store.
func NewBus(store Store) *Bus {
	return &Bus{store: store}
}

// Notify registers an in-process delivery callback.
func (b *Bus) Notify(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish persists a new event and notifies in-process waiters.
func (b *Bus) Publish(ctx context.Context, name string, payload json.RawMessage) (*Event, error) {
	evt := &Event{
		ID:        id.NewEventID(),
		Name:      name,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.store.PublishEvent(ctx, evt); err != nil {
		return nil, err
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, evt)
	}
	return evt, nil
}

// Next returns the oldest unacked event with the given name.
func (b *Bus) Next(ctx context.Context, name string) (*Event, error) {
	return b.store.NextEvent(ctx, name)
}

// Ack acknowledges an event, marking it consumed.
func (b *Bus) Ack(ctx context.Context, eventID id.EventID) error {
	return b.store.AckEvent(ctx, eventID)
}

// Store returns the underlying event store.
func (b *Bus) Store() Store { return b.store }
