package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/id"
)

// PublishEvent persists an event and appends it to its name's pending
// queue, preserving publish order.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("loom/redis: encode event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, eventKey(evt.ID.String()), data, 0)
	pipe.RPush(ctx, eventPendingKey(evt.Name), evt.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: publish event: %w", err)
	}
	return nil
}

// NextEvent returns the oldest unacked event with the given name.
func (s *Store) NextEvent(ctx context.Context, name string) (*event.Event, error) {
	eventID, err := s.client.LIndex(ctx, eventPendingKey(name), 0).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, loom.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loom/redis: next event: %w", err)
	}

	data, err := s.client.Get(ctx, eventKey(eventID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		// Dangling queue entry; drop it and retry once.
		s.client.LRem(ctx, eventPendingKey(name), 1, eventID)
		return s.NextEvent(ctx, name)
	}
	if err != nil {
		return nil, fmt.Errorf("loom/redis: get event: %w", err)
	}

	var evt event.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("loom/redis: decode event: %w", err)
	}
	return &evt, nil
}

// AckEvent marks an event consumed and removes it from its pending queue.
func (s *Store) AckEvent(ctx context.Context, eventID id.EventID) error {
	data, err := s.client.Get(ctx, eventKey(eventID.String())).Bytes()
	if errors.Is(err, goredis.Nil) {
		return loom.ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("loom/redis: get event: %w", err)
	}

	var evt event.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return fmt.Errorf("loom/redis: decode event: %w", err)
	}
	evt.Acked = true
	updated, err := json.Marshal(&evt)
	if err != nil {
		return fmt.Errorf("loom/redis: encode event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, eventKey(eventID.String()), updated, 0)
	pipe.LRem(ctx, eventPendingKey(evt.Name), 1, eventID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: ack event: %w", err)
	}
	return nil
}
