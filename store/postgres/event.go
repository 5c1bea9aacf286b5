package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/id"
)

// PublishEvent persists a new event and makes it available to waiters.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO loom_events (id, name, payload, acked, created_at)
		VALUES ($1, $2, $3, FALSE, $4)`,
		evt.ID.String(), evt.Name, []byte(evt.Payload), evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("loom/postgres: publish event: %w", err)
	}
	return nil
}

// NextEvent returns the oldest unacked event with the given name.
func (s *Store) NextEvent(ctx context.Context, name string) (*event.Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, payload, acked, created_at FROM loom_events
		WHERE name = $1 AND NOT acked
		ORDER BY created_at ASC
		LIMIT 1`, name)

	var (
		rawID, evtName string
		payload        []byte
		acked          bool
		createdAt      time.Time
	)
	err := row.Scan(&rawID, &evtName, &payload, &acked, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, loom.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: next event: %w", err)
	}

	eventID, err := id.ParseEventID(rawID)
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: event id: %w", err)
	}
	return &event.Event{
		ID:        eventID,
		Name:      evtName,
		Payload:   payload,
		Acked:     acked,
		CreatedAt: createdAt,
	}, nil
}

// AckEvent acknowledges an event, marking it consumed.
func (s *Store) AckEvent(ctx context.Context, eventID id.EventID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE loom_events SET acked = TRUE WHERE id = $1 AND NOT acked`,
		eventID.String())
	if err != nil {
		return fmt.Errorf("loom/postgres: ack event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrEventNotFound
	}
	return nil
}
