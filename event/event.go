// Package event provides the event bus that unblocks waitForEvent
// suspensions. Events are persisted so a publish that races a process
// restart is still observed by the run that awaits it.
package event

import (
	"encoding/json"
	"time"

	"github.com/loomhq/loom/id"
)

// Event is a named event published to the bus. Suspended runs waiting on
// the event's name consume it to resume.
type Event struct {
	ID        id.EventID      `json:"id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Acked     bool            `json:"acked"`
	CreatedAt time.Time       `json:"created_at"`
}

// PayloadMap decodes the event payload into the map form recorded as a
// waiting node's output. The event name is always present under "event";
// a payload that is not a JSON object is kept whole under "payload".
func (e *Event) PayloadMap() map[string]any {
	out := map[string]any{"event": e.Name}
	if len(e.Payload) == 0 {
		return out
	}
	var fields map[string]any
	if err := json.Unmarshal(e.Payload, &fields); err != nil {
		out["payload"] = string(e.Payload)
		return out
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
