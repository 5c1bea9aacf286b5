// Package pause implements human-in-the-loop and wait-for-event
// suspension: durable single-use tokens, a timeout watcher, and the
// coordinator that re-enters the interpreter when a token is consumed.
package pause

import (
	"time"

	"github.com/loomhq/loom/id"
)

// Consumer records which path consumed a token. Exactly one wins;
// the losers observe ErrTokenConsumed or ErrTokenExpired.
type Consumer string

// Token consumers.
const (
	ConsumedByResume  Consumer = "resume"
	ConsumedByTimeout Consumer = "timeout"
	ConsumedByEvent   Consumer = "event"
	ConsumedByCancel  Consumer = "cancel"
)

// Token represents a suspended run awaiting external input. The token
// string is the unguessable single-use handle handed to the external
// party; consuming it resumes the run at the node after the one that
// created it.
type Token struct {
	ID    id.PauseID `json:"id"`
	Token string     `json:"token"`

	RunID    id.RunID `json:"run_id"`
	NodeName string   `json:"node_name"`

	// EventName is set for waitForEvent suspensions; empty for
	// human-in-the-loop tokens.
	EventName string `json:"event_name,omitempty"`

	Description string `json:"description,omitempty"`

	Consumed   bool     `json:"consumed"`
	ConsumedBy Consumer `json:"consumed_by,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	TimeoutAt *time.Time `json:"timeout_at,omitempty"`
}

// Expired reports whether the token's timeout has passed at now.
func (t *Token) Expired(now time.Time) bool {
	return t.TimeoutAt != nil && !t.TimeoutAt.After(now)
}
