// Package stream provides a real-time in-process broker for run and step
// lifecycle events. The Broker implements the hook lifecycle interfaces,
// so registering it as a hook fans every run transition out to connected
// subscribers via topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Run events.
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"
	EventRunPaused    EventType = "run.paused"
	EventRunResumed   EventType = "run.resumed"
	EventRunCancelled EventType = "run.cancelled"

	// Step events.
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"
	EventStepRetrying  EventType = "step.retrying"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// RunID and WorkflowID locate the run the event belongs to.
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// RunEventData is the payload for run lifecycle events.
type RunEventData struct {
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	Reason    string `json:"reason,omitempty"`
	StepName  string `json:"step_name,omitempty"`
	TimedOut  bool   `json:"timed_out,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}

// StepEventData is the payload for step lifecycle events.
type StepEventData struct {
	StepName  string `json:"step_name"`
	Attempt   int    `json:"attempt,omitempty"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	DelayMs   int64  `json:"delay_ms,omitempty"`
}
