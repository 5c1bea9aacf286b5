package workflow

import (
	"encoding/json"
	"time"

	"github.com/loomhq/loom/id"
)

// RunState is the lifecycle state of a workflow run.
type RunState string

// Run lifecycle states. Completed, Failed, and Cancelled are absorbing.
const (
	RunStatePending   RunState = "pending"
	RunStateRunning   RunState = "running"
	RunStatePaused    RunState = "paused"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
	RunStateCancelled RunState = "cancelled"
)

// Terminal reports whether s is an absorbing state.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateCompleted, RunStateFailed, RunStateCancelled:
		return true
	default:
		return false
	}
}

// FrameKind discriminates cursor frames.
type FrameKind string

// Frame kinds: a plain sequence position, or a While iteration.
const (
	FrameSeq   FrameKind = "seq"
	FrameWhile FrameKind = "while"
)

// Frame is one level of the interpreter's position: an index into the
// active node sequence, plus loop bookkeeping for While frames.
type Frame struct {
	Kind FrameKind `json:"kind"`

	// Index is the next node to execute within this sequence.
	Index int `json:"index"`

	// Node is the While node's index in the parent sequence
	// (While frames only).
	Node int `json:"node,omitempty"`

	// Iteration counts completed loop iterations (While frames only).
	Iteration int `json:"iteration,omitempty"`
}

// Cursor is the interpreter's persisted position within a run's node
// sequence, including nested loop context. The interpreter must be able
// to re-enter a run from the Cursor and step records alone.
type Cursor struct {
	Frames []Frame `json:"frames"`
}

// Root returns a cursor positioned at the first top-level node.
func Root() Cursor {
	return Cursor{Frames: []Frame{{Kind: FrameSeq, Index: 0}}}
}

// Run is one execution instance of a workflow definition. Runs are
// mutated only by the interpreter and step executor (single writer) and
// destroyed only by explicit cleanup.
type Run struct {
	ID         id.RunID `json:"id"`
	WorkflowID string   `json:"workflow_id"`
	Version    int      `json:"version"`
	State      RunState `json:"state"`

	// Payload is the trigger input, immutable for the run.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Cursor is the persisted interpreter position.
	Cursor Cursor `json:"cursor"`

	// Error carries the terminal error for failed runs.
	Error string `json:"error,omitempty"`

	// CancelReason is set when the run was cancelled.
	CancelReason string `json:"cancel_reason,omitempty"`

	// ParentRunID links a subflow run to its parent.
	ParentRunID *id.RunID `json:"parent_run_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StepStatus is the terminal or in-flight status of one step attempt.
type StepStatus string

// Step attempt statuses.
const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusCached    StepStatus = "cached"
)

// StepRecord is one executed node attempt within a run. Records are
// append-only: retries create new attempts rather than overwriting, so
// the full history survives for audit and replay.
type StepRecord struct {
	ID       id.StepID  `json:"id"`
	RunID    id.RunID   `json:"run_id"`
	StepName string     `json:"step_name"`
	Status   StepStatus `json:"status"`

	// Attempt numbers invocations of the same node, starting at 1.
	Attempt int `json:"attempt"`

	// Output is present iff Status is succeeded or cached.
	Output json.RawMessage `json:"output,omitempty"`

	// Error is present iff Status is failed.
	Error string `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
