package workflow

import (
	"context"

	"github.com/loomhq/loom/id"
)

// ListOpts controls filtering and pagination for run list queries.
type ListOpts struct {
	// WorkflowID filters by definition id. Empty means all workflows.
	WorkflowID string

	// State filters by run state. Empty means all states.
	State RunState

	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int

	// Offset is the number of runs to skip.
	Offset int
}

// Store defines the persistence contract for runs and step records.
// Implementations must be safe for concurrent use from multiple runs and
// from parallel branches of the same run.
type Store interface {
	// CreateRun persists a new run.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing run, including its cursor.
	UpdateRun(ctx context.Context, run *Run) error

	// ListRuns returns runs matching the given options, oldest first.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// CountRuns returns the number of runs matching the given options.
	CountRuns(ctx context.Context, opts ListOpts) (int, error)

	// AppendStepRecord persists a new step attempt record. Records are
	// append-only; the store never overwrites an existing attempt.
	AppendStepRecord(ctx context.Context, rec *StepRecord) error

	// ListStepRecords returns all step records for a run in append order.
	ListStepRecords(ctx context.Context, runID id.RunID) ([]*StepRecord, error)

	// ListChildRuns returns all subflow runs spawned by a parent run.
	ListChildRuns(ctx context.Context, parentRunID id.RunID) ([]*Run, error)

	// DeleteRun removes a run and its step records. Retention cleanup
	// only; runs are never deleted implicitly.
	DeleteRun(ctx context.Context, runID id.RunID) error
}
