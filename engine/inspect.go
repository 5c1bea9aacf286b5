package engine

import (
	"context"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/workflow"
)

// Inspection is a read-only view of a run: its latest committed state,
// the full append-only step record history, and any subflow children.
type Inspection struct {
	Run      *workflow.Run
	Steps    []*workflow.StepRecord
	Children []*workflow.Run
}

// Inspect returns the run's status and full step history. It reads the
// store directly so the view reflects the latest committed state, never
// an in-memory snapshot that could be stale after a crash.
func (e *Engine) Inspect(ctx context.Context, runID id.RunID) (*Inspection, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	steps, err := e.store.ListStepRecords(ctx, runID)
	if err != nil {
		return nil, err
	}
	children, err := e.store.ListChildRuns(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &Inspection{Run: run, Steps: steps, Children: children}, nil
}
