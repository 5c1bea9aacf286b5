package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/workflow"
)

// ReplayOptions controls a replay pass.
type ReplayOptions struct {
	// MockOutputs substitutes recorded outputs for the named steps: a
	// mocked step never invokes its handler, it records the mock as a
	// SUCCEEDED output. All other steps re-execute.
	MockOutputs map[string]any

	// FromHistory pre-seeds MockOutputs with the original run's last
	// successful output per step, so the replay traverses the same
	// control flow without re-invoking any recorded handler. Explicit
	// MockOutputs still take precedence.
	FromHistory bool
}

// Replay re-executes a terminal run against the current definition,
// producing a new Run rather than mutating the original. The new run
// shares the original's trigger payload.
func (e *Engine) Replay(ctx context.Context, runID id.RunID, opts ReplayOptions) (*workflow.Run, error) {
	orig, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !orig.State.Terminal() {
		return nil, fmt.Errorf("engine: replay run %s in state %s: %w", orig.ID, orig.State, loom.ErrRunNotResumable)
	}
	def, ok := e.registry.Get(orig.WorkflowID)
	if !ok {
		return nil, fmt.Errorf("engine: replay %q: %w", orig.WorkflowID, loom.ErrWorkflowNotFound)
	}

	mocks := make(map[string]any, len(opts.MockOutputs))
	if opts.FromHistory {
		records, err := e.store.ListStepRecords(ctx, runID)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if rec.Status != workflow.StepStatusSucceeded && rec.Status != workflow.StepStatusCached {
				continue
			}
			var out any
			if len(rec.Output) > 0 {
				if err := json.Unmarshal(rec.Output, &out); err != nil {
					return nil, fmt.Errorf("engine: decode recorded output of %q: %w", rec.StepName, err)
				}
			}
			mocks[rec.StepName] = out
		}
	}
	for name, out := range opts.MockOutputs {
		mocks[name] = out
	}

	now := time.Now().UTC()
	run := &workflow.Run{
		ID:         id.NewRunID(),
		WorkflowID: orig.WorkflowID,
		Version:    def.Version,
		State:      workflow.RunStatePending,
		Payload:    orig.Payload,
		Cursor:     workflow.Root(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("engine: create replay run: %w", err)
	}

	if err := e.interp.advance(ctx, run, mocks); err != nil {
		return run, err
	}
	return run, nil
}
