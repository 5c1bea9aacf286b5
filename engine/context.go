package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loomhq/loom/state"
	"github.com/loomhq/loom/workflow"
)

// continuityKind reports whether records of the given node kind feed the
// context's Steps/Last. Action, Log, and Sleep records are audit trail
// only; a rebuilt context must expose exactly what the live path did.
func continuityKind(kind workflow.NodeKind) bool {
	switch kind {
	case workflow.KindStep, workflow.KindParallel, workflow.KindRace,
		workflow.KindForEach, workflow.KindBatch, workflow.KindWaitEvent,
		workflow.KindHuman, workflow.KindSubflow:
		return true
	default:
		return false
	}
}

// buildContext reconstructs a run's handler context from persisted state
// alone: the trigger payload plus every prior successful step output in
// append order. This is the crash-resume path as much as the hot path —
// an in-memory context never outlives one interpreter session.
func (i *Interpreter) buildContext(ctx context.Context, run *workflow.Run, def *workflow.Definition) (*workflow.Context, error) {
	var payload any
	if len(run.Payload) > 0 {
		if err := json.Unmarshal(run.Payload, &payload); err != nil {
			return nil, fmt.Errorf("engine: decode payload for run %s: %w", run.ID, err)
		}
	}

	accessor := state.NewAccessor(i.state, state.ForWorkflow(run.WorkflowID))
	wctx := workflow.NewContext(ctx, run.ID, run.WorkflowID, payload, accessor)

	records, err := i.store.ListStepRecords(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("engine: list step records for run %s: %w", run.ID, err)
	}
	for _, rec := range records {
		if rec.Status != workflow.StepStatusSucceeded && rec.Status != workflow.StepStatusCached {
			continue
		}
		if kind, ok := def.NodeKind(rec.StepName); !ok || !continuityKind(kind) {
			continue
		}
		var out any
		if len(rec.Output) > 0 {
			if err := json.Unmarshal(rec.Output, &out); err != nil {
				return nil, fmt.Errorf("engine: decode output of step %q: %w", rec.StepName, err)
			}
		}
		wctx.SetOutput(rec.StepName, out)
	}
	return wctx, nil
}

// lastOutput returns the decoded output of the most recent successful
// continuity record, used to surface a completed subflow's result to its
// parent.
func lastOutput(def *workflow.Definition, records []*workflow.StepRecord) (any, error) {
	for k := len(records) - 1; k >= 0; k-- {
		rec := records[k]
		if rec.Status != workflow.StepStatusSucceeded && rec.Status != workflow.StepStatusCached {
			continue
		}
		if kind, ok := def.NodeKind(rec.StepName); !ok || !continuityKind(kind) {
			continue
		}
		var out any
		if len(rec.Output) > 0 {
			if err := json.Unmarshal(rec.Output, &out); err != nil {
				return nil, fmt.Errorf("engine: decode output of step %q: %w", rec.StepName, err)
			}
		}
		return out, nil
	}
	return nil, nil
}
