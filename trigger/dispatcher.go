// Package trigger is the boundary between external run sources and the
// engine. Webhooks, cron schedules, published events, and pollers all
// normalize into a single Dispatch call; the engine supplies the
// TriggerFunc at wiring time so this package never imports it.
package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/workflow"
)

// Source identifies where a trigger request originated.
type Source string

const (
	SourceManual   Source = "manual"
	SourceWebhook  Source = "webhook"
	SourceSchedule Source = "schedule"
	SourceEvent    Source = "event"
	SourcePoll     Source = "poll"
)

// TriggerFunc starts a run of a registered workflow. Engine.TriggerRun
// satisfies this signature.
type TriggerFunc func(ctx context.Context, workflowID string, payload any) (*workflow.Run, error)

// Request is a normalized run-start request from any source.
type Request struct {
	Source     Source
	WorkflowID string
	Payload    any
}

// Dispatcher converts trigger requests into runs.
type Dispatcher struct {
	trigger TriggerFunc
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(trigger TriggerFunc, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{trigger: trigger, logger: logger}
}

// Dispatch starts a run for the request's workflow. The returned ID
// identifies the new run whether it settled, suspended, or queued.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (id.RunID, error) {
	if req.WorkflowID == "" {
		return id.Nil, fmt.Errorf("trigger: missing workflow id: %w", loom.ErrWorkflowNotFound)
	}
	if req.Source == "" {
		req.Source = SourceManual
	}

	run, err := d.trigger(ctx, req.WorkflowID, req.Payload)
	if err != nil {
		return id.Nil, fmt.Errorf("trigger: dispatch %q from %s: %w", req.WorkflowID, req.Source, err)
	}

	d.logger.Info("run triggered",
		slog.String("run_id", run.ID.String()),
		slog.String("workflow_id", req.WorkflowID),
		slog.String("source", string(req.Source)),
	)
	return run.ID, nil
}
