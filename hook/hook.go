// Package hook defines the lifecycle hook system. Hooks are notified of
// run and step events (started, completed, failed, paused, resumed) and
// can react to them — notifications, metrics, audit trails.
//
// Each lifecycle event is a separate interface so hooks opt in only to
// the events they care about. Hook invocations are bounded by a grace
// period and never block run progress beyond it.
package hook

import (
	"context"
	"time"

	"github.com/loomhq/loom/workflow"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// RunStarted is called when a run begins executing.
type RunStarted interface {
	OnRunStarted(ctx context.Context, run *workflow.Run) error
}

// RunCompleted is called after a run finishes successfully.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) error
}

// RunFailed is called when a run fails terminally.
type RunFailed interface {
	OnRunFailed(ctx context.Context, run *workflow.Run, stepName string, err error) error
}

// RunPaused is called when a run suspends awaiting external input.
type RunPaused interface {
	OnRunPaused(ctx context.Context, run *workflow.Run, token string) error
}

// RunResumed is called when a suspended run re-enters the interpreter.
type RunResumed interface {
	OnRunResumed(ctx context.Context, run *workflow.Run, timedOut bool) error
}

// RunCancelled is called when a run is cancelled.
type RunCancelled interface {
	OnRunCancelled(ctx context.Context, run *workflow.Run, reason string) error
}

// StepCompleted is called after a step attempt succeeds.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, run *workflow.Run, stepName string, elapsed time.Duration) error
}

// StepFailed is called when a step attempt fails.
type StepFailed interface {
	OnStepFailed(ctx context.Context, run *workflow.Run, stepName string, err error) error
}

// StepRetrying is called when a failed step is scheduled for another
// attempt.
type StepRetrying interface {
	OnStepRetrying(ctx context.Context, run *workflow.Run, stepName string, attempt int, delay time.Duration) error
}

// Shutdown is called when the engine stops.
type Shutdown interface {
	OnShutdown(ctx context.Context)
}
