package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/loomhq/loom/workflow"
)

// Named entry types pair a hook implementation with the hook name
// captured at registration time. This avoids type-asserting back to
// Hook inside the emit methods.
type runStartedEntry struct {
	name string
	hook RunStarted
}

type runCompletedEntry struct {
	name string
	hook RunCompleted
}

type runFailedEntry struct {
	name string
	hook RunFailed
}

type runPausedEntry struct {
	name string
	hook RunPaused
}

type runResumedEntry struct {
	name string
	hook RunResumed
}

type runCancelledEntry struct {
	name string
	hook RunCancelled
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type stepRetryingEntry struct {
	name string
	hook StepRetrying
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant event. Every emit is
// bounded by the grace period: a hook that overruns it is abandoned
// (its goroutine finishes in the background) and logged.
type Registry struct {
	logger *slog.Logger
	grace  time.Duration

	runStarted    []runStartedEntry
	runCompleted  []runCompletedEntry
	runFailed     []runFailedEntry
	runPaused     []runPausedEntry
	runResumed    []runResumedEntry
	runCancelled  []runCancelledEntry
	stepCompleted []stepCompletedEntry
	stepFailed    []stepFailedEntry
	stepRetrying  []stepRetryingEntry
	shutdown      []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger and grace
// period. A zero grace period disables the bound.
func NewRegistry(logger *slog.Logger, grace time.Duration) *Registry {
	return &Registry{logger: logger, grace: grace}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	name := h.Name()

	if v, ok := h.(RunStarted); ok {
		r.runStarted = append(r.runStarted, runStartedEntry{name, v})
	}
	if v, ok := h.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, runCompletedEntry{name, v})
	}
	if v, ok := h.(RunFailed); ok {
		r.runFailed = append(r.runFailed, runFailedEntry{name, v})
	}
	if v, ok := h.(RunPaused); ok {
		r.runPaused = append(r.runPaused, runPausedEntry{name, v})
	}
	if v, ok := h.(RunResumed); ok {
		r.runResumed = append(r.runResumed, runResumedEntry{name, v})
	}
	if v, ok := h.(RunCancelled); ok {
		r.runCancelled = append(r.runCancelled, runCancelledEntry{name, v})
	}
	if v, ok := h.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, v})
	}
	if v, ok := h.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, v})
	}
	if v, ok := h.(StepRetrying); ok {
		r.stepRetrying = append(r.stepRetrying, stepRetryingEntry{name, v})
	}
	if v, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, v})
	}
}

// bounded invokes fn with the grace period applied. On overrun the call
// is abandoned and logged; run progress is never held up beyond grace.
func (r *Registry) bounded(ctx context.Context, event, name string, fn func(ctx context.Context) error) {
	if r.grace <= 0 {
		if err := fn(ctx); err != nil {
			r.logHookError(event, name, err)
		}
		return
	}

	hctx, cancel := context.WithTimeout(ctx, r.grace)
	done := make(chan error, 1)
	go func() {
		done <- fn(hctx)
	}()

	select {
	case err := <-done:
		cancel()
		if err != nil {
			r.logHookError(event, name, err)
		}
	case <-hctx.Done():
		cancel()
		r.logger.Warn("hook exceeded grace period",
			slog.String("event", event),
			slog.String("hook", name),
			slog.Duration("grace", r.grace),
		)
	}
}

func (r *Registry) logHookError(event, name string, err error) {
	r.logger.Error("hook error",
		slog.String("event", event),
		slog.String("hook", name),
		slog.String("error", err.Error()),
	)
}

// EmitRunStarted notifies all hooks that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, run *workflow.Run) {
	for _, e := range r.runStarted {
		r.bounded(ctx, "OnRunStarted", e.name, func(ctx context.Context) error {
			return e.hook.OnRunStarted(ctx, run)
		})
	}
}

// EmitRunCompleted notifies all hooks that implement RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	for _, e := range r.runCompleted {
		r.bounded(ctx, "OnRunCompleted", e.name, func(ctx context.Context) error {
			return e.hook.OnRunCompleted(ctx, run, elapsed)
		})
	}
}

// EmitRunFailed notifies all hooks that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, run *workflow.Run, stepName string, runErr error) {
	for _, e := range r.runFailed {
		r.bounded(ctx, "OnRunFailed", e.name, func(ctx context.Context) error {
			return e.hook.OnRunFailed(ctx, run, stepName, runErr)
		})
	}
}

// EmitRunPaused notifies all hooks that implement RunPaused.
func (r *Registry) EmitRunPaused(ctx context.Context, run *workflow.Run, token string) {
	for _, e := range r.runPaused {
		r.bounded(ctx, "OnRunPaused", e.name, func(ctx context.Context) error {
			return e.hook.OnRunPaused(ctx, run, token)
		})
	}
}

// EmitRunResumed notifies all hooks that implement RunResumed.
func (r *Registry) EmitRunResumed(ctx context.Context, run *workflow.Run, timedOut bool) {
	for _, e := range r.runResumed {
		r.bounded(ctx, "OnRunResumed", e.name, func(ctx context.Context) error {
			return e.hook.OnRunResumed(ctx, run, timedOut)
		})
	}
}

// EmitRunCancelled notifies all hooks that implement RunCancelled.
func (r *Registry) EmitRunCancelled(ctx context.Context, run *workflow.Run, reason string) {
	for _, e := range r.runCancelled {
		r.bounded(ctx, "OnRunCancelled", e.name, func(ctx context.Context) error {
			return e.hook.OnRunCancelled(ctx, run, reason)
		})
	}
}

// EmitStepCompleted notifies all hooks that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, run *workflow.Run, stepName string, elapsed time.Duration) {
	for _, e := range r.stepCompleted {
		r.bounded(ctx, "OnStepCompleted", e.name, func(ctx context.Context) error {
			return e.hook.OnStepCompleted(ctx, run, stepName, elapsed)
		})
	}
}

// EmitStepFailed notifies all hooks that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, run *workflow.Run, stepName string, stepErr error) {
	for _, e := range r.stepFailed {
		r.bounded(ctx, "OnStepFailed", e.name, func(ctx context.Context) error {
			return e.hook.OnStepFailed(ctx, run, stepName, stepErr)
		})
	}
}

// EmitStepRetrying notifies all hooks that implement StepRetrying.
func (r *Registry) EmitStepRetrying(ctx context.Context, run *workflow.Run, stepName string, attempt int, delay time.Duration) {
	for _, e := range r.stepRetrying {
		r.bounded(ctx, "OnStepRetrying", e.name, func(ctx context.Context) error {
			return e.hook.OnStepRetrying(ctx, run, stepName, attempt, delay)
		})
	}
}

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		e.hook.OnShutdown(ctx)
	}
}
