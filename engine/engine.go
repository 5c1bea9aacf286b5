package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/hook"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/middleware"
	"github.com/loomhq/loom/pause"
	"github.com/loomhq/loom/queue"
	"github.com/loomhq/loom/state"
	"github.com/loomhq/loom/store"
	"github.com/loomhq/loom/workflow"
)

// Option configures an Engine.
type Option func(*Engine)

// WithMiddleware installs step execution middleware, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) { e.middlewares = append(e.middlewares, mws...) }
}

// WithHook registers a lifecycle hook.
func WithHook(h hook.Hook) Option {
	return func(e *Engine) { e.pendingHooks = append(e.pendingHooks, h) }
}

// Engine is the full execution surface assembled over a loom.Core: the
// workflow registry, run admission, the step executor, the control-flow
// interpreter, the pause coordinator, and the event bus.
type Engine struct {
	core   *loom.Core
	store  store.Store
	logger *slog.Logger

	registry *workflow.Registry
	queue    *queue.Manager
	hooks    *hook.Registry
	bus      *event.Bus
	pauser   *pause.Coordinator
	sweeper  *state.Sweeper
	exec     *Executor
	interp   *Interpreter

	middlewares  []middleware.Middleware
	pendingHooks []hook.Hook

	// sem caps runs advanced concurrently across all workflows.
	sem chan struct{}

	// promoteMu serializes claiming queued pending runs.
	promoteMu sync.Mutex

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New assembles an Engine over a configured Core. The Core's store must
// implement the composite store.Store interface.
func New(core *loom.Core, opts ...Option) (*Engine, error) {
	st, ok := core.Store().(store.Store)
	if !ok {
		if core.Store() == nil {
			return nil, loom.ErrNoStore
		}
		return nil, fmt.Errorf("engine: store %T does not implement store.Store", core.Store())
	}

	cfg := core.Config()
	logger := core.Logger()

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	e := &Engine{
		core:     core,
		store:    st,
		logger:   logger,
		registry: workflow.NewRegistry(),
		queue:    queue.NewManager(),
		hooks:    hook.NewRegistry(logger, cfg.HookGracePeriod),
		sem:      make(chan struct{}, concurrency),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, h := range e.pendingHooks {
		e.hooks.Register(h)
	}

	// Default middleware stack: recover → tracing → metrics → logging,
	// with caller-supplied middleware innermost. Recover stays outermost
	// so a panicking handler fails its attempt instead of the process.
	defaultMws := []middleware.Middleware{
		middleware.Recover(logger),
		middleware.Tracing(),
		middleware.Metrics(),
		middleware.Logging(logger),
	}
	allMws := make([]middleware.Middleware, 0, len(defaultMws)+len(e.middlewares))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, e.middlewares...)
	chain := middleware.Chain(allMws...)

	e.bus = event.NewBus(st)
	e.pauser = pause.NewCoordinator(st, e.bus, logger,
		pause.WithWatchInterval(cfg.PauseSweepInterval))
	e.sweeper = state.NewSweeper(st, cfg.StateSweepInterval, logger)
	e.exec = NewExecutor(st, state.NewCache(st), e.hooks, logger, chain)
	e.interp = NewInterpreter(e.registry, st, st, e.exec, e.pauser, e.bus,
		e.hooks, logger, cfg.HookGracePeriod)
	e.pauser.SetResumeFunc(e.interp.ResumeToken)

	core.AddLoop(e.pauser)
	core.AddLoop(e.sweeper)
	return e, nil
}

// Define validates and registers a workflow definition, and configures
// its admission limits. Call Handle.Register to expose it to triggers.
func (e *Engine) Define(def *workflow.Definition) (*workflow.Handle, error) {
	h, err := e.registry.Define(def)
	if err != nil {
		return nil, err
	}
	e.queue.Configure(def.ID, queue.Limits{
		Concurrency:   def.Concurrency,
		RatePerSecond: def.RateLimit,
	})
	return h, nil
}

// Registry returns the workflow registry.
func (e *Engine) Registry() *workflow.Registry { return e.registry }

// Hooks returns the hook registry for late registration.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// Start migrates the store, starts background loops (pause watcher,
// state sweeper), and recovers interrupted runs.
func (e *Engine) Start(ctx context.Context) error {
	e.baseCtx, e.cancelBase = context.WithCancel(context.WithoutCancel(ctx))
	if err := e.core.Start(e.baseCtx); err != nil {
		return err
	}
	return e.ResumeAll(ctx)
}

// Stop notifies shutdown hooks and gracefully stops the engine.
func (e *Engine) Stop(ctx context.Context) error {
	e.hooks.EmitShutdown(ctx)
	err := e.core.Stop(ctx)
	if e.cancelBase != nil {
		e.cancelBase()
	}
	return err
}

// TriggerRun creates a run of a registered workflow from a trigger
// payload and drives it until it settles (terminal or suspended). When
// the workflow's admission limits are exhausted the run stays PENDING
// and is promoted once a slot frees.
func (e *Engine) TriggerRun(ctx context.Context, workflowID string, payload any) (*workflow.Run, error) {
	def, ok := e.registry.GetRegistered(workflowID)
	if !ok {
		return nil, fmt.Errorf("engine: trigger %q: %w", workflowID, loom.ErrWorkflowNotFound)
	}

	var data json.RawMessage
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("engine: encode trigger payload: %w", err)
		}
	}

	now := time.Now().UTC()
	run := &workflow.Run{
		ID:         id.NewRunID(),
		WorkflowID: workflowID,
		Version:    def.Version,
		State:      workflow.RunStatePending,
		Payload:    data,
		Cursor:     workflow.Root(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("engine: create run: %w", err)
	}

	if !e.queue.TryAcquire(workflowID) {
		// Queued: stays PENDING until a slot frees.
		return run, nil
	}
	if err := e.runAdmitted(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// runAdmitted drives an admitted run until it settles, then frees its
// admission slot and promotes a queued run if one is waiting.
func (e *Engine) runAdmitted(ctx context.Context, run *workflow.Run) error {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	err := e.interp.Advance(ctx, run)

	e.queue.Release(run.WorkflowID)
	e.promote(run.WorkflowID)
	return err
}

// promote claims the oldest queued pending run of a workflow, if any,
// and advances it in the background.
func (e *Engine) promote(workflowID string) {
	if !e.queue.TryAcquire(workflowID) {
		return
	}

	ctx := e.background()

	e.promoteMu.Lock()
	pending, err := e.store.ListRuns(ctx, workflow.ListOpts{
		WorkflowID: workflowID,
		State:      workflow.RunStatePending,
		Limit:      1,
	})
	if err != nil || len(pending) == 0 {
		e.promoteMu.Unlock()
		e.queue.Release(workflowID)
		if err != nil {
			e.logger.Error("list pending runs failed",
				slog.String("workflow_id", workflowID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	// Claim under the lock so two concurrent promotions never pick the
	// same pending run.
	run := pending[0]
	now := time.Now().UTC()
	run.State = workflow.RunStateRunning
	run.StartedAt = &now
	run.UpdatedAt = now
	if err := e.store.UpdateRun(ctx, run); err != nil {
		e.promoteMu.Unlock()
		e.queue.Release(workflowID)
		e.logger.Error("claim pending run failed",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	e.promoteMu.Unlock()

	e.hooks.EmitRunStarted(ctx, run)
	go func() {
		e.sem <- struct{}{}
		defer func() { <-e.sem }()
		if err := e.interp.Advance(ctx, run); err != nil {
			e.logger.Error("promoted run failed to advance",
				slog.String("run_id", run.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		e.queue.Release(run.WorkflowID)
		e.promote(run.WorkflowID)
	}()
}

// Resume consumes a pause token and re-enters the suspended run with the
// supplied payload. Token misuse (unknown, already consumed, expired)
// surfaces as the corresponding sentinel error without touching run state.
func (e *Engine) Resume(ctx context.Context, token string, payload map[string]any) error {
	return e.pauser.Resume(ctx, token, payload)
}

// ResumeAll recovers interrupted runs after a restart: RUNNING runs are
// re-entered at their persisted cursor; PENDING runs are admitted up to
// their workflows' limits. PAUSED runs are left to their tokens and the
// timeout watcher.
func (e *Engine) ResumeAll(ctx context.Context) error {
	running, err := e.store.ListRuns(ctx, workflow.ListOpts{State: workflow.RunStateRunning})
	if err != nil {
		return fmt.Errorf("engine: list running runs: %w", err)
	}
	for _, run := range running {
		if run.ParentRunID != nil {
			// Child runs are re-entered through their parents.
			continue
		}
		if err := e.interp.Advance(ctx, run); err != nil {
			e.logger.Error("recover running run failed",
				slog.String("run_id", run.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	pending, err := e.store.ListRuns(ctx, workflow.ListOpts{State: workflow.RunStatePending})
	if err != nil {
		return fmt.Errorf("engine: list pending runs: %w", err)
	}
	for _, run := range pending {
		if run.ParentRunID != nil {
			continue
		}
		if _, ok := e.registry.Get(run.WorkflowID); !ok {
			continue
		}
		if !e.queue.TryAcquire(run.WorkflowID) {
			continue
		}
		if err := e.runAdmitted(ctx, run); err != nil {
			e.logger.Error("recover pending run failed",
				slog.String("run_id", run.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Cancel transitions a run to CANCELLED. Remaining nodes never execute;
// outstanding pause tokens are consumed so the watcher cannot fire.
func (e *Engine) Cancel(ctx context.Context, runID id.RunID, reason string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return e.interp.CancelRun(ctx, run, reason)
}

// PublishEvent publishes a named event, unblocking the oldest run
// suspended on waitForEvent with a matching name.
func (e *Engine) PublishEvent(ctx context.Context, name string, payload any) (*event.Event, error) {
	var data json.RawMessage
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("engine: encode event payload: %w", err)
		}
	}
	return e.bus.Publish(ctx, name, data)
}

// background returns the engine's base context, falling back to
// context.Background before Start.
func (e *Engine) background() context.Context {
	if e.baseCtx != nil {
		return e.baseCtx
	}
	return context.Background()
}
