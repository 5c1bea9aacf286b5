package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/backoff"
	"github.com/loomhq/loom/hook"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/middleware"
	"github.com/loomhq/loom/state"
	"github.com/loomhq/loom/workflow"
)

// StepResult is the outcome of executing one Step or Action node.
type StepResult struct {
	// Output is the handler's return value (or the cached value).
	Output any

	// Cached is set when the result came from the step cache and the
	// handler was not invoked.
	Cached bool
}

// Executor runs one Step/Action node: cache check, scheduling delay,
// bounded handler invocation through the middleware chain, retries with
// backoff, and append-only step record bookkeeping.
type Executor struct {
	store  workflow.Store
	cache  *state.Cache
	hooks  *hook.Registry
	logger *slog.Logger
	chain  middleware.Middleware
}

// NewExecutor creates a step executor. chain may be nil.
func NewExecutor(store workflow.Store, cache *state.Cache, hooks *hook.Registry, logger *slog.Logger, chain middleware.Middleware) *Executor {
	return &Executor{
		store:  store,
		cache:  cache,
		hooks:  hooks,
		logger: logger,
		chain:  chain,
	}
}

// Execute runs the node to a terminal step outcome. Every attempt writes
// exactly one terminal StepRecord. The returned error, when non-nil, is a
// *HandlerError wrapping the last attempt's failure; the caller decides
// run-level consequences.
func (e *Executor) Execute(ctx context.Context, def *workflow.Definition, run *workflow.Run, node *workflow.NodeSpec, wctx *workflow.Context) (*StepResult, error) {
	// Cache hit short-circuits the handler invocation entirely.
	if node.Cache != nil {
		key := node.Cache.Key(wctx)
		data, hit, err := e.cache.Lookup(ctx, run.WorkflowID, node.Name, key)
		if err != nil {
			return nil, fmt.Errorf("engine: cache lookup for step %q: %w", node.Name, err)
		}
		if hit {
			var out any
			if len(data) > 0 {
				if err := json.Unmarshal(data, &out); err != nil {
					return nil, fmt.Errorf("engine: decode cached output for step %q: %w", node.Name, err)
				}
			}
			if err := e.record(ctx, run, node.Name, workflow.StepStatusCached, 1, out, nil, time.Now().UTC()); err != nil {
				return nil, err
			}
			return &StepResult{Output: out, Cached: true}, nil
		}
	}

	// A delay postpones the node without failing its timeout budget.
	if node.Delay > 0 {
		if err := wait(ctx, node.Delay); err != nil {
			return nil, err
		}
	}

	retry := def.EffectiveRetry(node)
	attempts := 1
	if retry != nil && retry.Attempts > 1 {
		attempts = retry.Attempts
	}
	timeout := def.EffectiveTimeout(node)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		startedAt := time.Now().UTC()
		out, err := e.invoke(ctx, run, node, wctx, timeout, attempt)
		if err == nil {
			if recErr := e.record(ctx, run, node.Name, workflow.StepStatusSucceeded, attempt, out, nil, startedAt); recErr != nil {
				return nil, recErr
			}
			e.hooks.EmitStepCompleted(ctx, run, node.Name, time.Since(startedAt))
			if node.Cache != nil {
				e.cachePut(ctx, run, node, wctx, out)
			}
			return &StepResult{Output: out}, nil
		}

		lastErr = err
		if recErr := e.record(ctx, run, node.Name, workflow.StepStatusFailed, attempt, nil, err, startedAt); recErr != nil {
			return nil, recErr
		}
		e.hooks.EmitStepFailed(ctx, run, node.Name, err)

		if attempt < attempts {
			delay := retryDelay(retry, attempt)
			e.hooks.EmitStepRetrying(ctx, run, node.Name, attempt+1, delay)
			if waitErr := wait(ctx, delay); waitErr != nil {
				return nil, waitErr
			}
		}
	}

	if node.OnError != nil {
		if _, hErr := node.OnError(wctx); hErr != nil {
			e.logger.Warn("onError handler failed",
				slog.String("run_id", run.ID.String()),
				slog.String("step", node.Name),
				slog.String("error", hErr.Error()),
			)
		}
	}
	return nil, &HandlerError{Step: node.Name, Attempt: attempts, Err: lastErr}
}

// invoke runs one handler attempt through the middleware chain with the
// node's timeout applied. A timed-out attempt fails with ErrStepTimeout;
// the handler goroutine is abandoned to finish against a cancelled context.
func (e *Executor) invoke(ctx context.Context, run *workflow.Run, node *workflow.NodeSpec, wctx *workflow.Context, timeout time.Duration, attempt int) (any, error) {
	inv := &middleware.Invocation{
		Run:      run,
		NodeName: node.Name,
		NodeKind: node.Kind,
		Attempt:  attempt,
	}

	h := func(hctx context.Context) (any, error) {
		if timeout <= 0 {
			return node.Handler(wctx.Fork(hctx))
		}

		tctx, cancel := context.WithTimeout(hctx, timeout)
		defer cancel()

		type result struct {
			out any
			err error
		}
		done := make(chan result, 1)
		go func() {
			out, err := node.Handler(wctx.Fork(tctx))
			done <- result{out, err}
		}()

		select {
		case r := <-done:
			return r.out, r.err
		case <-tctx.Done():
			if errors.Is(tctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("step %q exceeded %s: %w", node.Name, timeout, loom.ErrStepTimeout)
			}
			return nil, tctx.Err()
		}
	}

	if e.chain != nil {
		return e.chain(ctx, inv, h)
	}
	return h(ctx)
}

// cachePut stores a successful output under the node's cache key. Cache
// write failures are logged, not fatal: the step already succeeded.
func (e *Executor) cachePut(ctx context.Context, run *workflow.Run, node *workflow.NodeSpec, wctx *workflow.Context, out any) {
	data, err := json.Marshal(out)
	if err != nil {
		e.logger.Warn("cache encode failed",
			slog.String("step", node.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	key := node.Cache.Key(wctx)
	if err := e.cache.Put(ctx, run.WorkflowID, node.Name, key, data, node.Cache.TTL); err != nil {
		e.logger.Warn("cache write failed",
			slog.String("step", node.Name),
			slog.String("error", err.Error()),
		)
	}
}

// record appends one terminal step record.
func (e *Executor) record(ctx context.Context, run *workflow.Run, stepName string, status workflow.StepStatus, attempt int, out any, stepErr error, startedAt time.Time) error {
	rec := &workflow.StepRecord{
		ID:        id.NewStepID(),
		RunID:     run.ID,
		StepName:  stepName,
		Status:    status,
		Attempt:   attempt,
		StartedAt: startedAt,
	}
	now := time.Now().UTC()
	rec.FinishedAt = &now

	if status == workflow.StepStatusSucceeded || status == workflow.StepStatusCached {
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("engine: encode output for step %q: %w", stepName, err)
		}
		rec.Output = data
	}
	if stepErr != nil {
		rec.Error = stepErr.Error()
	}

	if err := e.store.AppendStepRecord(ctx, rec); err != nil {
		return fmt.Errorf("engine: append step record for %q: %w", stepName, err)
	}
	return nil
}

// retryDelay resolves the backoff strategy for an exhausted attempt.
// attempt is 1-indexed: the delay before retry attempt+1.
func retryDelay(p *workflow.RetryPolicy, attempt int) time.Duration {
	if p == nil || p.Delay <= 0 {
		return 0
	}
	var s backoff.Strategy
	switch p.Backoff {
	case workflow.BackoffExponential:
		s = backoff.NewExponential(p.Delay, p.MaxDelay)
	default:
		s = backoff.NewFixed(p.Delay)
	}
	return s.Delay(attempt)
}

// wait blocks for d or until the context is cancelled.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
