package workflow

import (
	"context"
	"time"

	"github.com/loomhq/loom/id"
)

// StateAccessor is the scoped state store view exposed to handlers.
// Implementations must make Incr atomic under concurrent callers.
type StateAccessor interface {
	// Get returns the value stored under key, or found=false if the key
	// is absent or its TTL has elapsed.
	Get(ctx context.Context, key string) (value any, found bool, err error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Incr atomically adds amount to the numeric value under key,
	// creating it at zero if absent, and returns the new value.
	// Fails with ErrNonNumericState if the existing value is non-numeric.
	Incr(ctx context.Context, key string, amount int64) (int64, error)

	// Delete removes the value under key.
	Delete(ctx context.Context, key string) error
}

// Context is the per-node-invocation view handed to handlers and
// predicates: the trigger payload, prior step outputs, scoped state, and
// run metadata.
type Context struct {
	ctx context.Context

	// RunID identifies the executing run.
	RunID id.RunID

	// WorkflowID is the definition id of the executing run.
	WorkflowID string

	// Payload is the trigger input, immutable for the run.
	Payload any

	// State is the state store scoped to this workflow.
	State StateAccessor

	steps    map[string]any
	lastName string
}

// NewContext builds a Context. Called by the interpreter, not by users.
func NewContext(ctx context.Context, runID id.RunID, workflowID string, payload any, state StateAccessor) *Context {
	return &Context{
		ctx:        ctx,
		RunID:      runID,
		WorkflowID: workflowID,
		Payload:    payload,
		State:      state,
		steps:      make(map[string]any),
	}
}

// Context returns the underlying context.Context. Handlers should observe
// its cancellation for cooperative cancel and Race-loser shutdown.
func (c *Context) Context() context.Context { return c.ctx }

// Step returns the recorded output of a prior named step.
func (c *Context) Step(name string) (any, bool) {
	v, ok := c.steps[name]
	return v, ok
}

// Steps returns the map of step name to recorded output. The map is the
// live view used by the interpreter; handlers must treat it as read-only.
func (c *Context) Steps() map[string]any { return c.steps }

// Last returns the output of the most recently completed node. It is a
// derived view over the step output table, never a separately stored copy.
func (c *Context) Last() any {
	if c.lastName == "" {
		return nil
	}
	return c.steps[c.lastName]
}

// SetOutput records a node output and advances the Last view.
// Called by the interpreter after each successful step.
func (c *Context) SetOutput(name string, value any) {
	c.steps[name] = value
	c.lastName = name
}

// SetLast points the Last view at an already-recorded output without
// adding a new entry. Used for synthetic outputs like Parallel joins.
func (c *Context) SetLast(name string) { c.lastName = name }

// Fork returns a child Context sharing the output table but carrying a
// different context.Context. Used for Parallel/Race branches so a branch
// observes pre-block outputs while its own cancellation is independent.
func (c *Context) Fork(ctx context.Context) *Context {
	cp := *c
	cp.ctx = ctx
	return &cp
}
