package workflow

import (
	"time"
)

// Definition is an immutable, validated description of a workflow: its
// node sequence, default policies, and lifecycle hooks. Definitions are
// created once through a Builder and owned by the Registry for the
// process lifetime; redefinition replaces the whole definition under the
// same id.
type Definition struct {
	// ID is the caller-chosen stable identifier for this workflow.
	ID string

	// Name is the human-readable workflow name.
	Name string

	// Version orders redefinitions. Defining a lower version than the
	// one already registered is rejected as incompatible.
	Version int

	// Nodes is the declaration-ordered node sequence.
	Nodes []NodeSpec

	// DefaultTimeout applies to Step/Action nodes without their own.
	DefaultTimeout time.Duration

	// DefaultRetry applies to Step/Action nodes without their own.
	DefaultRetry *RetryPolicy

	// Concurrency caps simultaneously running runs of this workflow.
	// Excess trigger events queue. Zero means unlimited.
	Concurrency int

	// RateLimit is the maximum sustained run starts per second.
	// Zero disables rate limiting.
	RateLimit float64

	// Queue names the trigger queue this workflow's runs start from.
	Queue string

	// OnSuccess fires when a run completes. It must not block run
	// bookkeeping beyond the engine's hook grace period.
	OnSuccess func(ctx *Context)

	// OnFailure fires when a run fails or is cancelled. stepName is the
	// node whose failure terminated the run, when known.
	OnFailure func(ctx *Context, stepName string)

	prog *Program
}

// Program returns the compiled node graph for this definition.
func (d *Definition) Program() *Program { return d.prog }

// NodeKind reports the declared kind of the named node, descending into
// While bodies.
func (d *Definition) NodeKind(name string) (NodeKind, bool) {
	k, ok := d.prog.Kinds[name]
	return k, ok
}

// Validate re-checks the definition's structural invariants: matched
// If/EndIf pairing, ElseIf/Else binding, and node name uniqueness.
// It is pure and side-effect free.
func (d *Definition) Validate() error {
	_, err := compile(d.ID, d.Nodes)
	return err
}

// retryFor resolves the effective retry policy for a node.
func (d *Definition) retryFor(n *NodeSpec) *RetryPolicy {
	if n.Retry != nil {
		return n.Retry
	}
	return d.DefaultRetry
}

// timeoutFor resolves the effective timeout for a node.
func (d *Definition) timeoutFor(n *NodeSpec) time.Duration {
	if n.Timeout > 0 {
		return n.Timeout
	}
	return d.DefaultTimeout
}

// EffectiveRetry resolves the retry policy for a node, falling back to
// the definition default. Returns nil when neither is set.
func (d *Definition) EffectiveRetry(n *NodeSpec) *RetryPolicy { return d.retryFor(n) }

// EffectiveTimeout resolves the timeout for a node, falling back to the
// definition default. Returns zero when neither is set.
func (d *Definition) EffectiveTimeout(n *NodeSpec) time.Duration { return d.timeoutFor(n) }
