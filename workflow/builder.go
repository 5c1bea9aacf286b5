package workflow

import (
	"fmt"
	"time"
)

// HumanOptions configures a HumanInTheLoop node.
type HumanOptions struct {
	// Timeout bounds how long the run stays suspended before the engine
	// synthesizes a timed-out resume. Zero means no timeout.
	Timeout time.Duration

	// Description explains what input is awaited, carried on the token.
	Description string

	// OnPause is invoked with the pause token when the run suspends.
	OnPause PauseFunc

	// OnTimeout fires before the engine resumes the run on timeout.
	OnTimeout func(ctx *Context)
}

// Builder assembles a workflow Definition. Methods append nodes in
// declaration order; Build validates the structure and compiles the
// block layout. Builders are single-use and not safe for concurrent use.
type Builder struct {
	def   *Definition
	while []*NodeSpec // open While nodes, innermost last
	anon  int
}

// NewBuilder starts a Definition with the given stable id and name.
func NewBuilder(workflowID, name string) *Builder {
	return &Builder{
		def: &Definition{
			ID:      workflowID,
			Name:    name,
			Version: 1,
			Queue:   "default",
		},
	}
}

// Version sets the definition version. Defaults to 1.
func (b *Builder) Version(v int) *Builder {
	b.def.Version = v
	return b
}

// Concurrency caps simultaneously running runs of this workflow.
func (b *Builder) Concurrency(n int) *Builder {
	b.def.Concurrency = n
	return b
}

// RateLimit caps sustained run starts per second.
func (b *Builder) RateLimit(perSecond float64) *Builder {
	b.def.RateLimit = perSecond
	return b
}

// Queue names the trigger queue for this workflow's runs.
func (b *Builder) Queue(name string) *Builder {
	b.def.Queue = name
	return b
}

// DefaultTimeout sets the fallback step timeout.
func (b *Builder) DefaultTimeout(d time.Duration) *Builder {
	b.def.DefaultTimeout = d
	return b
}

// DefaultRetry sets the fallback step retry policy.
func (b *Builder) DefaultRetry(p RetryPolicy) *Builder {
	b.def.DefaultRetry = &p
	return b
}

// OnSuccess sets the workflow-level completion hook.
func (b *Builder) OnSuccess(f func(ctx *Context)) *Builder {
	b.def.OnSuccess = f
	return b
}

// OnFailure sets the workflow-level failure hook.
func (b *Builder) OnFailure(f func(ctx *Context, stepName string)) *Builder {
	b.def.OnFailure = f
	return b
}

// append adds a node to the innermost open sequence.
func (b *Builder) append(n NodeSpec) {
	if len(b.while) > 0 {
		w := b.while[len(b.while)-1]
		w.Body = append(w.Body, n)
		return
	}
	b.def.Nodes = append(b.def.Nodes, n)
}

// marker generates a name for structural nodes the caller doesn't name.
func (b *Builder) marker(kind NodeKind) string {
	b.anon++
	return fmt.Sprintf("%s#%d", kind, b.anon)
}

// Step appends a step node whose output joins the step output table.
func (b *Builder) Step(name string, h Handler, opts ...NodeOption) *Builder {
	n := NodeSpec{Kind: KindStep, Name: name, Handler: h}
	for _, o := range opts {
		o(&n)
	}
	b.append(n)
	return b
}

// Action appends an action node. Actions run like steps but their output
// is excluded from the Last/Steps continuity (still recorded for audit).
func (b *Builder) Action(name string, h Handler, opts ...NodeOption) *Builder {
	n := NodeSpec{Kind: KindAction, Name: name, Handler: h}
	for _, o := range opts {
		o(&n)
	}
	b.append(n)
	return b
}

// If opens a guarded block executed when the predicate holds.
func (b *Builder) If(name string, p Predicate) *Builder {
	b.append(NodeSpec{Kind: KindIf, Name: name, Predicate: p})
	return b
}

// ElseIf adds an alternative guarded arm to the nearest open If.
func (b *Builder) ElseIf(name string, p Predicate) *Builder {
	b.append(NodeSpec{Kind: KindElseIf, Name: name, Predicate: p})
	return b
}

// Else adds the fallback arm to the nearest open If.
func (b *Builder) Else() *Builder {
	b.append(NodeSpec{Kind: KindElse, Name: b.marker(KindElse)})
	return b
}

// EndIf closes the nearest open If.
func (b *Builder) EndIf() *Builder {
	b.append(NodeSpec{Kind: KindEndIf, Name: b.marker(KindEndIf)})
	return b
}

// Parallel appends a parallel group. All branches receive the context
// from before the block and run concurrently; the joined output is an
// ordered slice matching declaration order.
func (b *Builder) Parallel(name string, branches ...Handler) *Builder {
	b.append(NodeSpec{Kind: KindParallel, Name: name, Branches: branches})
	return b
}

// Race appends a racing group: traversal proceeds with the first branch
// to settle, and the losers are cancelled best-effort.
func (b *Builder) Race(name string, branches ...Handler) *Builder {
	b.append(NodeSpec{Kind: KindRace, Name: name, Branches: branches})
	return b
}

// While opens a loop whose body re-executes as long as the predicate
// holds against the latest context. Close it with EndWhile.
func (b *Builder) While(name string, p Predicate) *Builder {
	b.append(NodeSpec{Kind: KindWhile, Name: name, Predicate: p})
	seq := b.target()
	b.while = append(b.while, &seq[len(seq)-1])
	return b
}

// EndWhile closes the innermost open While.
func (b *Builder) EndWhile() *Builder {
	if len(b.while) == 0 {
		// Recorded as a structural issue at Build time via a marker node.
		b.append(NodeSpec{Kind: NodeKind("endwhile"), Name: b.marker("endwhile")})
		return b
	}
	b.while = b.while[:len(b.while)-1]
	return b
}

// target returns the innermost open sequence.
func (b *Builder) target() []NodeSpec {
	if len(b.while) > 0 {
		return b.while[len(b.while)-1].Body
	}
	return b.def.Nodes
}

// ForEach appends a dynamic fan-out: one concurrent sub-execution per
// item, bounded by concurrency (zero means unbounded).
func (b *Builder) ForEach(name string, items ItemsFunc, fn ItemHandler, concurrency int) *Builder {
	b.append(NodeSpec{Kind: KindForEach, Name: name, Items: items, ItemFn: fn, Concurrency: concurrency})
	return b
}

// Batch appends a batched fan-out: items are partitioned into groups of
// size and the groups are processed sequentially.
func (b *Builder) Batch(name string, items ItemsFunc, size int, fn BatchHandler) *Builder {
	b.append(NodeSpec{Kind: KindBatch, Name: name, Items: items, BatchSize: size, BatchFn: fn})
	return b
}

// HumanInTheLoop appends a suspension point awaiting external input.
func (b *Builder) HumanInTheLoop(name string, opts HumanOptions) *Builder {
	b.append(NodeSpec{
		Kind:         KindHuman,
		Name:         name,
		PauseTimeout: opts.Timeout,
		Description:  opts.Description,
		OnPause:      opts.OnPause,
		OnTimeout:    opts.OnTimeout,
	})
	return b
}

// WaitForEvent appends a suspension point unblocked by a published event
// matching eventName, with an optional timeout (zero means none).
func (b *Builder) WaitForEvent(name, eventName string, timeout time.Duration) *Builder {
	b.append(NodeSpec{Kind: KindWaitEvent, Name: name, EventName: eventName, PauseTimeout: timeout})
	return b
}

// Sleep appends a durable pause that holds no worker.
func (b *Builder) Sleep(name string, d time.Duration) *Builder {
	b.append(NodeSpec{Kind: KindSleep, Name: name, Duration: d})
	return b
}

// Subflow appends a nested run of another workflow. input maps the
// parent context to the child payload; nil forwards the parent payload.
func (b *Builder) Subflow(name, workflowID string, input func(ctx *Context) any) *Builder {
	b.append(NodeSpec{Kind: KindSubflow, Name: name, SubflowID: workflowID, Input: input})
	return b
}

// Log appends a node that records a message without producing output.
func (b *Builder) Log(name string, msg func(ctx *Context) string) *Builder {
	b.append(NodeSpec{Kind: KindLog, Name: name, Message: msg})
	return b
}

// Cancel appends a node that transitions the run to cancelled,
// short-circuiting the remaining nodes.
func (b *Builder) Cancel(name, reason string) *Builder {
	b.append(NodeSpec{Kind: KindCancel, Name: name, Reason: reason})
	return b
}

// Build validates the assembled definition and compiles its block
// layout. Fails with *ValidationError on structural problems.
func (b *Builder) Build() (*Definition, error) {
	if len(b.while) > 0 {
		return nil, &ValidationError{
			WorkflowID: b.def.ID,
			Issues:     []string{fmt.Sprintf("%d while block(s) left open", len(b.while))},
		}
	}
	if b.def.ID == "" {
		return nil, &ValidationError{WorkflowID: b.def.ID, Issues: []string{"workflow id is required"}}
	}
	prog, err := compile(b.def.ID, b.def.Nodes)
	if err != nil {
		return nil, err
	}
	b.def.prog = prog
	return b.def, nil
}
