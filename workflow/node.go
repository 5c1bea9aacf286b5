package workflow

import (
	"time"
)

// Handler is a user-supplied step body. It receives the per-invocation
// Context and returns an output value (JSON-serializable for persistence)
// or an error. The engine treats the payload as opaque.
type Handler func(ctx *Context) (any, error)

// Predicate is a pure function of the Context used by If/ElseIf/While
// nodes. Predicates must not have side effects; the interpreter evaluates
// each predicate at most once per traversal.
type Predicate func(ctx *Context) bool

// ItemsFunc produces the item collection for ForEach/Batch nodes at
// runtime, from the current Context.
type ItemsFunc func(ctx *Context) []any

// ItemHandler processes one item of a ForEach fan-out.
type ItemHandler func(ctx *Context, item any) (any, error)

// BatchHandler processes one fixed-size group of items for a Batch node.
type BatchHandler func(ctx *Context, items []any) (any, error)

// PauseFunc is invoked when a HumanInTheLoop node suspends a run, so the
// caller can notify an external party. The token string is the single-use
// handle that resumes the run.
type PauseFunc func(ctx *Context, token string)

// NodeKind discriminates the NodeSpec tagged variant.
type NodeKind string

// Node kinds.
const (
	KindStep      NodeKind = "step"
	KindAction    NodeKind = "action"
	KindIf        NodeKind = "if"
	KindElseIf    NodeKind = "elseif"
	KindElse      NodeKind = "else"
	KindEndIf     NodeKind = "endif"
	KindParallel  NodeKind = "parallel"
	KindRace      NodeKind = "race"
	KindWhile     NodeKind = "while"
	KindForEach   NodeKind = "foreach"
	KindBatch     NodeKind = "batch"
	KindHuman     NodeKind = "human"
	KindWaitEvent NodeKind = "wait_event"
	KindSleep     NodeKind = "sleep"
	KindSubflow   NodeKind = "subflow"
	KindLog       NodeKind = "log"
	KindCancel    NodeKind = "cancel"
)

// BackoffKind selects the retry delay strategy for a step.
type BackoffKind string

// Backoff kinds.
const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy bounds step retry behavior. Attempts is the total number of
// invocations (1 means no retries). Delay is the base delay between
// attempts, grown per Backoff.
type RetryPolicy struct {
	Attempts int
	Backoff  BackoffKind
	Delay    time.Duration
	MaxDelay time.Duration
}

// CachePolicy enables the step-level result cache. Key derives the cache
// key from the Context; TTL bounds entry lifetime. A cache hit suppresses
// the handler invocation entirely.
type CachePolicy struct {
	Key func(ctx *Context) string
	TTL time.Duration
}

// NodeSpec is one element of a workflow's compiled node sequence. It is a
// closed tagged variant: Kind selects which fields are meaningful, and the
// interpreter switches exhaustively over kinds.
type NodeSpec struct {
	Kind NodeKind
	Name string

	// Step/Action fields.
	Handler Handler
	Timeout time.Duration
	Delay   time.Duration
	Retry   *RetryPolicy
	Cache   *CachePolicy
	OnError Handler

	// If/ElseIf/While predicate.
	Predicate Predicate

	// Parallel/Race branches, declaration-ordered.
	Branches []Handler

	// ForEach/Batch fields.
	Items       ItemsFunc
	ItemFn      ItemHandler
	BatchFn     BatchHandler
	BatchSize   int
	Concurrency int

	// While body, executed as an ordinary step sequence per iteration.
	Body []NodeSpec

	// HumanInTheLoop / WaitForEvent fields.
	PauseTimeout time.Duration
	Description  string
	OnPause      PauseFunc
	OnTimeout    func(ctx *Context)
	EventName    string

	// Sleep duration.
	Duration time.Duration

	// Subflow fields: the target definition id and an optional input
	// mapping from the parent context. A nil input func forwards the
	// parent payload.
	SubflowID string
	Input     func(ctx *Context) any

	// Log message producer.
	Message func(ctx *Context) string

	// Cancel reason.
	Reason string
}

// NodeOption configures a Step or Action node at build time.
type NodeOption func(*NodeSpec)

// WithTimeout bounds a single handler invocation. Exceeding it fails the
// attempt with ErrStepTimeout.
func WithTimeout(d time.Duration) NodeOption {
	return func(n *NodeSpec) { n.Timeout = d }
}

// WithDelay postpones the node's execution without holding a worker.
func WithDelay(d time.Duration) NodeOption {
	return func(n *NodeSpec) { n.Delay = d }
}

// WithRetry sets the node's retry policy.
func WithRetry(p RetryPolicy) NodeOption {
	return func(n *NodeSpec) { n.Retry = &p }
}

// WithCache sets the node's result cache policy.
func WithCache(p CachePolicy) NodeOption {
	return func(n *NodeSpec) { n.Cache = &p }
}

// WithOnError sets a handler invoked after the retry policy is exhausted,
// before the node is marked failed.
func WithOnError(h Handler) NodeOption {
	return func(n *NodeSpec) { n.OnError = h }
}
