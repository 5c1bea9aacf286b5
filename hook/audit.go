package hook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomhq/loom/workflow"
)

// Compile-time interface checks.
var (
	_ Hook          = (*AuditHook)(nil)
	_ RunStarted    = (*AuditHook)(nil)
	_ RunCompleted  = (*AuditHook)(nil)
	_ RunFailed     = (*AuditHook)(nil)
	_ RunPaused     = (*AuditHook)(nil)
	_ RunResumed    = (*AuditHook)(nil)
	_ RunCancelled  = (*AuditHook)(nil)
	_ StepCompleted = (*AuditHook)(nil)
	_ StepFailed    = (*AuditHook)(nil)
	_ StepRetrying  = (*AuditHook)(nil)
)

// Audit event actions. Each constant corresponds to one lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionRunStarted    = "run.started"
	ActionRunCompleted  = "run.completed"
	ActionRunFailed     = "run.failed"
	ActionRunPaused     = "run.paused"
	ActionRunResumed    = "run.resumed"
	ActionRunCancelled  = "run.cancelled"
	ActionStepCompleted = "step.completed"
	ActionStepFailed    = "step.failed"
	ActionStepRetrying  = "step.retrying"
)

// Severity constants for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AllAuditActions returns every action the audit hook can emit.
func AllAuditActions() []string {
	return []string{
		ActionRunStarted,
		ActionRunCompleted,
		ActionRunFailed,
		ActionRunPaused,
		ActionRunResumed,
		ActionRunCancelled,
		ActionStepCompleted,
		ActionStepFailed,
		ActionStepRetrying,
	}
}

// AuditEvent is one entry in the audit trail. Callers provide a Recorder
// that bridges to their audit backend; the hook never persists directly.
type AuditEvent struct {
	Action   string `json:"action"`
	Severity string `json:"severity"`
	Outcome  string `json:"outcome"`

	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// AuditHook bridges run and step lifecycle events to an audit trail
// backend. Each lifecycle hook emits a structured audit event through
// the [Recorder].
type AuditHook struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// AuditOption configures an AuditHook.
type AuditOption func(*AuditHook)

// WithAuditActions restricts the hook to emit only the listed actions.
// By default all actions are enabled. Unknown actions are silently ignored.
func WithAuditActions(actions ...string) AuditOption {
	return func(h *AuditHook) {
		h.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			h.enabled[a] = true
		}
	}
}

// WithAuditLogger sets a custom logger for the hook.
func WithAuditLogger(l *slog.Logger) AuditOption {
	return func(h *AuditHook) { h.logger = l }
}

// NewAuditHook creates an AuditHook that emits audit events through the
// provided Recorder.
func NewAuditHook(r Recorder, opts ...AuditOption) *AuditHook {
	h := &AuditHook{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements Hook.
func (h *AuditHook) Name() string { return "audit" }

// OnRunStarted implements RunStarted.
func (h *AuditHook) OnRunStarted(ctx context.Context, run *workflow.Run) error {
	return h.record(ctx, ActionRunStarted, SeverityInfo, OutcomeSuccess, run, nil,
		"version", run.Version,
	)
}

// OnRunCompleted implements RunCompleted.
func (h *AuditHook) OnRunCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) error {
	return h.record(ctx, ActionRunCompleted, SeverityInfo, OutcomeSuccess, run, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnRunFailed implements RunFailed.
func (h *AuditHook) OnRunFailed(ctx context.Context, run *workflow.Run, stepName string, runErr error) error {
	return h.record(ctx, ActionRunFailed, SeverityCritical, OutcomeFailure, run, runErr,
		"step_name", stepName,
	)
}

// OnRunPaused implements RunPaused.
func (h *AuditHook) OnRunPaused(ctx context.Context, run *workflow.Run, token string) error {
	// The token handle itself is a resume credential, so only its
	// presence is recorded.
	return h.record(ctx, ActionRunPaused, SeverityInfo, OutcomeSuccess, run, nil)
}

// OnRunResumed implements RunResumed.
func (h *AuditHook) OnRunResumed(ctx context.Context, run *workflow.Run, timedOut bool) error {
	severity := SeverityInfo
	if timedOut {
		severity = SeverityWarning
	}
	return h.record(ctx, ActionRunResumed, severity, OutcomeSuccess, run, nil,
		"timed_out", timedOut,
	)
}

// OnRunCancelled implements RunCancelled.
func (h *AuditHook) OnRunCancelled(ctx context.Context, run *workflow.Run, reason string) error {
	return h.record(ctx, ActionRunCancelled, SeverityWarning, OutcomeFailure, run, nil,
		"reason", reason,
	)
}

// OnStepCompleted implements StepCompleted.
func (h *AuditHook) OnStepCompleted(ctx context.Context, run *workflow.Run, stepName string, elapsed time.Duration) error {
	return h.record(ctx, ActionStepCompleted, SeverityInfo, OutcomeSuccess, run, nil,
		"step_name", stepName,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnStepFailed implements StepFailed.
func (h *AuditHook) OnStepFailed(ctx context.Context, run *workflow.Run, stepName string, stepErr error) error {
	return h.record(ctx, ActionStepFailed, SeverityWarning, OutcomeFailure, run, stepErr,
		"step_name", stepName,
	)
}

// OnStepRetrying implements StepRetrying.
func (h *AuditHook) OnStepRetrying(ctx context.Context, run *workflow.Run, stepName string, attempt int, delay time.Duration) error {
	return h.record(ctx, ActionStepRetrying, SeverityWarning, OutcomeFailure, run, nil,
		"step_name", stepName,
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
	)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (h *AuditHook) record(
	ctx context.Context,
	action, severity, outcome string,
	run *workflow.Run,
	err error,
	kvPairs ...any,
) error {
	if h.enabled != nil && !h.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Severity:   severity,
		Outcome:    outcome,
		RunID:      run.ID.String(),
		WorkflowID: run.WorkflowID,
		Metadata:   meta,
		Reason:     reason,
	}

	if recErr := h.recorder.Record(ctx, evt); recErr != nil {
		h.logger.Warn("failed to record audit event",
			"action", action,
			"run_id", evt.RunID,
			"error", recErr,
		)
	}
	return nil
}
