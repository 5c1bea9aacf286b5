package hook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/workflow"
)

type recorderSpy struct {
	mu     sync.Mutex
	events []*AuditEvent
	err    error
}

func (r *recorderSpy) Record(_ context.Context, evt *AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *recorderSpy) recorded() []*AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}

func testRun() *workflow.Run {
	return &workflow.Run{
		ID:         id.NewRunID(),
		WorkflowID: "orders",
		Version:    1,
		State:      workflow.RunStateRunning,
	}
}

func TestAuditHookEmitsAllActions(t *testing.T) {
	spy := &recorderSpy{}
	h := NewAuditHook(spy)
	ctx := context.Background()
	run := testRun()

	if err := h.OnRunStarted(ctx, run); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}
	if err := h.OnStepCompleted(ctx, run, "fetch", 12*time.Millisecond); err != nil {
		t.Fatalf("OnStepCompleted: %v", err)
	}
	if err := h.OnStepFailed(ctx, run, "charge", errors.New("declined")); err != nil {
		t.Fatalf("OnStepFailed: %v", err)
	}
	if err := h.OnRunFailed(ctx, run, "charge", errors.New("declined")); err != nil {
		t.Fatalf("OnRunFailed: %v", err)
	}

	events := spy.recorded()
	if len(events) != 4 {
		t.Fatalf("recorded %d events, want 4", len(events))
	}

	wantActions := []string{ActionRunStarted, ActionStepCompleted, ActionStepFailed, ActionRunFailed}
	for i, want := range wantActions {
		if events[i].Action != want {
			t.Errorf("event %d action = %q, want %q", i, events[i].Action, want)
		}
		if events[i].RunID != run.ID.String() {
			t.Errorf("event %d run_id = %q, want %q", i, events[i].RunID, run.ID)
		}
		if events[i].WorkflowID != "orders" {
			t.Errorf("event %d workflow_id = %q", i, events[i].WorkflowID)
		}
	}

	failed := events[3]
	if failed.Severity != SeverityCritical || failed.Outcome != OutcomeFailure {
		t.Errorf("run failed severity/outcome = %q/%q", failed.Severity, failed.Outcome)
	}
	if failed.Reason != "declined" {
		t.Errorf("run failed reason = %q, want declined", failed.Reason)
	}
	if failed.Metadata["step_name"] != "charge" {
		t.Errorf("run failed step_name = %v", failed.Metadata["step_name"])
	}
}

func TestAuditHookActionFilter(t *testing.T) {
	spy := &recorderSpy{}
	h := NewAuditHook(spy, WithAuditActions(ActionRunFailed))
	ctx := context.Background()
	run := testRun()

	_ = h.OnRunStarted(ctx, run)
	_ = h.OnRunCompleted(ctx, run, time.Second)
	_ = h.OnRunFailed(ctx, run, "charge", errors.New("declined"))

	events := spy.recorded()
	if len(events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(events))
	}
	if events[0].Action != ActionRunFailed {
		t.Fatalf("action = %q, want %q", events[0].Action, ActionRunFailed)
	}
}

func TestAuditHookRecorderErrorDoesNotPropagate(t *testing.T) {
	spy := &recorderSpy{err: errors.New("backend down")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewAuditHook(spy, WithAuditLogger(logger))

	if err := h.OnRunStarted(context.Background(), testRun()); err != nil {
		t.Fatalf("recorder failure leaked: %v", err)
	}
}

func TestAuditHookThroughRegistry(t *testing.T) {
	spy := &recorderSpy{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := NewRegistry(logger, time.Second)
	reg.Register(NewAuditHook(spy))

	ctx := context.Background()
	run := testRun()
	reg.EmitRunStarted(ctx, run)
	reg.EmitRunPaused(ctx, run, "tok_secret")
	reg.EmitRunResumed(ctx, run, true)
	reg.EmitRunCancelled(ctx, run, "operator request")

	events := spy.recorded()
	if len(events) != 4 {
		t.Fatalf("recorded %d events, want 4", len(events))
	}
	if events[1].Action != ActionRunPaused {
		t.Errorf("event 1 action = %q", events[1].Action)
	}
	for _, evt := range events {
		for _, v := range evt.Metadata {
			if v == "tok_secret" {
				t.Error("token handle leaked into audit metadata")
			}
		}
	}
	resumed := events[2]
	if resumed.Metadata["timed_out"] != true {
		t.Errorf("resumed timed_out = %v", resumed.Metadata["timed_out"])
	}
	if resumed.Severity != SeverityWarning {
		t.Errorf("timed-out resume severity = %q", resumed.Severity)
	}
}
