package trigger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/trigger"
	"github.com/loomhq/loom/workflow"
)

// triggerSpy records run-start requests with thread safety.
type triggerSpy struct {
	mu    sync.Mutex
	calls []triggerCall
	err   error
}

type triggerCall struct {
	WorkflowID string
	Payload    any
}

func (s *triggerSpy) Fn() trigger.TriggerFunc {
	return func(_ context.Context, workflowID string, payload any) (*workflow.Run, error) {
		s.mu.Lock()
		s.calls = append(s.calls, triggerCall{WorkflowID: workflowID, Payload: payload})
		s.mu.Unlock()
		if s.err != nil {
			return nil, s.err
		}
		return &workflow.Run{ID: id.NewRunID(), WorkflowID: workflowID}, nil
	}
}

func (s *triggerSpy) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *triggerSpy) Calls() []triggerCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]triggerCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchNormalizesSource(t *testing.T) {
	spy := &triggerSpy{}
	d := trigger.NewDispatcher(spy.Fn(), discardLogger())

	runID, err := d.Dispatch(context.Background(), trigger.Request{
		WorkflowID: "order-processing",
		Payload:    map[string]any{"orderId": "ord_1"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if runID.IsNil() {
		t.Fatal("expected a run ID")
	}
	if spy.Count() != 1 {
		t.Fatalf("expected 1 trigger call, got %d", spy.Count())
	}
	if spy.Calls()[0].WorkflowID != "order-processing" {
		t.Fatalf("unexpected workflow: %s", spy.Calls()[0].WorkflowID)
	}
}

func TestDispatchMissingWorkflowID(t *testing.T) {
	spy := &triggerSpy{}
	d := trigger.NewDispatcher(spy.Fn(), discardLogger())

	_, err := d.Dispatch(context.Background(), trigger.Request{Source: trigger.SourceWebhook})
	if !errors.Is(err, loom.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}
	if spy.Count() != 0 {
		t.Fatal("trigger func should not be called")
	}
}

func TestDispatchPropagatesError(t *testing.T) {
	spy := &triggerSpy{err: loom.ErrWorkflowNotFound}
	d := trigger.NewDispatcher(spy.Fn(), discardLogger())

	_, err := d.Dispatch(context.Background(), trigger.Request{WorkflowID: "missing"})
	if !errors.Is(err, loom.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}
}

func TestParseSchedule(t *testing.T) {
	if _, err := trigger.ParseSchedule("*/5 * * * *"); err != nil {
		t.Fatalf("standard expression: %v", err)
	}
	if _, err := trigger.ParseSchedule("@every 30s"); err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	if _, err := trigger.ParseSchedule("not a cron"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSchedulerFiresDueEntry(t *testing.T) {
	spy := &triggerSpy{}
	d := trigger.NewDispatcher(spy.Fn(), discardLogger())
	s := trigger.NewScheduler(d, discardLogger(),
		trigger.WithTickInterval(5*time.Millisecond))

	if err := s.Add("nightly-report", "report", "@every 10ms", map[string]any{"kind": "daily"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background()) //nolint:errcheck

	deadline := time.Now().Add(2 * time.Second)
	for spy.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if spy.Count() == 0 {
		t.Fatal("schedule never fired")
	}
	call := spy.Calls()[0]
	if call.WorkflowID != "report" {
		t.Fatalf("unexpected workflow: %s", call.WorkflowID)
	}
	payload, ok := call.Payload.(map[string]any)
	if !ok || payload["kind"] != "daily" {
		t.Fatalf("unexpected payload: %#v", call.Payload)
	}
}

func TestSchedulerAddRejectsBadExpression(t *testing.T) {
	s := trigger.NewScheduler(trigger.NewDispatcher((&triggerSpy{}).Fn(), discardLogger()), discardLogger())
	if err := s.Add("bad", "report", "every day at noon", nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSchedulerRemove(t *testing.T) {
	spy := &triggerSpy{}
	d := trigger.NewDispatcher(spy.Fn(), discardLogger())
	s := trigger.NewScheduler(d, discardLogger(),
		trigger.WithTickInterval(5*time.Millisecond))

	if err := s.Add("nightly-report", "report", "@every 10ms", nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Remove("nightly-report")

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if spy.Count() != 0 {
		t.Fatalf("removed schedule fired %d times", spy.Count())
	}
}
