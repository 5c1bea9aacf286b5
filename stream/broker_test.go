package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/workflow"
)

func testRun(workflowID string) *workflow.Run {
	return &workflow.Run{
		ID:         id.NewRunID(),
		WorkflowID: workflowID,
		State:      workflow.RunStateRunning,
	}
}

func drain(t *testing.T, sub *Subscriber, n int) []*Event {
	t.Helper()
	events := make([]*Event, 0, n)
	deadline := time.After(time.Second)
	for len(events) < n {
		select {
		case evt := <-sub.C():
			events = append(events, evt)
		case <-deadline:
			t.Fatalf("received %d events, want %d", len(events), n)
		}
	}
	return events
}

func TestBrokerFirehoseReceivesEverything(t *testing.T) {
	b := NewBroker()
	sub, err := b.Subscribe("all")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx := context.Background()
	run := testRun("orders")
	if err := b.OnRunStarted(ctx, run); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}
	if err := b.OnStepCompleted(ctx, run, "fetch", 7*time.Millisecond); err != nil {
		t.Fatalf("OnStepCompleted: %v", err)
	}
	if err := b.OnRunCompleted(ctx, run, 20*time.Millisecond); err != nil {
		t.Fatalf("OnRunCompleted: %v", err)
	}

	events := drain(t, sub, 3)
	want := []EventType{EventRunStarted, EventStepCompleted, EventRunCompleted}
	for i, evt := range events {
		if evt.Type != want[i] {
			t.Errorf("event %d type = %q, want %q", i, evt.Type, want[i])
		}
		if evt.RunID != run.ID.String() {
			t.Errorf("event %d run_id = %q", i, evt.RunID)
		}
	}

	var step StepEventData
	if err := json.Unmarshal(events[1].Data, &step); err != nil {
		t.Fatalf("decode step data: %v", err)
	}
	if step.StepName != "fetch" || step.ElapsedMs != 7 {
		t.Errorf("step data = %+v", step)
	}
}

func TestBrokerTopicScoping(t *testing.T) {
	b := NewBroker()
	orders, err := b.Subscribe("orders-watcher", WorkflowTopic("orders"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx := context.Background()
	if err := b.OnRunStarted(ctx, testRun("billing")); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}
	target := testRun("orders")
	if err := b.OnRunStarted(ctx, target); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}

	events := drain(t, orders, 1)
	if events[0].WorkflowID != "orders" {
		t.Fatalf("workflow_id = %q, want orders", events[0].WorkflowID)
	}
	select {
	case evt := <-orders.C():
		t.Fatalf("unexpected extra event %q for %q", evt.Type, evt.WorkflowID)
	default:
	}
}

func TestBrokerRunTopicDeduplicates(t *testing.T) {
	b := NewBroker()
	run := testRun("orders")

	// Subscribed to both the run topic and its workflow topic: each
	// event must arrive once.
	sub, err := b.Subscribe("both", RunTopic(run.ID.String()), WorkflowTopic("orders"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.OnRunCancelled(context.Background(), run, "operator request"); err != nil {
		t.Fatalf("OnRunCancelled: %v", err)
	}

	events := drain(t, sub, 1)
	var data RunEventData
	if err := json.Unmarshal(events[0].Data, &data); err != nil {
		t.Fatalf("decode run data: %v", err)
	}
	if data.Reason != "operator request" {
		t.Errorf("reason = %q", data.Reason)
	}
	select {
	case <-sub.C():
		t.Fatal("event delivered twice")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBrokerFullBufferDrops(t *testing.T) {
	b := NewBroker(WithBufferSize(1))
	sub, err := b.Subscribe("slow")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx := context.Background()
	run := testRun("orders")
	for i := 0; i < 3; i++ {
		if err := b.OnRunStarted(ctx, run); err != nil {
			t.Fatalf("OnRunStarted: %v", err)
		}
	}

	if got := sub.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
	published, delivered := b.Stats()
	if published != 3 || delivered != 1 {
		t.Fatalf("stats published/delivered = %d/%d, want 3/1", published, delivered)
	}
}

func TestBrokerValidateTopic(t *testing.T) {
	cases := []struct {
		topic string
		ok    bool
	}{
		{TopicFirehose, true},
		{RunTopic("run_abc"), true},
		{WorkflowTopic("orders"), true},
		{"run:", false},
		{"queue:high", false},
		{"bogus", false},
	}
	for _, tc := range cases {
		err := ValidateTopic(tc.topic)
		if tc.ok && err != nil {
			t.Errorf("ValidateTopic(%q) = %v, want nil", tc.topic, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ValidateTopic(%q) = nil, want error", tc.topic)
		}
	}
}

func TestBrokerDuplicateSubscriberID(t *testing.T) {
	b := NewBroker()
	if _, err := b.Subscribe("dup"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := b.Subscribe("dup"); err == nil {
		t.Fatal("duplicate subscriber ID accepted")
	}
}

func TestBrokerUnsubscribeAndShutdown(t *testing.T) {
	b := NewBroker()
	gone, err := b.Subscribe("gone")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	stay, err := b.Subscribe("stay")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b.Unsubscribe("gone")
	if _, open := <-gone.C(); open {
		t.Fatal("unsubscribed channel still open")
	}

	ctx := context.Background()
	run := testRun("orders")
	if err := b.OnRunFailed(ctx, run, "charge", errors.New("declined")); err != nil {
		t.Fatalf("OnRunFailed: %v", err)
	}
	drain(t, stay, 1)

	b.OnShutdown(ctx)
	if _, open := <-stay.C(); open {
		t.Fatal("channel still open after shutdown")
	}
}
