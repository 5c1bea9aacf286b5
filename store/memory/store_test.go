package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/pause"
	"github.com/loomhq/loom/store/memory"
	"github.com/loomhq/loom/workflow"
)

func newRun(workflowID string, st workflow.RunState) *workflow.Run {
	now := time.Now().UTC()
	return &workflow.Run{
		ID:         id.NewRunID(),
		WorkflowID: workflowID,
		Version:    1,
		State:      st,
		Cursor:     workflow.Root(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestRunLifecycle(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	run := newRun("orders", workflow.RunStatePending)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != workflow.RunStatePending {
		t.Fatalf("state = %s", got.State)
	}

	got.State = workflow.RunStateRunning
	if err := s.UpdateRun(ctx, got); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	// The store must hand out copies: mutating a returned run without
	// UpdateRun must not leak into the stored copy.
	got.State = workflow.RunStateFailed
	again, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if again.State != workflow.RunStateRunning {
		t.Fatalf("stored state mutated through returned pointer: %s", again.State)
	}

	if _, err := s.GetRun(ctx, id.NewRunID()); !errors.Is(err, loom.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := s.UpdateRun(ctx, newRun("orders", workflow.RunStatePending)); !errors.Is(err, loom.ErrRunNotFound) {
		t.Fatalf("update of unknown run: %v", err)
	}
}

func TestListRunsFiltering(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		run := newRun("orders", workflow.RunStatePending)
		run.CreatedAt = run.CreatedAt.Add(time.Duration(i) * time.Millisecond)
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	done := newRun("orders", workflow.RunStateCompleted)
	if err := s.CreateRun(ctx, done); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	other := newRun("reports", workflow.RunStatePending)
	if err := s.CreateRun(ctx, other); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	pending, err := s.ListRuns(ctx, workflow.ListOpts{
		WorkflowID: "orders",
		State:      workflow.RunStatePending,
	})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].CreatedAt.Before(pending[i-1].CreatedAt) {
			t.Fatal("runs not ordered oldest first")
		}
	}

	limited, err := s.ListRuns(ctx, workflow.ListOpts{WorkflowID: "orders", Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited = %d, want 2", len(limited))
	}

	n, err := s.CountRuns(ctx, workflow.ListOpts{WorkflowID: "orders"})
	if err != nil {
		t.Fatalf("CountRuns: %v", err)
	}
	if n != 4 {
		t.Fatalf("count = %d, want 4", n)
	}
}

func TestStepRecordsAppendOnly(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	run := newRun("orders", workflow.RunStateRunning)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		rec := &workflow.StepRecord{
			ID:        id.NewStepID(),
			RunID:     run.ID,
			StepName:  "unstable",
			Status:    workflow.StepStatusFailed,
			Attempt:   attempt,
			StartedAt: time.Now().UTC(),
		}
		if attempt == 3 {
			rec.Status = workflow.StepStatusSucceeded
		}
		if err := s.AppendStepRecord(ctx, rec); err != nil {
			t.Fatalf("AppendStepRecord: %v", err)
		}
	}

	recs, err := s.ListStepRecords(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListStepRecords: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	for i, rec := range recs {
		if rec.Attempt != i+1 {
			t.Fatalf("record %d attempt = %d", i, rec.Attempt)
		}
	}
	if recs[2].Status != workflow.StepStatusSucceeded {
		t.Fatalf("final status = %s", recs[2].Status)
	}
}

func TestChildRuns(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	parent := newRun("parent-flow", workflow.RunStateRunning)
	if err := s.CreateRun(ctx, parent); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	for i := 0; i < 2; i++ {
		child := newRun("child-flow", workflow.RunStateCompleted)
		child.ParentRunID = &parent.ID
		child.CreatedAt = child.CreatedAt.Add(time.Duration(i) * time.Millisecond)
		if err := s.CreateRun(ctx, child); err != nil {
			t.Fatalf("CreateRun child: %v", err)
		}
	}

	children, err := s.ListChildRuns(ctx, parent.ID)
	if err != nil {
		t.Fatalf("ListChildRuns: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("children = %d, want 2", len(children))
	}
	if children[1].CreatedAt.Before(children[0].CreatedAt) {
		t.Fatal("children not ordered oldest first")
	}
}

func TestConsumePauseTokenExactlyOnce(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	tok := &pause.Token{
		ID:        id.NewPauseID(),
		Token:     "tok-approval",
		RunID:     id.NewRunID(),
		NodeName:  "approval",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreatePauseToken(ctx, tok); err != nil {
		t.Fatalf("CreatePauseToken: %v", err)
	}

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan pause.Consumer, racers)
	for i := 0; i < racers; i++ {
		by := pause.ConsumedByResume
		if i%2 == 0 {
			by = pause.ConsumedByTimeout
		}
		wg.Add(1)
		go func(by pause.Consumer) {
			defer wg.Done()
			if _, err := s.ConsumePauseToken(ctx, "tok-approval", by); err == nil {
				wins <- by
			}
		}(by)
	}
	wg.Wait()
	close(wins)

	var winners []pause.Consumer
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %d, want exactly 1", len(winners))
	}

	// The loser error tells whether the timeout watcher won.
	_, err := s.ConsumePauseToken(ctx, "tok-approval", pause.ConsumedByResume)
	switch winners[0] {
	case pause.ConsumedByTimeout:
		if !errors.Is(err, loom.ErrTokenExpired) {
			t.Fatalf("expected ErrTokenExpired, got %v", err)
		}
	default:
		if !errors.Is(err, loom.ErrTokenConsumed) {
			t.Fatalf("expected ErrTokenConsumed, got %v", err)
		}
	}

	if _, err := s.ConsumePauseToken(ctx, "tok-unknown", pause.ConsumedByResume); !errors.Is(err, loom.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestListExpiredPauseTokens(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	tokens := []*pause.Token{
		{ID: id.NewPauseID(), Token: "expired", RunID: id.NewRunID(), CreatedAt: now, TimeoutAt: &past},
		{ID: id.NewPauseID(), Token: "live", RunID: id.NewRunID(), CreatedAt: now, TimeoutAt: &future},
		{ID: id.NewPauseID(), Token: "no-timeout", RunID: id.NewRunID(), CreatedAt: now},
	}
	for _, tok := range tokens {
		if err := s.CreatePauseToken(ctx, tok); err != nil {
			t.Fatalf("CreatePauseToken: %v", err)
		}
	}

	expired, err := s.ListExpiredPauseTokens(ctx, now)
	if err != nil {
		t.Fatalf("ListExpiredPauseTokens: %v", err)
	}
	if len(expired) != 1 || expired[0].Token != "expired" {
		t.Fatalf("expired = %+v", expired)
	}

	// Consumed tokens never show up as expired.
	if _, err := s.ConsumePauseToken(ctx, "expired", pause.ConsumedByTimeout); err != nil {
		t.Fatalf("ConsumePauseToken: %v", err)
	}
	expired, err = s.ListExpiredPauseTokens(ctx, now)
	if err != nil {
		t.Fatalf("ListExpiredPauseTokens: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expired after consume = %d, want 0", len(expired))
	}
}

func TestEventQueueOrdering(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 2; i++ {
		evt := &event.Event{
			ID:        id.NewEventID(),
			Name:      "payment-confirmed",
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}
		if err := s.PublishEvent(ctx, evt); err != nil {
			t.Fatalf("PublishEvent: %v", err)
		}
	}

	first, err := s.NextEvent(ctx, "payment-confirmed")
	if err != nil {
		t.Fatalf("NextEvent: %v", err)
	}
	if err := s.AckEvent(ctx, first.ID); err != nil {
		t.Fatalf("AckEvent: %v", err)
	}

	second, err := s.NextEvent(ctx, "payment-confirmed")
	if err != nil {
		t.Fatalf("NextEvent: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("acked event returned again")
	}
	if first.CreatedAt.After(second.CreatedAt) {
		t.Fatal("events not consumed oldest first")
	}
	if err := s.AckEvent(ctx, second.ID); err != nil {
		t.Fatalf("AckEvent: %v", err)
	}

	if _, err := s.NextEvent(ctx, "payment-confirmed"); !errors.Is(err, loom.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestStateTTL(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.SetState(ctx, "wf:orders", "mode", []byte(`"fast"`), time.Millisecond); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if _, err := s.GetState(ctx, "wf:orders", "mode"); err != nil {
		t.Fatalf("GetState before expiry: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	// Expired entries read as absent even before the sweep runs.
	if _, err := s.GetState(ctx, "wf:orders", "mode"); !errors.Is(err, loom.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}

	n, err := s.SweepExpiredState(ctx)
	if err != nil {
		t.Fatalf("SweepExpiredState: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}
}

func TestStateScopeIsolation(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.SetState(ctx, "wf:orders", "mode", []byte(`"a"`), 0); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := s.SetState(ctx, "global", "mode", []byte(`"b"`), 0); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	v, err := s.GetState(ctx, "wf:orders", "mode")
	if err != nil || string(v) != `"a"` {
		t.Fatalf("scoped read = %s, %v", v, err)
	}
	if err := s.DeleteState(ctx, "wf:orders", "mode"); err != nil {
		t.Fatalf("DeleteState: %v", err)
	}
	if _, err := s.GetState(ctx, "global", "mode"); err != nil {
		t.Fatalf("delete leaked across scopes: %v", err)
	}
}

func TestIncrState(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IncrState(ctx, "global", "counter", 1); err != nil {
				t.Errorf("IncrState: %v", err)
			}
		}()
	}
	wg.Wait()

	v, err := s.IncrState(ctx, "global", "counter", 0)
	if err != nil {
		t.Fatalf("IncrState: %v", err)
	}
	if v != workers {
		t.Fatalf("counter = %d, want %d", v, workers)
	}

	if err := s.SetState(ctx, "global", "label", []byte(`"text"`), 0); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if _, err := s.IncrState(ctx, "global", "label", 1); !errors.Is(err, loom.ErrNonNumericState) {
		t.Fatalf("expected ErrNonNumericState, got %v", err)
	}
}
