package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/hook"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/pause"
	"github.com/loomhq/loom/state"
	"github.com/loomhq/loom/workflow"
)

// errSuspended unwinds the interpreter loop when a run parks on a pause
// token, an awaited event, or an unsettled subflow. It never escapes the
// package: a suspension is a normal outcome, not an error.
var errSuspended = errors.New("engine: run suspended")

// Interpreter walks a run's compiled node sequence from its persisted
// cursor, executing step nodes through the Executor and resolving control
// flow, until the run completes, fails, cancels, or suspends. One run has
// one logical thread of control; fan-out happens only inside
// Parallel/Race/ForEach nodes.
type Interpreter struct {
	registry *workflow.Registry
	store    workflow.Store
	state    state.Store
	exec     *Executor
	pauser   *pause.Coordinator
	bus      *event.Bus
	hooks    *hook.Registry
	logger   *slog.Logger
	grace    time.Duration
}

// NewInterpreter wires the control-flow interpreter.
func NewInterpreter(
	registry *workflow.Registry,
	store workflow.Store,
	st state.Store,
	exec *Executor,
	pauser *pause.Coordinator,
	bus *event.Bus,
	hooks *hook.Registry,
	logger *slog.Logger,
	grace time.Duration,
) *Interpreter {
	return &Interpreter{
		registry: registry,
		store:    store,
		state:    st,
		exec:     exec,
		pauser:   pauser,
		bus:      bus,
		hooks:    hooks,
		logger:   logger,
		grace:    grace,
	}
}

// session is one interpreter pass over a run: the run, its definition,
// and the handler context rebuilt from persisted step records.
type session struct {
	run   *workflow.Run
	def   *workflow.Definition
	wctx  *workflow.Context
	mocks map[string]any
}

// programAt resolves the compiled program the given frame stack bottoms
// out in. Frames past the first are always While frames.
func (s *session) programAt(frames []workflow.Frame) *workflow.Program {
	prog := s.def.Program()
	for _, f := range frames[1:] {
		prog = prog.Bodies[f.Node]
	}
	return prog
}

// Advance drives a pending or running run from its persisted cursor until
// it settles (terminal or suspended). A settled run returns nil; errors
// are infrastructure failures only.
func (i *Interpreter) Advance(ctx context.Context, run *workflow.Run) error {
	return i.advance(ctx, run, nil)
}

func (i *Interpreter) advance(ctx context.Context, run *workflow.Run, mocks map[string]any) error {
	def, ok := i.registry.Get(run.WorkflowID)
	if !ok {
		return fmt.Errorf("engine: run %s: %w", run.ID, loom.ErrWorkflowNotFound)
	}

	wctx, err := i.buildContext(ctx, run, def)
	if err != nil {
		return err
	}
	s := &session{run: run, def: def, wctx: wctx, mocks: mocks}

	switch run.State {
	case workflow.RunStatePending:
		now := time.Now().UTC()
		run.State = workflow.RunStateRunning
		run.StartedAt = &now
		if err := i.save(ctx, run); err != nil {
			return err
		}
		i.hooks.EmitRunStarted(ctx, run)
	case workflow.RunStateRunning:
		// Crash recovery re-entry: resume at the persisted cursor.
	case workflow.RunStatePaused:
		// Internal re-entry (a parked parent whose child settled).
		run.State = workflow.RunStateRunning
		if err := i.save(ctx, run); err != nil {
			return err
		}
	default:
		return fmt.Errorf("engine: run %s: %w", run.ID, loom.ErrRunTerminal)
	}

	if err := i.runLoop(ctx, s); err != nil {
		if errors.Is(err, errSuspended) {
			return nil
		}
		return err
	}
	return nil
}

// runLoop executes nodes from the cursor until the run settles.
func (i *Interpreter) runLoop(ctx context.Context, s *session) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frames := s.run.Cursor.Frames
		f := &s.run.Cursor.Frames[len(frames)-1]
		prog := s.programAt(frames)

		if f.Index >= len(prog.Nodes) {
			if f.Kind == workflow.FrameWhile {
				if err := i.closeIteration(ctx, s, f, frames); err != nil {
					return err
				}
				continue
			}
			return i.complete(ctx, s)
		}

		node := &prog.Nodes[f.Index]
		settled, err := i.dispatch(ctx, s, prog, f, node)
		if err != nil {
			return err
		}
		if settled {
			return nil
		}
	}
}

// closeIteration handles a While body reaching its end: re-evaluate the
// predicate against the latest context and either loop or pop the frame.
func (i *Interpreter) closeIteration(ctx context.Context, s *session, f *workflow.Frame, frames []workflow.Frame) error {
	parentProg := s.programAt(frames[:len(frames)-1])
	whileNode := &parentProg.Nodes[f.Node]

	if whileNode.Predicate(s.wctx) {
		f.Iteration++
		f.Index = 0
		return i.save(ctx, s.run)
	}

	s.run.Cursor.Frames = s.run.Cursor.Frames[:len(frames)-1]
	pf := &s.run.Cursor.Frames[len(s.run.Cursor.Frames)-1]
	pf.Index = f.Node + 1
	return i.save(ctx, s.run)
}

// dispatch executes one node. settled reports that the run reached a
// terminal or suspended state and the loop must stop.
func (i *Interpreter) dispatch(ctx context.Context, s *session, prog *workflow.Program, f *workflow.Frame, node *workflow.NodeSpec) (settled bool, err error) {
	switch node.Kind {
	case workflow.KindStep, workflow.KindAction:
		return i.execStep(ctx, s, f, node)

	case workflow.KindIf:
		block := prog.Blocks[f.Index]
		target := block.End
		matched := false
		for _, arm := range block.Arms {
			if prog.Nodes[arm.Node].Predicate(s.wctx) {
				target = arm.BodyStart
				matched = true
				break
			}
		}
		if !matched && block.ElseStart >= 0 {
			target = block.ElseStart
		}
		f.Index = target
		return false, i.save(ctx, s.run)

	case workflow.KindElseIf, workflow.KindElse:
		// Reached sequentially: the preceding arm's body is done.
		f.Index = condEnd(prog, f.Index)
		return false, i.save(ctx, s.run)

	case workflow.KindEndIf:
		f.Index++
		return false, i.save(ctx, s.run)

	case workflow.KindWhile:
		if node.Predicate(s.wctx) {
			s.run.Cursor.Frames = append(s.run.Cursor.Frames, workflow.Frame{
				Kind: workflow.FrameWhile,
				Node: f.Index,
			})
		} else {
			f.Index++
		}
		return false, i.save(ctx, s.run)

	case workflow.KindParallel:
		out, err := i.runParallel(ctx, s, node)
		return i.finishJoin(ctx, s, f, node, out, err)

	case workflow.KindRace:
		out, err := i.runRace(ctx, s, node)
		return i.finishJoin(ctx, s, f, node, out, err)

	case workflow.KindForEach:
		out, err := i.runForEach(ctx, s, node)
		return i.finishJoin(ctx, s, f, node, out, err)

	case workflow.KindBatch:
		out, err := i.runBatch(ctx, s, node)
		return i.finishJoin(ctx, s, f, node, out, err)

	case workflow.KindHuman:
		return true, i.suspend(ctx, s, node, pause.SuspendOptions{
			RunID:       s.run.ID,
			NodeName:    node.Name,
			Timeout:     node.PauseTimeout,
			Description: node.Description,
		})

	case workflow.KindWaitEvent:
		return i.waitEvent(ctx, s, f, node)

	case workflow.KindSleep:
		return true, i.suspend(ctx, s, node, pause.SuspendOptions{
			RunID:       s.run.ID,
			NodeName:    node.Name,
			Timeout:     node.Duration,
			Description: "sleep",
		})

	case workflow.KindSubflow:
		return i.runSubflow(ctx, s, f, node)

	case workflow.KindLog:
		msg := ""
		if node.Message != nil {
			msg = node.Message(s.wctx)
		}
		i.logger.Info(msg,
			slog.String("run_id", s.run.ID.String()),
			slog.String("workflow_id", s.run.WorkflowID),
			slog.String("node", node.Name),
		)
		if err := i.exec.record(ctx, s.run, node.Name, workflow.StepStatusSucceeded, 1, msg, nil, time.Now().UTC()); err != nil {
			return false, err
		}
		f.Index++
		return false, i.save(ctx, s.run)

	case workflow.KindCancel:
		return true, i.CancelRun(ctx, s.run, node.Reason)

	default:
		// Unreachable for validated definitions.
		return true, i.fail(ctx, s, node.Name, fmt.Errorf("engine: unknown node kind %q", node.Kind))
	}
}

// execStep runs a Step or Action node, honoring replay mocks. Action
// outputs are recorded for audit but stay out of the context's
// Steps/Last continuity.
func (i *Interpreter) execStep(ctx context.Context, s *session, f *workflow.Frame, node *workflow.NodeSpec) (bool, error) {
	if mock, ok := s.mocks[node.Name]; ok {
		if err := i.exec.record(ctx, s.run, node.Name, workflow.StepStatusSucceeded, 1, mock, nil, time.Now().UTC()); err != nil {
			return false, err
		}
		if node.Kind == workflow.KindStep {
			s.wctx.SetOutput(node.Name, mock)
		}
		f.Index++
		return false, i.save(ctx, s.run)
	}

	res, err := i.exec.Execute(ctx, s.def, s.run, node, s.wctx)
	if err != nil {
		var hErr *HandlerError
		if errors.As(err, &hErr) {
			return true, i.fail(ctx, s, node.Name, err)
		}
		return false, err
	}

	if node.Kind == workflow.KindStep {
		s.wctx.SetOutput(node.Name, res.Output)
	}
	f.Index++
	return false, i.save(ctx, s.run)
}

// finishJoin records a fan-out node's joined output (or failure) and
// advances the cursor.
func (i *Interpreter) finishJoin(ctx context.Context, s *session, f *workflow.Frame, node *workflow.NodeSpec, out any, joinErr error) (bool, error) {
	if joinErr != nil {
		if errors.Is(joinErr, ctx.Err()) && ctx.Err() != nil {
			return false, joinErr
		}
		if recErr := i.exec.record(ctx, s.run, node.Name, workflow.StepStatusFailed, 1, nil, joinErr, time.Now().UTC()); recErr != nil {
			return false, recErr
		}
		i.hooks.EmitStepFailed(ctx, s.run, node.Name, joinErr)
		return true, i.fail(ctx, s, node.Name, joinErr)
	}

	if err := i.exec.record(ctx, s.run, node.Name, workflow.StepStatusSucceeded, 1, out, nil, time.Now().UTC()); err != nil {
		return false, err
	}
	s.wctx.SetOutput(node.Name, out)
	f.Index++
	return false, i.save(ctx, s.run)
}

// runParallel executes all branches concurrently and reassembles outputs
// in declaration order regardless of completion order.
func (i *Interpreter) runParallel(ctx context.Context, s *session, node *workflow.NodeSpec) (any, error) {
	results := make([]any, len(node.Branches))
	g, gctx := errgroup.WithContext(ctx)
	for idx, branch := range node.Branches {
		g.Go(func() error {
			out, err := branch(s.wctx.Fork(gctx))
			if err != nil {
				return fmt.Errorf("branch %d: %w", idx, err)
			}
			results[idx] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// runRace returns the first branch to settle; the losers' contexts are
// cancelled best-effort and their results discarded.
func (i *Interpreter) runRace(ctx context.Context, s *session, node *workflow.NodeSpec) (any, error) {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type settled struct {
		out any
		err error
	}
	ch := make(chan settled, len(node.Branches))
	for idx, branch := range node.Branches {
		go func() {
			out, err := branch(s.wctx.Fork(rctx))
			if err != nil {
				err = fmt.Errorf("branch %d: %w", idx, err)
			}
			ch <- settled{out: out, err: err}
		}()
	}

	select {
	case first := <-ch:
		cancel()
		return first.out, first.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runForEach fans out one sub-execution per item, bounded by the node's
// concurrency cap, and reassembles outputs in item order.
func (i *Interpreter) runForEach(ctx context.Context, s *session, node *workflow.NodeSpec) (any, error) {
	items := node.Items(s.wctx)
	results := make([]any, len(items))

	g, gctx := errgroup.WithContext(ctx)
	if node.Concurrency > 0 {
		g.SetLimit(node.Concurrency)
	}
	for idx, item := range items {
		g.Go(func() error {
			out, err := node.ItemFn(s.wctx.Fork(gctx), item)
			if err != nil {
				return fmt.Errorf("item %d: %w", idx, err)
			}
			results[idx] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// runBatch partitions items into fixed-size groups processed sequentially.
func (i *Interpreter) runBatch(ctx context.Context, s *session, node *workflow.NodeSpec) (any, error) {
	items := node.Items(s.wctx)
	var results []any
	for start := 0; start < len(items); start += node.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + node.BatchSize
		if end > len(items) {
			end = len(items)
		}
		out, err := node.BatchFn(s.wctx, items[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", start/node.BatchSize, err)
		}
		results = append(results, out)
	}
	return results, nil
}

// suspend parks the run on a fresh pause token. The run is persisted
// PAUSED before the token exists: the moment a token is visible, the
// watcher or a published event may consume it and resume, and that
// resume must find a resumable run.
func (i *Interpreter) suspend(ctx context.Context, s *session, node *workflow.NodeSpec, opts pause.SuspendOptions) error {
	s.run.State = workflow.RunStatePaused
	if err := i.save(ctx, s.run); err != nil {
		return err
	}
	tok, err := i.pauser.Suspend(ctx, opts)
	if err != nil {
		s.run.State = workflow.RunStateRunning
		if saveErr := i.save(ctx, s.run); saveErr != nil {
			i.logger.Error("revert to running after failed suspend",
				slog.String("run_id", s.run.ID.String()),
				slog.String("error", saveErr.Error()),
			)
		}
		return err
	}
	if node.OnPause != nil {
		node.OnPause(s.wctx, tok.Token)
	}
	i.hooks.EmitRunPaused(ctx, s.run, tok.Token)
	return errSuspended
}

// waitEvent consumes an already-published matching event immediately, or
// suspends on a token bound to the event name.
func (i *Interpreter) waitEvent(ctx context.Context, s *session, f *workflow.Frame, node *workflow.NodeSpec) (bool, error) {
	evt, err := i.bus.Next(ctx, node.EventName)
	if err == nil {
		if ackErr := i.bus.Ack(ctx, evt.ID); ackErr != nil {
			return false, ackErr
		}
		out := evt.PayloadMap()
		if recErr := i.exec.record(ctx, s.run, node.Name, workflow.StepStatusSucceeded, 1, out, nil, time.Now().UTC()); recErr != nil {
			return false, recErr
		}
		s.wctx.SetOutput(node.Name, out)
		f.Index++
		return false, i.save(ctx, s.run)
	}
	if !errors.Is(err, loom.ErrEventNotFound) {
		return false, err
	}

	return true, i.suspend(ctx, s, node, pause.SuspendOptions{
		RunID:       s.run.ID,
		NodeName:    node.Name,
		EventName:   node.EventName,
		Timeout:     node.PauseTimeout,
		Description: node.Description,
	})
}

// runSubflow executes another definition as a nested run, blocking the
// parent's traversal until the child settles. A suspended child parks the
// parent; the child's terminal transition wakes it back up.
func (i *Interpreter) runSubflow(ctx context.Context, s *session, f *workflow.Frame, node *workflow.NodeSpec) (bool, error) {
	if _, ok := i.registry.Get(node.SubflowID); !ok {
		return true, i.fail(ctx, s, node.Name, fmt.Errorf("subflow %q: %w", node.SubflowID, loom.ErrWorkflowNotFound))
	}

	child, err := i.findChild(ctx, s, node)
	if err != nil {
		return false, err
	}

	if child == nil {
		payload := s.run.Payload
		if node.Input != nil {
			data, mErr := json.Marshal(node.Input(s.wctx))
			if mErr != nil {
				return true, i.fail(ctx, s, node.Name, fmt.Errorf("subflow input: %w", mErr))
			}
			payload = data
		}

		childDef, _ := i.registry.Get(node.SubflowID)
		now := time.Now().UTC()
		parentID := s.run.ID
		child = &workflow.Run{
			ID:          id.NewRunID(),
			WorkflowID:  node.SubflowID,
			Version:     childDef.Version,
			State:       workflow.RunStatePending,
			Payload:     payload,
			Cursor:      workflow.Root(),
			ParentRunID: &parentID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := i.store.CreateRun(ctx, child); err != nil {
			return false, fmt.Errorf("engine: create subflow run: %w", err)
		}
		if err := i.advance(ctx, child, s.mocks); err != nil {
			return false, err
		}
		// Re-read: the child mutated its own copy.
		child, err = i.store.GetRun(ctx, child.ID)
		if err != nil {
			return false, err
		}
	}

	switch child.State {
	case workflow.RunStateCompleted:
		recs, err := i.store.ListStepRecords(ctx, child.ID)
		if err != nil {
			return false, err
		}
		childDef, ok := i.registry.Get(child.WorkflowID)
		if !ok {
			return false, fmt.Errorf("engine: run %s: %w", child.ID, loom.ErrWorkflowNotFound)
		}
		out, err := lastOutput(childDef, recs)
		if err != nil {
			return false, err
		}
		return i.finishJoin(ctx, s, f, node, out, nil)

	case workflow.RunStateFailed:
		return true, i.fail(ctx, s, node.Name, fmt.Errorf("subflow run %s failed: %s", child.ID, child.Error))

	case workflow.RunStateCancelled:
		return true, i.fail(ctx, s, node.Name, fmt.Errorf("subflow run %s cancelled: %s", child.ID, child.CancelReason))

	default:
		// Child suspended. Park the parent; the child's terminal
		// transition re-enters it at this node.
		s.run.State = workflow.RunStatePaused
		if err := i.save(ctx, s.run); err != nil {
			return false, err
		}
		return true, errSuspended
	}
}

// findChild locates the child run for the current subflow invocation.
// With loops the same node spawns several children; the n-th invocation
// (n = successful records so far for this node) pairs with the n-th
// child in creation order.
func (i *Interpreter) findChild(ctx context.Context, s *session, node *workflow.NodeSpec) (*workflow.Run, error) {
	children, err := i.store.ListChildRuns(ctx, s.run.ID)
	if err != nil {
		return nil, err
	}
	var matching []*workflow.Run
	for _, c := range children {
		if c.WorkflowID == node.SubflowID {
			matching = append(matching, c)
		}
	}
	if len(matching) == 0 {
		return nil, nil
	}

	records, err := i.store.ListStepRecords(ctx, s.run.ID)
	if err != nil {
		return nil, err
	}
	consumed := 0
	for _, rec := range records {
		if rec.StepName == node.Name && rec.Status == workflow.StepStatusSucceeded {
			consumed++
		}
	}
	if consumed >= len(matching) {
		return nil, nil
	}
	return matching[consumed], nil
}

// ResumeToken re-enters a paused run after its pause token was consumed.
// It implements pause.ResumeFunc: the outcome payload becomes the
// suspended node's output and traversal continues at the next node.
func (i *Interpreter) ResumeToken(ctx context.Context, tok *pause.Token, out pause.Outcome) error {
	run, err := i.store.GetRun(ctx, tok.RunID)
	if err != nil {
		return err
	}
	if run.State.Terminal() {
		return fmt.Errorf("engine: run %s: %w", run.ID, loom.ErrRunTerminal)
	}
	if run.State != workflow.RunStatePaused {
		return fmt.Errorf("engine: run %s: %w", run.ID, loom.ErrRunNotResumable)
	}

	def, ok := i.registry.Get(run.WorkflowID)
	if !ok {
		return fmt.Errorf("engine: run %s: %w", run.ID, loom.ErrWorkflowNotFound)
	}
	wctx, err := i.buildContext(ctx, run, def)
	if err != nil {
		return err
	}
	s := &session{run: run, def: def, wctx: wctx}

	frames := run.Cursor.Frames
	f := &run.Cursor.Frames[len(frames)-1]
	prog := s.programAt(frames)
	node := &prog.Nodes[f.Index]

	if out.TimedOut && node.OnTimeout != nil {
		node.OnTimeout(wctx)
	}

	var output any
	if out.Payload != nil {
		output = out.Payload
	}
	if err := i.exec.record(ctx, run, node.Name, workflow.StepStatusSucceeded, 1, output, nil, time.Now().UTC()); err != nil {
		return err
	}
	if node.Kind != workflow.KindSleep {
		wctx.SetOutput(node.Name, output)
	}

	f.Index++
	run.State = workflow.RunStateRunning
	if err := i.save(ctx, run); err != nil {
		return err
	}
	i.hooks.EmitRunResumed(ctx, run, out.TimedOut)

	if err := i.runLoop(ctx, s); err != nil && !errors.Is(err, errSuspended) {
		return err
	}
	return nil
}

// CancelRun transitions a run to CANCELLED, consumes its outstanding
// pause tokens, and fires failure-path hooks. Used by Cancel nodes and by
// the engine's external cancel operation.
func (i *Interpreter) CancelRun(ctx context.Context, run *workflow.Run, reason string) error {
	if run.State.Terminal() {
		return fmt.Errorf("engine: run %s: %w", run.ID, loom.ErrRunTerminal)
	}

	now := time.Now().UTC()
	run.State = workflow.RunStateCancelled
	run.CancelReason = reason
	run.CompletedAt = &now
	if err := i.save(ctx, run); err != nil {
		return err
	}

	if err := i.pauser.CancelRun(ctx, run.ID); err != nil {
		i.logger.Warn("cancel pause tokens failed",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	i.hooks.EmitRunCancelled(ctx, run, reason)
	if def, ok := i.registry.Get(run.WorkflowID); ok && def.OnFailure != nil {
		if wctx, err := i.buildContext(ctx, run, def); err == nil {
			i.callback(func() { def.OnFailure(wctx, "") })
		}
	}
	i.wakeParent(ctx, run)
	return nil
}

// complete transitions a run to COMPLETED.
func (i *Interpreter) complete(ctx context.Context, s *session) error {
	now := time.Now().UTC()
	s.run.State = workflow.RunStateCompleted
	s.run.CompletedAt = &now
	if err := i.save(ctx, s.run); err != nil {
		return err
	}

	elapsed := time.Duration(0)
	if s.run.StartedAt != nil {
		elapsed = now.Sub(*s.run.StartedAt)
	}
	i.hooks.EmitRunCompleted(ctx, s.run, elapsed)
	if s.def.OnSuccess != nil {
		i.callback(func() { s.def.OnSuccess(s.wctx) })
	}
	i.wakeParent(ctx, s.run)
	return nil
}

// fail transitions a run to FAILED with the terminal error attached.
func (i *Interpreter) fail(ctx context.Context, s *session, stepName string, failErr error) error {
	now := time.Now().UTC()
	s.run.State = workflow.RunStateFailed
	s.run.Error = failErr.Error()
	s.run.CompletedAt = &now
	if err := i.save(ctx, s.run); err != nil {
		return err
	}

	i.hooks.EmitRunFailed(ctx, s.run, stepName, failErr)
	if s.def.OnFailure != nil {
		i.callback(func() { s.def.OnFailure(s.wctx, stepName) })
	}
	i.wakeParent(ctx, s.run)
	return nil
}

// wakeParent re-enters a parent run parked on a subflow node once this
// child settles. A parent that is not paused at a subflow node is left
// alone (it is mid-dispatch in this very call chain, or waiting on a
// token of its own).
func (i *Interpreter) wakeParent(ctx context.Context, child *workflow.Run) {
	if child.ParentRunID == nil {
		return
	}
	parent, err := i.store.GetRun(ctx, *child.ParentRunID)
	if err != nil {
		i.logger.Error("load parent run failed",
			slog.String("run_id", child.ParentRunID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if parent.State != workflow.RunStatePaused {
		return
	}
	def, ok := i.registry.Get(parent.WorkflowID)
	if !ok {
		return
	}
	s := &session{run: parent, def: def}
	frames := parent.Cursor.Frames
	prog := s.programAt(frames)
	idx := frames[len(frames)-1].Index
	if idx >= len(prog.Nodes) || prog.Nodes[idx].Kind != workflow.KindSubflow {
		return
	}
	if err := i.advance(ctx, parent, nil); err != nil {
		i.logger.Error("resume parent run failed",
			slog.String("run_id", parent.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// callback runs a definition-level lifecycle callback bounded by the hook
// grace period.
func (i *Interpreter) callback(fn func()) {
	if fn == nil {
		return
	}
	if i.grace <= 0 {
		fn()
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(i.grace):
		i.logger.Warn("workflow callback exceeded grace period",
			slog.Duration("grace", i.grace),
		)
	}
}

// save persists the run with a fresh UpdatedAt.
func (i *Interpreter) save(ctx context.Context, run *workflow.Run) error {
	run.UpdatedAt = time.Now().UTC()
	if err := i.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("engine: update run %s: %w", run.ID, err)
	}
	return nil
}

// condEnd returns the EndIf index for an ElseIf/Else node reached
// sequentially, so a finished arm body skips the rest of the construct.
func condEnd(prog *workflow.Program, idx int) int {
	for _, b := range prog.Blocks {
		for _, arm := range b.Arms[1:] {
			if arm.Node == idx {
				return b.End
			}
		}
		if b.ElseStart >= 0 && b.ElseStart-1 == idx {
			return b.End
		}
	}
	return idx + 1
}
