package pause

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/id"
)

// Outcome is what a consumed token resolves to: the node output merged
// into the run's context when the interpreter re-enters.
type Outcome struct {
	// Payload carries the resume payload (approved, reason, arbitrary
	// caller fields) or the synthetic timed-out payload.
	Payload map[string]any

	// TimedOut is set when the timeout watcher consumed the token.
	TimedOut bool

	// Event is set when a published event consumed the token.
	Event *event.Event
}

// ResumeFunc re-enters the interpreter for a consumed token. The engine
// package injects the implementation; the indirection breaks the import
// cycle between pause and the interpreter.
type ResumeFunc func(ctx context.Context, tok *Token, out Outcome) error

// SuspendOptions describes the suspension a node requests.
type SuspendOptions struct {
	RunID       id.RunID
	NodeName    string
	EventName   string
	Timeout     time.Duration
	Description string
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithWatchInterval sets how often the timeout watcher scans for expired
// tokens.
func WithWatchInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.watchInterval = d }
}

// Coordinator issues pause tokens, watches their timeouts, and resumes
// suspended runs when a token is consumed by a manual resume, a matching
// event, or expiry.
type Coordinator struct {
	store  Store
	bus    *event.Bus
	logger *slog.Logger

	watchInterval time.Duration

	mu     sync.RWMutex
	resume ResumeFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCoordinator creates a Coordinator. Call SetResumeFunc before Start;
// the bus is optional (nil disables event-driven resumption).
func NewCoordinator(store Store, bus *event.Bus, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:         store,
		bus:           bus,
		logger:        logger,
		watchInterval: 250 * time.Millisecond,
		stopCh:        make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if bus != nil {
		bus.Notify(c.handleEvent)
	}
	return c
}

// SetResumeFunc injects the interpreter re-entry function.
func (c *Coordinator) SetResumeFunc(fn ResumeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resume = fn
}

func (c *Coordinator) resumeFunc() ResumeFunc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resume
}

// Suspend creates and persists a token for a suspending node. The run's
// status change to paused is the interpreter's responsibility.
func (c *Coordinator) Suspend(ctx context.Context, opts SuspendOptions) (*Token, error) {
	pauseID := id.NewPauseID()
	tok := &Token{
		ID:          pauseID,
		Token:       pauseID.String(),
		RunID:       opts.RunID,
		NodeName:    opts.NodeName,
		EventName:   opts.EventName,
		Description: opts.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if opts.Timeout > 0 {
		at := tok.CreatedAt.Add(opts.Timeout)
		tok.TimeoutAt = &at
	}
	if err := c.store.CreatePauseToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("pause: create token for run %s: %w", opts.RunID, err)
	}
	return tok, nil
}

// Resume consumes a token by its handle and re-enters the interpreter
// with the supplied payload. Returns loom.ErrTokenNotFound,
// loom.ErrTokenConsumed, or loom.ErrTokenExpired on resume-path misuse;
// these never affect run state.
func (c *Coordinator) Resume(ctx context.Context, token string, payload map[string]any) error {
	tok, err := c.store.ConsumePauseToken(ctx, token, ConsumedByResume)
	if err != nil {
		return err
	}
	fn := c.resumeFunc()
	if fn == nil {
		return fmt.Errorf("pause: no resume function configured")
	}
	return fn(ctx, tok, Outcome{Payload: payload})
}

// CancelRun consumes all of a run's outstanding tokens so the watcher
// never fires for a cancelled run.
func (c *Coordinator) CancelRun(ctx context.Context, runID id.RunID) error {
	toks, err := c.store.ListRunPauseTokens(ctx, runID)
	if err != nil {
		return err
	}
	for _, t := range toks {
		if t.Consumed {
			continue
		}
		if _, err := c.store.ConsumePauseToken(ctx, t.Token, ConsumedByCancel); err != nil &&
			!errors.Is(err, loom.ErrTokenConsumed) && !errors.Is(err, loom.ErrTokenExpired) {
			return err
		}
	}
	return nil
}

// Start launches the timeout watcher.
func (c *Coordinator) Start(ctx context.Context) error {
	c.wg.Add(1)
	go c.watch(ctx)
	return nil
}

// Stop terminates the watcher and waits for it to exit.
func (c *Coordinator) Stop(_ context.Context) error {
	close(c.stopCh)
	c.wg.Wait()
	return nil
}

// watch synthesizes timed-out resumes for expired tokens. The CAS in
// ConsumePauseToken makes this exactly-once against a racing manual
// resume: whichever wins consumes the token.
func (c *Coordinator) watch(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.fireExpired(ctx)
		}
	}
}

func (c *Coordinator) fireExpired(ctx context.Context) {
	expired, err := c.store.ListExpiredPauseTokens(ctx, time.Now().UTC())
	if err != nil {
		c.logger.Error("list expired pause tokens failed", slog.String("error", err.Error()))
		return
	}

	for _, t := range expired {
		tok, consErr := c.store.ConsumePauseToken(ctx, t.Token, ConsumedByTimeout)
		if consErr != nil {
			// Lost the race to a manual resume or an event; not an error.
			if errors.Is(consErr, loom.ErrTokenConsumed) || errors.Is(consErr, loom.ErrTokenExpired) {
				continue
			}
			c.logger.Error("consume expired pause token failed",
				slog.String("token", t.Token),
				slog.String("error", consErr.Error()),
			)
			continue
		}

		fn := c.resumeFunc()
		if fn == nil {
			continue
		}
		out := Outcome{
			TimedOut: true,
			Payload:  map[string]any{"timedOut": true},
		}
		if resErr := fn(ctx, tok, out); resErr != nil {
			c.logger.Error("timed-out resume failed",
				slog.String("run_id", tok.RunID.String()),
				slog.String("node", tok.NodeName),
				slog.String("error", resErr.Error()),
			)
		}
	}
}

// handleEvent resumes the oldest token waiting on a published event's
// name. Each event unblocks at most one waiter.
func (c *Coordinator) handleEvent(ctx context.Context, evt *event.Event) {
	toks, err := c.store.ListPauseTokensByEvent(ctx, evt.Name)
	if err != nil {
		c.logger.Error("list event pause tokens failed",
			slog.String("event", evt.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, t := range toks {
		tok, consErr := c.store.ConsumePauseToken(ctx, t.Token, ConsumedByEvent)
		if consErr != nil {
			continue
		}

		if ackErr := c.bus.Ack(ctx, evt.ID); ackErr != nil {
			c.logger.Warn("failed to ack event",
				slog.String("event_id", evt.ID.String()),
				slog.String("error", ackErr.Error()),
			)
		}

		fn := c.resumeFunc()
		if fn == nil {
			return
		}
		out := Outcome{Payload: evt.PayloadMap(), Event: evt}
		if resErr := fn(ctx, tok, out); resErr != nil {
			c.logger.Error("event resume failed",
				slog.String("run_id", tok.RunID.String()),
				slog.String("node", tok.NodeName),
				slog.String("error", resErr.Error()),
			)
		}
		return
	}
}
