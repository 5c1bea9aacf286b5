package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// entry is one registered schedule with its precomputed next fire time.
type entry struct {
	name       string
	workflowID string
	expr       string
	schedule   cronlib.Schedule
	payload    any
	next       time.Time
}

// Scheduler fires schedule triggers on a tick loop. Entries live in
// process memory; re-register them on startup. A single engine instance
// owns its schedules, so there is no cross-instance coordination.
type Scheduler struct {
	dispatcher *Dispatcher
	logger     *slog.Logger

	tickInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler that dispatches due entries through d.
func NewScheduler(d *Dispatcher, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		dispatcher:   d,
		logger:       logger,
		tickInterval: 1 * time.Second,
		entries:      make(map[string]*entry),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a schedule under a unique name. The expression accepts
// standard 5-field cron syntax and descriptors such as "@every 30s".
// Re-adding a name replaces the previous entry.
func (s *Scheduler) Add(name, workflowID, expr string, payload any) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return fmt.Errorf("trigger: schedule %q: parse %q: %w", name, expr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = &entry{
		name:       name,
		workflowID: workflowID,
		expr:       expr,
		schedule:   sched,
		payload:    payload,
		next:       sched.Next(time.Now().UTC()),
	}
	return nil
}

// Remove deregisters a schedule. Removing an unknown name is a no-op.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("trigger scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the loop to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("trigger scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(time.Now().UTC())
		}
	}
}

// tick fires every entry whose next fire time has passed and advances
// it. Fires dispatch synchronously on the tick goroutine; a schedule
// whose run suspends or queues does not block others beyond dispatch.
func (s *Scheduler) tick(now time.Time) {
	due := s.claimDue(now)
	for _, e := range due {
		runID, err := s.dispatcher.Dispatch(context.Background(), Request{
			Source:     SourceSchedule,
			WorkflowID: e.workflowID,
			Payload:    e.payload,
		})
		if err != nil {
			s.logger.Error("schedule fire failed",
				slog.String("schedule", e.name),
				slog.String("workflow_id", e.workflowID),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.Debug("schedule fired",
			slog.String("schedule", e.name),
			slog.String("run_id", runID.String()),
		)
	}
}

// claimDue advances next fire times under the lock and returns the due
// entries, so a slow dispatch never delays bookkeeping for the rest.
func (s *Scheduler) claimDue(now time.Time) []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*entry
	for _, e := range s.entries {
		if e.next.After(now) {
			continue
		}
		due = append(due, e)
		e.next = e.schedule.Next(now)
	}
	return due
}
