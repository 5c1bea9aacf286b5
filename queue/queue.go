// Package queue enforces per-workflow run admission: concurrency caps and
// token-bucket rate limits. Trigger events that exceed a workflow's
// limits stay queued as pending runs instead of spawning unbounded work.
package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limits defines admission behaviour for one workflow's runs.
type Limits struct {
	// Concurrency caps simultaneously running runs of the workflow.
	// Zero means no cap.
	Concurrency int

	// RatePerSecond is the maximum sustained run starts per second.
	// Zero disables rate limiting.
	RatePerSecond float64

	// Burst is the token-bucket burst size. Defaults to 1 when
	// RatePerSecond is set but Burst is zero.
	Burst int
}

// flowState tracks runtime admission state for one workflow.
type flowState struct {
	limits  Limits
	limiter *rate.Limiter
	active  int
}

// Manager controls per-workflow admission. It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	flows map[string]*flowState
}

// NewManager creates an empty Manager. Workflows without configured
// limits are admitted unconditionally.
func NewManager() *Manager {
	return &Manager{flows: make(map[string]*flowState)}
}

// Configure sets the limits for a workflow, replacing any prior ones.
func (m *Manager) Configure(workflowID string, l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, ok := m.flows[workflowID]
	if !ok {
		fs = &flowState{}
		m.flows[workflowID] = fs
	}
	fs.limits = l
	fs.limiter = nil
	if l.RatePerSecond > 0 {
		burst := l.Burst
		if burst <= 0 {
			burst = 1
		}
		fs.limiter = rate.NewLimiter(rate.Limit(l.RatePerSecond), burst)
	}
}

// TryAcquire reports whether a run of the workflow may start now, and if
// so reserves one concurrency slot. Callers must Release when the run
// reaches a terminal or paused state.
func (m *Manager) TryAcquire(workflowID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, ok := m.flows[workflowID]
	if !ok {
		return true
	}
	if fs.limits.Concurrency > 0 && fs.active >= fs.limits.Concurrency {
		return false
	}
	if fs.limiter != nil && !fs.limiter.Allow() {
		return false
	}
	fs.active++
	return true
}

// Release frees a concurrency slot for the workflow.
func (m *Manager) Release(workflowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, ok := m.flows[workflowID]
	if !ok || fs.active == 0 {
		return
	}
	fs.active--
}

// Active returns the number of reserved slots for the workflow.
func (m *Manager) Active(workflowID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, ok := m.flows[workflowID]
	if !ok {
		return 0
	}
	return fs.active
}
