// Package memory provides a fully in-memory store.Store implementation.
// Safe for concurrent access. Intended for unit testing and development;
// nothing survives process restart.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/pause"
	"github.com/loomhq/loom/state"
	"github.com/loomhq/loom/workflow"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ workflow.Store = (*Store)(nil)
	_ pause.Store    = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
	_ state.Store    = (*Store)(nil)
)

// stateKey composes the state map key from scope and key.
func stateKey(scope, key string) string { return scope + "\x00" + key }

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	runs    map[string]*workflow.Run
	records map[string][]*workflow.StepRecord // key: runID
	tokens  map[string]*pause.Token          // key: token handle
	events  map[string]*event.Event
	entries map[string]*state.Entry // key: scope + NUL + key
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:    make(map[string]*workflow.Run),
		records: make(map[string][]*workflow.StepRecord),
		tokens:  make(map[string]*pause.Token),
		events:  make(map[string]*event.Event),
		entries: make(map[string]*state.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Workflow Store — runs and step records
// ──────────────────────────────────────────────────

// copyRun deep-copies a run so callers can mutate without racing the store.
func copyRun(r *workflow.Run) *workflow.Run {
	cp := *r
	cp.Cursor.Frames = append([]workflow.Frame(nil), r.Cursor.Frames...)
	return &cp
}

// CreateRun persists a new run.
func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID.String()] = copyRun(run)
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, loom.ErrRunNotFound
	}
	return copyRun(r), nil
}

// UpdateRun persists changes to an existing run, including its cursor.
func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, ok := m.runs[key]; !ok {
		return loom.ErrRunNotFound
	}
	m.runs[key] = copyRun(run)
	return nil
}

// ListRuns returns runs matching the given options, oldest first.
func (m *Store) ListRuns(_ context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.WorkflowID != "" && r.WorkflowID != opts.WorkflowID {
			continue
		}
		if opts.State != "" && r.State != opts.State {
			continue
		}
		result = append(result, copyRun(r))
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// CountRuns returns the number of runs matching the given options.
func (m *Store) CountRuns(_ context.Context, opts workflow.ListOpts) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.runs {
		if opts.WorkflowID != "" && r.WorkflowID != opts.WorkflowID {
			continue
		}
		if opts.State != "" && r.State != opts.State {
			continue
		}
		n++
	}
	return n, nil
}

// AppendStepRecord persists a new step attempt record.
func (m *Store) AppendStepRecord(_ context.Context, rec *workflow.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	key := rec.RunID.String()
	m.records[key] = append(m.records[key], &cp)
	return nil
}

// ListStepRecords returns all step records for a run in append order.
func (m *Store) ListStepRecords(_ context.Context, runID id.RunID) ([]*workflow.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.records[runID.String()]
	result := make([]*workflow.StepRecord, len(recs))
	for i, rec := range recs {
		cp := *rec
		result[i] = &cp
	}
	return result, nil
}

// ListChildRuns returns all subflow runs spawned by a parent run,
// oldest first.
func (m *Store) ListChildRuns(_ context.Context, parentRunID id.RunID) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*workflow.Run
	for _, r := range m.runs {
		if r.ParentRunID != nil && *r.ParentRunID == parentRunID {
			result = append(result, copyRun(r))
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// DeleteRun removes a run and its step records.
func (m *Store) DeleteRun(_ context.Context, runID id.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := runID.String()
	if _, ok := m.runs[key]; !ok {
		return loom.ErrRunNotFound
	}
	delete(m.runs, key)
	delete(m.records, key)
	return nil
}

// ──────────────────────────────────────────────────
// Pause Store — tokens
// ──────────────────────────────────────────────────

// CreatePauseToken persists a new unconsumed token.
func (m *Store) CreatePauseToken(_ context.Context, tok *pause.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *tok
	m.tokens[tok.Token] = &cp
	return nil
}

// GetPauseToken retrieves a token by its handle string.
func (m *Store) GetPauseToken(_ context.Context, token string) (*pause.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[token]
	if !ok {
		return nil, loom.ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

// ConsumePauseToken atomically marks a token consumed and returns its
// prior snapshot. The store mutex is the compare-and-swap: exactly one
// of a racing manual resume and timeout firing wins.
func (m *Store) ConsumePauseToken(_ context.Context, token string, by pause.Consumer) (*pause.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[token]
	if !ok {
		return nil, loom.ErrTokenNotFound
	}
	if t.Consumed {
		if t.ConsumedBy == pause.ConsumedByTimeout {
			return nil, loom.ErrTokenExpired
		}
		return nil, loom.ErrTokenConsumed
	}

	prior := *t
	t.Consumed = true
	t.ConsumedBy = by
	return &prior, nil
}

// ListExpiredPauseTokens returns unconsumed tokens whose TimeoutAt has
// passed at now.
func (m *Store) ListExpiredPauseTokens(_ context.Context, now time.Time) ([]*pause.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*pause.Token
	for _, t := range m.tokens {
		if t.Consumed || !t.Expired(now) {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ListPauseTokensByEvent returns unconsumed tokens waiting on the given
// event name, oldest first.
func (m *Store) ListPauseTokensByEvent(_ context.Context, eventName string) ([]*pause.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*pause.Token
	for _, t := range m.tokens {
		if t.Consumed || t.EventName != eventName || eventName == "" {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ListRunPauseTokens returns all tokens belonging to a run.
func (m *Store) ListRunPauseTokens(_ context.Context, runID id.RunID) ([]*pause.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*pause.Token
	for _, t := range m.tokens {
		if t.RunID != runID {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// PublishEvent persists a new event.
func (m *Store) PublishEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *evt
	m.events[evt.ID.String()] = &cp
	return nil
}

// NextEvent returns the oldest unacked event with the given name, or
// loom.ErrEventNotFound.
func (m *Store) NextEvent(_ context.Context, name string) (*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *event.Event
	for _, e := range m.events {
		if e.Acked || e.Name != name {
			continue
		}
		if oldest == nil || e.CreatedAt.Before(oldest.CreatedAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil, loom.ErrEventNotFound
	}
	cp := *oldest
	return &cp, nil
}

// AckEvent marks an event consumed.
func (m *Store) AckEvent(_ context.Context, eventID id.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[eventID.String()]
	if !ok {
		return loom.ErrEventNotFound
	}
	e.Acked = true
	return nil
}

// ──────────────────────────────────────────────────
// State Store — key/value with TTL
// ──────────────────────────────────────────────────

// GetState returns the value under (scope, key). Entries past their TTL
// are treated as absent even when not yet physically purged.
func (m *Store) GetState(_ context.Context, scope, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[stateKey(scope, key)]
	if !ok || e.Expired(time.Now().UTC()) {
		return nil, loom.ErrStateNotFound
	}
	return append([]byte(nil), e.Value...), nil
}

// SetState stores value under (scope, key). Zero ttl means no expiry.
func (m *Store) SetState(_ context.Context, scope, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	e := &state.Entry{
		Scope:     scope,
		Key:       key,
		Value:     append([]byte(nil), value...),
		UpdatedAt: now,
	}
	if ttl > 0 {
		at := now.Add(ttl)
		e.ExpiresAt = &at
	}
	m.entries[stateKey(scope, key)] = e
	return nil
}

// IncrState atomically adds amount to the numeric value under (scope, key).
// The store mutex serializes concurrent increments: no lost updates.
func (m *Store) IncrState(_ context.Context, scope, key string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var current int64
	if e, ok := m.entries[stateKey(scope, key)]; ok && !e.Expired(now) {
		v, err := strconv.ParseInt(string(e.Value), 10, 64)
		if err != nil {
			return 0, loom.ErrNonNumericState
		}
		current = v
	}

	current += amount
	m.entries[stateKey(scope, key)] = &state.Entry{
		Scope:     scope,
		Key:       key,
		Value:     []byte(strconv.FormatInt(current, 10)),
		UpdatedAt: now,
	}
	return current, nil
}

// DeleteState removes the value under (scope, key).
func (m *Store) DeleteState(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, stateKey(scope, key))
	return nil
}

// SweepExpiredState physically reclaims expired entries.
func (m *Store) SweepExpiredState(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	n := 0
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}
