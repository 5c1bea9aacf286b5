// Package state provides the key/value store used by caller steps and by
// the step-level result cache. Entries carry an optional TTL and are
// scoped either globally or to one workflow. Increments are atomic at the
// store layer so concurrent branches never lose updates.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loomhq/loom"
)

// Scope names a state namespace: the global namespace or one workflow's.
type Scope struct {
	workflowID string
}

// Global returns the process-wide scope.
func Global() Scope { return Scope{} }

// ForWorkflow returns the scope owned by one workflow definition.
func ForWorkflow(workflowID string) Scope {
	return Scope{workflowID: workflowID}
}

// String returns the storage namespace for this scope.
func (s Scope) String() string {
	if s.workflowID == "" {
		return "global"
	}
	return "wf:" + s.workflowID
}

// Entry is one stored key/value pair. State outlives runs; entries are
// removed by Delete, TTL expiry, or nothing at all.
type Entry struct {
	Scope     string          `json:"scope"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// Store defines the persistence contract for state entries. Entries past
// their TTL must be treated as absent by GetState/IncrState even when not
// yet physically purged. IncrState must be atomic: two concurrent calls
// on the same key are both reflected.
type Store interface {
	// GetState returns the value under (scope, key), or
	// loom.ErrStateNotFound if absent or expired.
	GetState(ctx context.Context, scope, key string) ([]byte, error)

	// SetState stores value under (scope, key). Zero ttl means no expiry.
	SetState(ctx context.Context, scope, key string, value []byte, ttl time.Duration) error

	// IncrState atomically adds amount to the numeric value under
	// (scope, key), creating it at zero if absent or expired, and
	// returns the new value. Fails with loom.ErrNonNumericState if the
	// existing value is not numeric.
	IncrState(ctx context.Context, scope, key string, amount int64) (int64, error)

	// DeleteState removes the value under (scope, key).
	DeleteState(ctx context.Context, scope, key string) error

	// SweepExpiredState physically reclaims expired entries and returns
	// how many were removed.
	SweepExpiredState(ctx context.Context) (int, error)
}

// Accessor is the scoped view handed to step handlers. It satisfies
// workflow.StateAccessor.
type Accessor struct {
	store Store
	scope Scope
}

// NewAccessor binds a store to a scope.
func NewAccessor(store Store, scope Scope) *Accessor {
	return &Accessor{store: store, scope: scope}
}

// Get returns the decoded value under key, or found=false if the key is
// absent or its TTL has elapsed.
func (a *Accessor) Get(ctx context.Context, key string) (any, bool, error) {
	data, err := a.store.GetState(ctx, a.scope.String(), key)
	if errors.Is(err, loom.ErrStateNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key. A zero ttl means no expiry.
func (a *Accessor) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return a.store.SetState(ctx, a.scope.String(), key, data, ttl)
}

// Incr atomically adds amount to the numeric value under key.
func (a *Accessor) Incr(ctx context.Context, key string, amount int64) (int64, error) {
	return a.store.IncrState(ctx, a.scope.String(), key, amount)
}

// Delete removes the value under key.
func (a *Accessor) Delete(ctx context.Context, key string) error {
	return a.store.DeleteState(ctx, a.scope.String(), key)
}
