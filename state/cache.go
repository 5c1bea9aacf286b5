package state

import (
	"context"
	"errors"
	"time"

	"github.com/loomhq/loom"
)

// Cache is the step-level result cache: a read-through layer over the
// state store keyed by a caller-supplied function of the step context.
// A hit short-circuits the handler invocation entirely.
type Cache struct {
	store Store
}

// NewCache creates a step result cache over the given store.
func NewCache(store Store) *Cache {
	return &Cache{store: store}
}

// cacheScope namespaces cache entries away from caller state so a step
// cache key can never collide with a user key.
func cacheScope(workflowID string) string {
	return "cache:" + workflowID
}

// Lookup returns the cached output for (workflow, step, key), or
// found=false on a miss or expired entry.
func (c *Cache) Lookup(ctx context.Context, workflowID, stepName, key string) ([]byte, bool, error) {
	data, err := c.store.GetState(ctx, cacheScope(workflowID), stepName+":"+key)
	if errors.Is(err, loom.ErrStateNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Put stores a step output under (workflow, step, key) with the policy's TTL.
func (c *Cache) Put(ctx context.Context, workflowID, stepName, key string, output []byte, ttl time.Duration) error {
	return c.store.SetState(ctx, cacheScope(workflowID), stepName+":"+key, output, ttl)
}
