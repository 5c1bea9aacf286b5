package redis

// Redis key naming conventions for loom data.
// All keys are prefixed with "loom:" to avoid collisions.

const keyPrefix = "loom:"

// ── Run keys ──

// runKey returns the key for a run entity: loom:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runIDsKey is the Set tracking all run IDs for enumeration.
const runIDsKey = keyPrefix + "run_ids"

// runChildrenKey returns the Set of child run IDs: loom:run_children:{parentID}
func runChildrenKey(parentID string) string { return keyPrefix + "run_children:" + parentID }

// runRecordsKey returns the List of step records for a run, in append
// order: loom:run_records:{runID}
func runRecordsKey(runID string) string { return keyPrefix + "run_records:" + runID }

// ── Pause token keys ──

// tokenKey returns the key for a token entity: loom:token:{handle}
func tokenKey(token string) string { return keyPrefix + "token:" + token }

// tokenConsumedKey marks a consumed token; its value is the consumer.
// SETNX on this key is the consumption compare-and-swap.
func tokenConsumedKey(token string) string { return keyPrefix + "token_consumed:" + token }

// tokenTimeoutsKey is the Sorted Set of token handles scored by their
// TimeoutAt (unix nanos), scanned by the timeout watcher.
const tokenTimeoutsKey = keyPrefix + "token_timeouts"

// tokenEventKey returns the Set of token handles waiting on an event
// name: loom:token_event:{name}
func tokenEventKey(name string) string { return keyPrefix + "token_event:" + name }

// tokenRunKey returns the Set of token handles belonging to a run.
func tokenRunKey(runID string) string { return keyPrefix + "token_run:" + runID }

// ── Event keys ──

// eventKey returns the key for an event entity: loom:event:{id}
func eventKey(id string) string { return keyPrefix + "event:" + id }

// eventPendingKey returns the List of unacked event IDs for a name, in
// publish order: loom:events_pending:{name}
func eventPendingKey(name string) string { return keyPrefix + "events_pending:" + name }

// ── State keys ──

// stateEntryKey returns the key for a state entry: loom:state:{scope}:{key}
func stateEntryKey(scope, key string) string { return keyPrefix + "state:" + scope + ":" + key }
