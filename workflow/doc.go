// Package workflow defines the workflow data model: definitions built
// from a closed set of node variants, the registry that owns them, runs
// with their persisted cursor, append-only step records, and the
// persistence contract implemented by the store backends.
package workflow
