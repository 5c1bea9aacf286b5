package loom

import "time"

// Config holds configuration for the Engine.
type Config struct {
	// Concurrency is the maximum number of runs advanced concurrently
	// across all workflows. Per-workflow caps apply on top of this.
	Concurrency int

	// HookGracePeriod bounds how long a lifecycle hook may block run
	// bookkeeping before its context is cancelled.
	HookGracePeriod time.Duration

	// PauseSweepInterval is how often the timeout watcher scans for
	// expired pause tokens.
	PauseSweepInterval time.Duration

	// StateSweepInterval is how often expired state entries are
	// physically reclaimed. Expired entries are treated as absent by
	// reads regardless of the sweep.
	StateSweepInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		HookGracePeriod:    5 * time.Second,
		PauseSweepInterval: 250 * time.Millisecond,
		StateSweepInterval: 30 * time.Second,
		ShutdownTimeout:    30 * time.Second,
	}
}
