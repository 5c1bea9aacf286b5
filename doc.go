// Package loom provides a durable workflow execution engine for Go. It
// runs directed sequences of caller-supplied steps, persists intermediate
// results, suspends and resumes execution (including for external human
// input), branches, runs parallel step groups, retries failed steps, and
// replays past runs.
//
// Loom is designed as a library, not a service. Import it, configure a
// store, define workflows with ordinary Go functions, and trigger runs.
//
// # Quick Start
//
//	core, err := loom.New(
//	    loom.WithStore(memory.New()),
//	    loom.WithConcurrency(20),
//	)
//
// The full API — defining workflows, triggering runs, resuming paused
// runs, inspection and replay — lives in the engine package, which wires
// all subsystems over this coordinator.
//
// # Architecture
//
// Loom follows a composable store pattern where each subsystem (workflow,
// pause, event, state) defines its own store interface. A single backend
// implements all of them. All entity IDs use TypeID — type-prefixed,
// K-sortable, UUIDv7-based identifiers.
package loom
