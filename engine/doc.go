// Package engine wires all loom subsystems together and provides the
// primary application-level API: defining workflows, triggering runs,
// resuming suspended runs, publishing events, inspection, and replay.
//
// The engine package exists to break a fundamental import cycle: the root
// loom package defines the sentinel errors and Config (imported by
// workflow, pause, state, etc.) and therefore cannot import those
// packages back. Engine sits above all subsystem packages and below the
// application layer.
//
// # Building an Engine
//
//	core, err := loom.New(
//	    loom.WithStore(memory.New()),
//	    loom.WithConcurrency(20),
//	)
//
//	eng, err := engine.New(core,
//	    engine.WithMiddleware(middleware.Recover(logger), middleware.Logging(logger)),
//	    engine.WithHook(auditHook),
//	)
//
// # Defining and Running Workflows
//
//	def, err := workflow.NewBuilder("order-processing", "Order Processing").
//	    Step("fetch", fetchOrder).
//	    If("is-vip", func(ctx *workflow.Context) bool { ... }).
//	    Step("send-vip-notification", notifyVIP).
//	    EndIf().
//	    Build()
//
//	handle, err := eng.Define(def)
//	handle.Register()
//
//	run, err := eng.TriggerRun(ctx, "order-processing", map[string]any{"orderId": "ord_1"})
//
// # Suspension
//
// HumanInTheLoop and WaitForEvent nodes park a run on a single-use pause
// token. Resume it manually, publish a matching event, or let the
// timeout watcher synthesize a {timedOut: true} resume:
//
//	err := eng.Resume(ctx, token, map[string]any{"approved": true})
//	evt, err := eng.PublishEvent(ctx, "payment-confirmed", payload)
package engine
