package workflow_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/workflow"
)

func noop(ctx *workflow.Context) (any, error) { return nil, nil }

func always(ctx *workflow.Context) bool { return true }

func TestBuildValidDefinition(t *testing.T) {
	def, err := workflow.NewBuilder("order-processing", "Order Processing").
		Step("fetch", noop).
		If("is-vip", always).
		Step("vip", noop).
		ElseIf("is-regular", always).
		Step("regular", noop).
		Else().
		Step("fallback", noop).
		EndIf().
		Step("notify", noop).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if def.ID != "order-processing" || def.Name != "Order Processing" {
		t.Fatalf("definition identity: %q %q", def.ID, def.Name)
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestBuildIfWithoutEndIf(t *testing.T) {
	_, err := workflow.NewBuilder("broken", "Broken").
		If("open", always).
		Step("inside", noop).
		Build()

	var verr *workflow.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if !strings.Contains(verr.Error(), "matching endif") {
		t.Fatalf("unexpected issues: %v", verr.Issues)
	}
}

func TestBuildDuplicateStepNames(t *testing.T) {
	_, err := workflow.NewBuilder("dup", "Dup").
		Step("fetch", noop).
		Step("fetch", noop).
		Build()

	var verr *workflow.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if !strings.Contains(verr.Error(), "duplicate node name") {
		t.Fatalf("unexpected issues: %v", verr.Issues)
	}
}

func TestBuildDuplicateNameInsideWhile(t *testing.T) {
	_, err := workflow.NewBuilder("dup-loop", "Dup Loop").
		Step("work", noop).
		While("spin", always).
		Step("work", noop).
		EndWhile().
		Build()

	var verr *workflow.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
}

func TestBuildUnclosedWhile(t *testing.T) {
	_, err := workflow.NewBuilder("open-loop", "Open Loop").
		While("spin", always).
		Step("body", noop).
		Build()

	var verr *workflow.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
}

func TestBuildElseOutsideIf(t *testing.T) {
	_, err := workflow.NewBuilder("stray", "Stray").
		Step("fetch", noop).
		Else().
		Build()

	var verr *workflow.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
}

func TestBuildMissingHandler(t *testing.T) {
	_, err := workflow.NewBuilder("no-handler", "No Handler").
		Step("fetch", nil).
		Build()

	var verr *workflow.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
}

func TestBuildRequiresWorkflowID(t *testing.T) {
	_, err := workflow.NewBuilder("", "Anonymous").
		Step("fetch", noop).
		Build()

	var verr *workflow.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
}

func TestRegistryVisibility(t *testing.T) {
	reg := workflow.NewRegistry()
	def, err := workflow.NewBuilder("orders", "Orders").
		Step("fetch", noop).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	h, err := reg.Define(def)
	if err != nil {
		t.Fatalf("Define: %v", err)
	}

	if _, ok := reg.GetRegistered("orders"); ok {
		t.Fatal("workflow visible before Register")
	}
	if _, ok := reg.Get("orders"); !ok {
		t.Fatal("Get must see defined workflows regardless of visibility")
	}

	if err := h.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, ok := reg.GetRegistered("orders"); !ok {
		t.Fatal("workflow not visible after Register")
	}

	if err := h.Unregister(); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, ok := reg.GetRegistered("orders"); ok {
		t.Fatal("workflow still visible after Unregister")
	}
}

func TestRegistryRejectsOlderVersion(t *testing.T) {
	reg := workflow.NewRegistry()

	v2, err := workflow.NewBuilder("orders", "Orders").
		Version(2).
		Step("fetch", noop).
		Build()
	if err != nil {
		t.Fatalf("Build v2: %v", err)
	}
	if _, err := reg.Define(v2); err != nil {
		t.Fatalf("Define v2: %v", err)
	}

	v1, err := workflow.NewBuilder("orders", "Orders").
		Version(1).
		Step("fetch", noop).
		Build()
	if err != nil {
		t.Fatalf("Build v1: %v", err)
	}

	var verr *workflow.ValidationError
	if _, err := reg.Define(v1); !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
}

func TestRegistryRedefinitionKeepsVisibility(t *testing.T) {
	reg := workflow.NewRegistry()

	build := func(version int) *workflow.Definition {
		def, err := workflow.NewBuilder("orders", "Orders").
			Version(version).
			Step("fetch", noop).
			Build()
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		return def
	}

	h, err := reg.Define(build(1))
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	if err := h.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := reg.Define(build(2)); err != nil {
		t.Fatalf("redefine: %v", err)
	}
	def, ok := reg.GetRegistered("orders")
	if !ok {
		t.Fatal("redefinition dropped trigger visibility")
	}
	if def.Version != 2 {
		t.Fatalf("version = %d, want 2", def.Version)
	}
}

func TestEffectivePolicies(t *testing.T) {
	def, err := workflow.NewBuilder("policies", "Policies").
		DefaultTimeout(30*time.Second).
		DefaultRetry(workflow.RetryPolicy{Attempts: 2, Delay: time.Second}).
		Step("inherits", noop).
		Step("overrides", noop,
			workflow.WithTimeout(5*time.Second),
			workflow.WithRetry(workflow.RetryPolicy{Attempts: 5, Delay: time.Millisecond})).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	inherits := &def.Nodes[0]
	overrides := &def.Nodes[1]

	if got := def.EffectiveTimeout(inherits); got != 30*time.Second {
		t.Fatalf("inherited timeout = %v", got)
	}
	if got := def.EffectiveTimeout(overrides); got != 5*time.Second {
		t.Fatalf("overridden timeout = %v", got)
	}
	if got := def.EffectiveRetry(inherits); got == nil || got.Attempts != 2 {
		t.Fatalf("inherited retry = %+v", got)
	}
	if got := def.EffectiveRetry(overrides); got == nil || got.Attempts != 5 {
		t.Fatalf("overridden retry = %+v", got)
	}
}

func TestContextStepsAndLast(t *testing.T) {
	wctx := workflow.NewContext(context.Background(), id.NewRunID(), "orders",
		map[string]any{"orderId": "ord_1"}, nil)

	if wctx.Last() != nil {
		t.Fatalf("fresh context Last = %v, want nil", wctx.Last())
	}

	wctx.SetOutput("fetch", map[string]any{"amount": 600})
	wctx.SetOutput("validate", "ok")

	if wctx.Last() != "ok" {
		t.Fatalf("Last = %v, want ok", wctx.Last())
	}
	out, ok := wctx.Step("fetch")
	if !ok || out.(map[string]any)["amount"] != 600 {
		t.Fatalf("Step(fetch) = %v, %v", out, ok)
	}
	if _, ok := wctx.Step("missing"); ok {
		t.Fatal("unknown step reported present")
	}

	// Last is an alias over the step table, re-aimable without copying.
	wctx.SetLast("fetch")
	if wctx.Last().(map[string]any)["amount"] != 600 {
		t.Fatalf("Last after SetLast = %v", wctx.Last())
	}

	// Forks share the step table but carry their own context.Context.
	forked := wctx.Fork(context.Background())
	if out, ok := forked.Step("fetch"); !ok || out.(map[string]any)["amount"] != 600 {
		t.Fatal("forked context lost step outputs")
	}
}

func TestDefinitionNodeKind(t *testing.T) {
	def, err := workflow.NewBuilder("kinds", "Kinds").
		Step("fetch", noop).
		Action("emit", noop).
		While("loop", always).
		Step("bump", noop).
		EndWhile().
		Log("note", func(ctx *workflow.Context) string { return "done" }).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	cases := map[string]workflow.NodeKind{
		"fetch": workflow.KindStep,
		"emit":  workflow.KindAction,
		"loop":  workflow.KindWhile,
		"bump":  workflow.KindStep,
		"note":  workflow.KindLog,
	}
	for name, want := range cases {
		got, ok := def.NodeKind(name)
		if !ok || got != want {
			t.Errorf("NodeKind(%q) = %q, %v, want %q", name, got, ok, want)
		}
	}
	if _, ok := def.NodeKind("missing"); ok {
		t.Error("NodeKind reported an unknown node present")
	}
}
