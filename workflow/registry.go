package workflow

import (
	"fmt"
	"sync"
)

// Handle is the caller's reference to a defined workflow. Register makes
// the definition visible to the trigger dispatcher.
type Handle struct {
	WorkflowID string
	Version    int

	reg *Registry
}

// Register makes the workflow visible to trigger sources. Triggering an
// unregistered workflow fails.
func (h *Handle) Register() error {
	return h.reg.setVisible(h.WorkflowID, true)
}

// Unregister hides the workflow from trigger sources without removing
// the definition. In-flight runs are unaffected.
func (h *Handle) Unregister() error {
	return h.reg.setVisible(h.WorkflowID, false)
}

// registered pairs a definition with its trigger visibility.
type registered struct {
	def     *Definition
	visible bool
}

// Registry owns workflow definitions for the process lifetime. Lookups
// are safe to call concurrently with registration.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*registered
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*registered)}
}

// Define validates a definition and stores it, replacing any prior
// definition under the same id wholesale. Fails with *ValidationError on
// structural problems, or if the id is already registered under a higher
// version (incompatible redefinition).
func (r *Registry) Define(def *Definition) (*Handle, error) {
	prog, err := compile(def.ID, def.Nodes)
	if err != nil {
		return nil, err
	}
	def.prog = prog

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.defs[def.ID]; ok && def.Version < existing.def.Version {
		return nil, &ValidationError{
			WorkflowID: def.ID,
			Issues: []string{fmt.Sprintf("version %d is older than registered version %d",
				def.Version, existing.def.Version)},
		}
	}

	visible := false
	if existing, ok := r.defs[def.ID]; ok {
		visible = existing.visible
	}
	r.defs[def.ID] = &registered{def: def, visible: visible}

	return &Handle{WorkflowID: def.ID, Version: def.Version, reg: r}, nil
}

// setVisible flips trigger visibility for a defined workflow.
func (r *Registry) setVisible(workflowID string, visible bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.defs[workflowID]
	if !ok {
		return fmt.Errorf("workflow %q is not defined", workflowID)
	}
	reg.visible = visible
	return nil
}

// Get returns the definition for a workflow id, registered or not.
func (r *Registry) Get(workflowID string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.defs[workflowID]
	if !ok {
		return nil, false
	}
	return reg.def, true
}

// GetRegistered returns the definition only if it is visible to trigger
// sources.
func (r *Registry) GetRegistered(workflowID string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.defs[workflowID]
	if !ok || !reg.visible {
		return nil, false
	}
	return reg.def, true
}

// List returns all defined workflows.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, reg := range r.defs {
		out = append(out, reg.def)
	}
	return out
}
