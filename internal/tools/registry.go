// Package tools implements the closed tool catalog (C11) and its
// dispatcher (C12): a name-keyed registry of tool definitions, each
// carrying its own argument schema, and a metering/auditing dispatcher
// that validates, executes, costs, and records every call. Real tool
// semantics (workflow orchestration, web search, code execution,
// parallel job submission, RAG retrieval) are out of scope; this
// package registers mocks behind the same contract a real executor
// would implement.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentengine/pkg/models"
)

// Arguments is the typed-map-keyed, opaque-value representation of tool
// call arguments; the registered schema is the sole source of truth for
// what a given tool accepts.
type Arguments map[string]any

// Executor runs a tool call with already-validated arguments.
type Executor func(ctx context.Context, args Arguments) (any, error)

// ToolDefinition is one entry in the registry.
type ToolDefinition struct {
	Name        models.ToolName
	Description string
	ArgSchema   []byte
	Execute     Executor

	compiled *jsonschema.Schema
}

// ErrAlreadyRegistered is returned by Register for a duplicate name.
var ErrAlreadyRegistered = fmt.Errorf("tool already registered")

// ErrNotRegistered is returned by lookups for an unknown tool.
var ErrNotRegistered = fmt.Errorf("tool not registered")

// Registry is the C11 contract: a read-mostly name-keyed map, mutated
// only at startup wiring time.
type Registry struct {
	mu    sync.RWMutex
	tools map[models.ToolName]*ToolDefinition
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[models.ToolName]*ToolDefinition)}
}

// Register compiles def's argument schema and adds it to the registry.
// It fails if the name is already present, per the closed tool-name
// invariant.
func (r *Registry) Register(def ToolDefinition) error {
	schemaBytes := def.ArgSchema
	if len(schemaBytes) == 0 {
		schemaBytes = []byte(`{"type":"object"}`)
	}
	compiled, err := jsonschema.CompileString(string(def.Name)+".schema.json", string(schemaBytes))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", def.Name, err)
	}
	def.compiled = compiled

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, def.Name)
	}
	r.tools[def.Name] = &def
	return nil
}

// Get returns the definition for name, if registered.
func (r *Registry) Get(name models.ToolName) (*ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// List returns every registered definition, in no particular order.
func (r *Registry) List() []*ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ToolDefinition, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, def)
	}
	return out
}

// Unregister removes a tool by name; a no-op if absent.
func (r *Registry) Unregister(name models.ToolName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Clear removes every registered tool.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[models.ToolName]*ToolDefinition)
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Validate reports whether name is registered and args satisfies its
// schema.
func (r *Registry) Validate(name models.ToolName, args Arguments) bool {
	def, ok := r.Get(name)
	if !ok {
		return false
	}
	return validateArgs(def, args) == nil
}

// validateArgs round-trips args through JSON so the compiled schema sees
// plain Go values (maps/slices/primitives), matching the jsonschema
// library's expected input shape.
func validateArgs(def *ToolDefinition, args Arguments) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	return def.compiled.Validate(decoded)
}
