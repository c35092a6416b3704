// Package tools implements the process-wide Tool Registry and the bounded,
// crash-isolated Executor that runs registered tools on behalf of the LLM
// adapter. Registration happens once at startup; the registry is treated as
// immutable for the remainder of the process's life.
package tools

import (
	"fmt"
	"sync"

	"github.com/wspotter/felix/pkg/provider/llm"
	"github.com/wspotter/felix/pkg/types"
)

// Registry is an insertion-ordered name→ToolSpec map. Iteration order
// (List, Definitions) always matches registration order, so a model that
// weighs tool position in its prompt sees a stable ordering.
//
// The zero value is ready to use.
type Registry struct {
	mu    sync.RWMutex
	order []string
	specs map[string]types.ToolSpec
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]types.ToolSpec)}
}

// Register adds a tool to the registry, validating and normalizing its JSON
// schema. Registering a name that already exists overwrites the previous
// entry but keeps its original position in iteration order.
func (r *Registry) Register(spec types.ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("tools: tool name must not be empty")
	}
	if spec.Handler == nil {
		return fmt.Errorf("tools: tool %q must have a handler", spec.Name)
	}

	spec.Parameters = normalizeSchema(spec.Parameters)
	if err := validateSchema(spec.Parameters); err != nil {
		return fmt.Errorf("tools: tool %q: %w", spec.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.specs == nil {
		r.specs = make(map[string]types.ToolSpec)
	}
	if _, exists := r.specs[spec.Name]; !exists {
		r.order = append(r.order, spec.Name)
	}
	r.specs[spec.Name] = spec
	return nil
}

// Get returns the ToolSpec registered under name.
func (r *Registry) Get(name string) (types.ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// List returns every registered ToolSpec in registration order.
func (r *Registry) List() []types.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.specs[name])
	}
	return out
}

// Names returns every registered tool name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns the LLM-facing schema for every registered tool, in
// registration order, ready to pass to an llm.Provider's Chat call.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		spec := r.specs[name]
		out = append(out, llm.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.Parameters,
		})
	}
	return out
}

// Clear removes every registered tool.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.specs = make(map[string]types.ToolSpec)
}

// normalizeSchema fills in a minimal valid schema when none was supplied.
// Absent a declared schema, it returns an object schema with no properties
// and an empty required list; parameters are not inferred from the handler.
// A supplied schema without a "required" key gets an empty one.
func normalizeSchema(schema map[string]any) map[string]any {
	if schema != nil {
		if _, ok := schema["required"]; !ok {
			schema["required"] = []string{}
		}
		return schema
	}
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []string{},
	}
}

// validateSchema checks the minimal shape the executor relies on.
func validateSchema(schema map[string]any) error {
	if t, _ := schema["type"].(string); t != "object" {
		return fmt.Errorf("parameters schema must have type \"object\"")
	}
	if _, ok := schema["properties"].(map[string]any); !ok {
		return fmt.Errorf("parameters schema must have a \"properties\" map")
	}
	return nil
}
