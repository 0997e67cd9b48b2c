// Package toolkit holds the tool catalog: the Tool/Registry contract
// dispatch.Dispatcher executes against, and one implementation per tool
// family (file, shell, web, pdf, codeintel, diff), each a sandboxed
// capability the execution engine can call through a model function call.
package toolkit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashgrove-labs/orkestra"
)

// Tool is a pluggable capability exposed to the model via one or more
// named function declarations.
type Tool interface {
	// Definitions returns the JSON-Schema-backed declarations for every
	// function name this tool handles.
	Definitions() []orkestra.ToolDefinition
	// Execute runs the named function with its call arguments.
	Execute(ctx context.Context, name string, args json.RawMessage) (orkestra.Output, error)
}

// Registry is the single source of truth for tool schema: the same
// Definitions a provider request advertises to the model are what
// Registry.Execute validates dispatch against, so there is no duplicated
// schema to drift.
type Registry struct {
	tools  []Tool
	byName map[string]Tool
	// allow restricts Definitions/Execute to this set of function names
	// when non-nil. Set only by Subset; the root registry built via Add
	// always advertises everything it holds.
	allow map[string]bool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tool)}
}

// Add registers a tool, indexing each of its function names.
func (r *Registry) Add(t Tool) {
	r.tools = append(r.tools, t)
	for _, def := range t.Definitions() {
		r.byName[def.Name] = t
	}
}

// Definitions returns every function declaration across all registered
// tools, in registration order, filtered to the allow-list when this
// Registry was built by Subset.
func (r *Registry) Definitions() []orkestra.ToolDefinition {
	var defs []orkestra.ToolDefinition
	for _, t := range r.tools {
		for _, def := range t.Definitions() {
			if r.allow != nil && !r.allow[def.Name] {
				continue
			}
			defs = append(defs, def)
		}
	}
	return defs
}

// Execute dispatches a single named function call to whichever tool
// declared it. A Subset registry refuses calls outside its allow-list even
// though the underlying Tool would happily handle them.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (orkestra.Output, error) {
	if r.allow != nil && !r.allow[name] {
		return orkestra.Output{}, fmt.Errorf("tool %q not offered in this phase", name)
	}
	t, ok := r.byName[name]
	if !ok {
		return orkestra.Output{}, fmt.Errorf("unknown tool: %s", name)
	}
	return t.Execute(ctx, name, args)
}

// Has reports whether name is a registered function, and (for a Subset
// registry) whether it is within the allow-list.
func (r *Registry) Has(name string) bool {
	if r.allow != nil && !r.allow[name] {
		return false
	}
	_, ok := r.byName[name]
	return ok
}

// Subset builds a new Registry restricted to the named functions, sharing
// the same underlying Tool instances (so state like the workspace sandbox
// carries over) but advertising and executing only those names — even if
// the underlying Tool declares siblings. Used by the engine's edit-phase
// enforcement to offer the model only edit_file/write_file.
func (r *Registry) Subset(names ...string) *Registry {
	sub := NewRegistry()
	sub.allow = make(map[string]bool, len(names))
	seen := make(map[Tool]bool)
	for _, name := range names {
		sub.allow[name] = true
		t, ok := r.byName[name]
		if !ok {
			continue
		}
		sub.byName[name] = t
		if !seen[t] {
			seen[t] = true
			sub.tools = append(sub.tools, t)
		}
	}
	return sub
}
