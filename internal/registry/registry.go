// Package registry provides the explicit tool registry for the agent
// pipeline.
//
// A Registry is constructed at startup, populated with Register, and
// passed by reference to every component that resolves tools. The
// registry is read-only once routing begins: registration happens during
// wiring, before any request is served, so lookups need no locking.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/jsonschema-go/jsonschema"
)

// ToolSpec describes a registered tool. The zero value is not usable;
// specs are created by Register and handed out by Resolve.
type ToolSpec struct {
	// Name is the unique tool identifier presented to the model.
	Name string

	// Description tells the model when to call the tool.
	Description string

	// Parallelizable marks the tool safe for concurrent execution. A
	// batch of proposed calls runs concurrently only when every call in
	// the batch targets a parallelizable tool.
	Parallelizable bool

	// Required marks the tool load-bearing for the turn: if its
	// execution fails, the turn cannot produce a useful answer and the
	// router stops issuing further calls.
	Required bool

	// Timeout bounds one invocation. Zero means the router default.
	Timeout time.Duration

	// InputSchema is the JSON schema derived from the registered input
	// type. Exposed for transports that re-publish tools (MCP).
	InputSchema *jsonschema.Schema

	resolved *jsonschema.Resolved
	run      func(ctx context.Context, args map[string]any) (any, error)
	ref      ai.Tool
}

// ValidateArgs checks proposed arguments against the tool's input
// schema without executing anything.
func (s *ToolSpec) ValidateArgs(args map[string]any) error {
	if s.resolved == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	return s.resolved.Validate(args)
}

// Execute runs the tool with already-validated arguments. Argument
// decoding errors are still possible (schema validation is structural,
// not exhaustive) and are returned as execution failures.
func (s *ToolSpec) Execute(ctx context.Context, args map[string]any) (any, error) {
	return s.run(ctx, args)
}

// Ref returns the genkit tool handle for Generate options.
func (s *ToolSpec) Ref() ai.ToolRef {
	return s.ref
}

// Definition is the typed registration input for one tool.
type Definition[In, Out any] struct {
	Name           string
	Description    string
	Parallelizable bool
	Required       bool
	Timeout        time.Duration
	Handler        func(ctx context.Context, in In) (Out, error)
}

// Registry maps tool names to specs. Iteration order follows
// registration order so the model always sees a stable tool list.
type Registry struct {
	g     *genkit.Genkit
	specs map[string]*ToolSpec
	order []string
}

// New creates an empty registry bound to a genkit instance.
func New(g *genkit.Genkit) *Registry {
	return &Registry{
		g:     g,
		specs: make(map[string]*ToolSpec),
	}
}

// Register adds a tool to the registry. The input schema is derived
// from In via jsonschema.For; struct tags on In (json,
// jsonschema_description) shape what the model sees. Registering a name
// twice returns DuplicateToolError.
//
// Register is a top-level function because methods cannot carry type
// parameters.
func Register[In, Out any](r *Registry, def Definition[In, Out]) error {
	if def.Name == "" {
		return errors.New("registry: tool name required")
	}
	if def.Handler == nil {
		return fmt.Errorf("registry: tool %q has no handler", def.Name)
	}
	if _, exists := r.specs[def.Name]; exists {
		return &DuplicateToolError{Name: def.Name}
	}

	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("registry: deriving schema for %q: %w", def.Name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("registry: resolving schema for %q: %w", def.Name, err)
	}

	handler := def.Handler
	tool := genkit.DefineTool(r.g, def.Name, def.Description,
		func(tc *ai.ToolContext, in In) (Out, error) {
			return handler(tc.Context, in)
		})

	run := func(ctx context.Context, args map[string]any) (any, error) {
		var in In
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encoding arguments for %q: %w", def.Name, err)
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, fmt.Errorf("decoding arguments for %q: %w", def.Name, err)
		}
		return handler(ctx, in)
	}

	spec := &ToolSpec{
		Name:           def.Name,
		Description:    def.Description,
		Parallelizable: def.Parallelizable,
		Required:       def.Required,
		Timeout:        def.Timeout,
		InputSchema:    schema,
		resolved:       resolved,
		run:            run,
		ref:            tool,
	}

	r.specs[def.Name] = spec
	r.order = append(r.order, def.Name)
	return nil
}

// Resolve returns the spec for name, or UnknownToolError.
func (r *Registry) Resolve(name string) (*ToolSpec, error) {
	spec, ok := r.specs[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return spec, nil
}

// Specs returns all registered specs in registration order.
func (r *Registry) Specs() []*ToolSpec {
	specs := make([]*ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.specs[name])
	}
	return specs
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Refs returns genkit tool references for Generate options, in
// registration order.
func (r *Registry) Refs() []ai.ToolRef {
	refs := make([]ai.ToolRef, 0, len(r.order))
	for _, name := range r.order {
		refs = append(refs, r.specs[name].ref)
	}
	return refs
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}
