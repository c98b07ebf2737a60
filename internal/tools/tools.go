// Package tools defines the Tool Executor contract the Run Engine resolves
// tool calls against: a name-keyed Registry of Spec entries, each
// carrying an execute operation, a side-effect classification, and an
// optional JSON-Schema validator for its arguments.
//
// Implementation of any concrete tool (calculator, filesystem, email, ...)
// is out of scope per spec.md §1/§4.4 — this package only defines the seam
// the engine calls through. Grounded on the teacher's runtime/agent/tools
// (ToolSpec naming, Ident-style opaque names) and
// runtime/toolregistry/executor's "route by name, execute, fold result into
// a message" shape, trimmed to the fields spec.md §4.4 actually calls for.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SideEffect classifies the kind of effect a tool may have. The engine
// does not read these flags.
type SideEffect string

const (
	SideEffectNetwork    SideEffect = "network"
	SideEffectFilesystem SideEffect = "filesystem"
	SideEffectProcess    SideEffect = "process"
	SideEffectExternal   SideEffect = "external"
)

// Context is the execution context the Run Engine supplies to every tool
// invocation.
type Context struct {
	AgentID string
	RunID   string
	// CancelSignal is closed when the owning Run is cancelled; long-running
	// tools should select on it to abort early.
	CancelSignal <-chan struct{}
}

// Executor is implemented by a registered tool.
type Executor interface {
	// Execute runs the tool against arguments (already JSON-decoded into a
	// map by the caller is not required; implementations receive the raw
	// JSON object so they can unmarshal into their own typed payload) and
	// returns a JSON-encodable value, or an error.
	Execute(ctx context.Context, tc Context, arguments json.RawMessage) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, tc Context, arguments json.RawMessage) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, tc Context, arguments json.RawMessage) (any, error) {
	return f(ctx, tc, arguments)
}

// Spec is the registered metadata and executor for one tool.
type Spec struct {
	Name        string
	Description string
	// Parameters is the tool's JSON-Schema parameter definition, passed to
	// the provider adapter for tool declaration.
	Parameters json.RawMessage
	Executor    Executor
	SideEffects []SideEffect
	// RequiresApproval marks a tool the engine should never execute
	// in-process; the engine always treats such a tool as externally
	// resolved and suspends the Run into requires_action for it.
	RequiresApproval bool

	schema *jsonschema.Schema
}

// compileSchema lazily compiles Parameters for argument validation. A tool
// with no Parameters (or invalid schema) skips validation; execution is not
// blocked on schema-compile failures, since the spec only requires
// parameters be surfaced to the provider, not enforced at call time.
func (s *Spec) compileSchema() *jsonschema.Schema {
	if s.schema != nil || len(s.Parameters) == 0 {
		return s.schema
	}
	c := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal(s.Parameters, &doc); err != nil {
		return nil
	}
	const resourceName = "params.json"
	if err := c.AddResource(resourceName, doc); err != nil {
		return nil
	}
	schema, err := c.Compile(resourceName)
	if err != nil {
		return nil
	}
	s.schema = schema
	return s.schema
}

// Validate checks arguments against the tool's JSON-Schema parameters, if
// any was declared and compiles cleanly. A tool without a usable schema
// always validates.
func (s *Spec) Validate(arguments json.RawMessage) error {
	schema := s.compileSchema()
	if schema == nil {
		return nil
	}
	var doc any
	if err := json.Unmarshal(arguments, &doc); err != nil {
		return fmt.Errorf("tools: arguments not valid JSON: %w", err)
	}
	return schema.Validate(doc)
}

// Registry maps tool name to Spec. The Run Engine populates one per Run
// start from the executing Assistant's declared tools.
type Registry struct {
	specs map[string]*Spec
}

// NewRegistry returns a Registry populated with specs.
func NewRegistry(specs ...*Spec) *Registry {
	r := &Registry{specs: make(map[string]*Spec, len(specs))}
	for _, s := range specs {
		r.specs[s.Name] = s
	}
	return r
}

// Register adds or replaces a tool spec.
func (r *Registry) Register(s *Spec) {
	if r.specs == nil {
		r.specs = make(map[string]*Spec)
	}
	r.specs[s.Name] = s
}

// Lookup returns the Spec for name, if registered.
func (r *Registry) Lookup(name string) (*Spec, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.specs[name]
	return s, ok
}

// Execute resolves name in the registry and runs it. If the tool is not
// registered, the returned error is ErrNotRegistered; the engine treats a
// declared tool that yields it as externally resolved and suspends the Run
// into requires_action (undeclared tools never reach Execute).
func (r *Registry) Execute(ctx context.Context, tc Context, name string, arguments json.RawMessage) (any, error) {
	spec, ok := r.Lookup(name)
	if !ok {
		return nil, ErrNotRegistered{Name: name}
	}
	if spec.RequiresApproval {
		return nil, ErrRequiresApproval{Name: name}
	}
	return spec.Executor.Execute(ctx, tc, arguments)
}

// ErrNotRegistered is returned by Registry.Execute for an unknown tool name.
type ErrNotRegistered struct{ Name string }

func (e ErrNotRegistered) Error() string { return fmt.Sprintf("tool not found: %s", e.Name) }

// ErrRequiresApproval is returned by Registry.Execute for a tool marked
// RequiresApproval; the engine treats this identically to an unregistered
// tool for the purpose of suspending into requires_action.
type ErrRequiresApproval struct{ Name string }

func (e ErrRequiresApproval) Error() string { return fmt.Sprintf("tool requires external resolution: %s", e.Name) }
