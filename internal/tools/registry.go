// Package tools provides the closed tool registry the loop dispatches
// through, plus the built-in tools.
package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/stewardworks/steward/internal/workspace"
)

// Risk levels attached to tool metadata.
const (
	RiskLow      = "low"
	RiskModerate = "moderate"
	RiskHigh     = "high"
)

// Raw is the raw outcome of a single tool invocation: rendered output
// plus a process-style exit code (0 ok, 1 generic failure, the real
// code for shell commands). Tools return a non-nil Raw alongside an
// error whenever any output exists, so metadata can be mined from
// failures too.
type Raw struct {
	Output   string
	ExitCode int
}

// Meta describes a tool for operators and the audit trail.
type Meta struct {
	Usage string
	Risk  string
}

// Tool is one executable capability.
type Tool interface {
	// Name returns the tool name.
	Name() string
	// Description returns a description for the oracle.
	Description() string
	// Parameters returns the JSON schema for arguments.
	Parameters() map[string]interface{}
	// Meta returns usage and risk metadata.
	Meta() Meta
	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args map[string]interface{}) (*Raw, error)
}

// Definition is the oracle-facing tool definition.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// UnknownToolError reports an action naming a tool outside the
// registry. Dispatch is closed: unknown names fail fast.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Tool)
}

// Registry holds the closed tool set.
type Registry struct {
	tools map[string]Tool
	guard *workspace.Guard
}

// NewRegistry creates a registry with the built-in tools, bound to a
// workspace guard for write checks and as the shell working directory.
func NewRegistry(guard *workspace.Guard) *Registry {
	r := &Registry{
		tools: make(map[string]Tool),
		guard: guard,
	}
	r.Register(&readTool{})
	r.Register(&writeTool{guard: guard})
	r.Register(&listTool{})
	r.Register(&findTool{guard: guard})
	r.Register(&shellTool{guard: guard})
	r.Register(&fetchTool{})
	return r
}

// Register adds a tool.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Has reports whether a tool exists.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Lookup returns a tool or a typed error for unknown names.
func (r *Registry) Lookup(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, &UnknownToolError{Tool: name}
	}
	return t, nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns oracle-facing definitions for all tools, in
// stable name order.
func (r *Registry) Definitions() []Definition {
	var defs []Definition
	for _, name := range r.Names() {
		t := r.tools[name]
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// MetaFor returns the metadata of a tool, zero when unknown.
func (r *Registry) MetaFor(name string) Meta {
	if t, ok := r.tools[name]; ok {
		return t.Meta()
	}
	return Meta{}
}

func stringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}
