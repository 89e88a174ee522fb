// Package agent contains the model-facing core: the tool protocol, the
// registry that namespaces tools into logical servers, the LLM provider
// abstraction, and the loop that drives a forecast session to its final
// structured result.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tool is one research capability exposed to the model.
//
// Execute reports operational failures through ToolResult.IsError, not the
// error return; the error return is reserved for programming mistakes the
// loop converts into an error result anyway. The model always sees a result.
type Tool interface {
	// Name returns the tool name for model function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description of what the tool
	// does. This helps the model decide when to use the tool.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution. Errors are
// communicated via IsError=true so the model can handle failures and
// continue the session.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// NewToolResult wraps successful tool output.
func NewToolResult(content string) *ToolResult {
	return &ToolResult{Content: content}
}

// NewToolError wraps a failure the model should see and may recover from.
func NewToolError(format string, args ...any) *ToolResult {
	return &ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// JSONResult marshals v as indented JSON tool output. Marshal failures
// become error results rather than escaping the handler.
func JSONResult(v any) *ToolResult {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return NewToolError("encoding result: %v", err)
	}
	return NewToolResult(string(b))
}

// Registry groups tools into named servers (logical namespaces). The fully
// qualified identifier a model calls is "<namespace>__<tool>"; built-in
// tools register under their bare name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// QualifiedName joins a namespace and tool name into the wire identifier.
func QualifiedName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "__" + name
}

// Register adds a tool under a namespace. Registering the same qualified
// name twice is a programming error.
func (r *Registry) Register(namespace string, tool Tool) error {
	qualified := QualifiedName(namespace, tool.Name())

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[qualified]; exists {
		return fmt.Errorf("tool %q already registered", qualified)
	}
	r.tools[qualified] = namespacedTool{Tool: tool, qualified: qualified}
	r.order = append(r.order, qualified)
	return nil
}

// RegisterBuiltin adds a tool under its bare name.
func (r *Registry) RegisterBuiltin(tool Tool) error {
	return r.Register("", tool)
}

// Get looks up a tool by its qualified name.
func (r *Registry) Get(qualified string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[qualified]
	return t, ok
}

// Names returns the qualified names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Tools returns all registered tools in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Filter returns a new registry containing only the tools whose qualified
// names appear in allowed. Used by the policy layer to narrow the tool set
// per session without mutating the shared registry.
func (r *Registry) Filter(allowed []string) *Registry {
	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := NewRegistry()
	for _, name := range r.order {
		if allowedSet[name] {
			out.tools[name] = r.tools[name]
			out.order = append(out.order, name)
		}
	}
	return out
}

// Docs renders the registered tools as a markdown block for the system
// prompt, so the model only sees documentation for tools it can call.
func (r *Registry) Docs() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("## Available tools\n")
	for _, name := range names {
		sb.WriteString("\n### ")
		sb.WriteString(name)
		sb.WriteString("\n")
		sb.WriteString(r.tools[name].Description())
		sb.WriteString("\n")
	}
	return sb.String()
}

// namespacedTool wraps a tool so its Name reflects the qualified wire
// identifier while delegating everything else.
type namespacedTool struct {
	Tool
	qualified string
}

func (n namespacedTool) Name() string { return n.qualified }
