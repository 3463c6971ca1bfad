package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/agentx/agentx-cli/internal/llm"
)

// Handler executes one tool call. Arguments arrive as the raw JSON the model
// produced; each handler decodes its own parameter struct.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool pairs a definition with its handler
type Tool struct {
	Definition llm.ToolDefinition
	Handler    Handler
}

// Registry maps capability names to typed handlers. It is assembled
// explicitly at startup; nothing is discovered by reflection.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering the same name twice is a programming
// error and panics during startup wiring.
func (r *Registry) Register(tool Tool) {
	name := tool.Definition.Name
	if name == "" {
		panic("tools: registering a tool without a name")
	}
	if _, exists := r.tools[name]; exists {
		panic(fmt.Sprintf("tools: duplicate registration of %q", name))
	}
	r.tools[name] = tool
}

// Has reports whether a capability is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Dispatch runs the named tool
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown function: %s", name)
	}
	return tool.Handler(ctx, args)
}

// Definitions returns all tool definitions in name order, for handing to
// the provider when a session is opened.
func (r *Registry) Definitions() []llm.ToolDefinition {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, len(names))
	for i, name := range names {
		defs[i] = r.tools[name].Definition
	}
	return defs
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	return len(r.tools)
}
