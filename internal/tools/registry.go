package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

// LocalServerID is the server id advertised for in-process tools.
const LocalServerID = "local"

// Registry holds in-process tools and serves them as a ToolClient.
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// NewBuiltinRegistry returns a registry with the built-in tools registered.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewJQTool())
	r.Register(NewTimeTool())
	return r
}

// Register adds a tool to the registry
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ListTools returns descriptors sorted by name.
func (r *Registry) ListTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, types.ToolDescriptor{
			Name:        t.Name(),
			ServerID:    LocalServerID,
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CallTool runs a local tool. Tool failures are returned as error responses,
// not Go errors, matching what a remote server would send.
func (r *Registry) CallTool(ctx context.Context, call types.ToolCall) (*types.ToolResponse, error) {
	tool, ok := r.Get(call.Name)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", call.Name)
	}

	input, err := json.Marshal(call.Arguments)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}

	out, err := tool.Execute(ctx, input)
	if err != nil {
		L_debug("tools: local tool failed", "tool", call.Name, "error", err)
		return types.ErrorResponse(err.Error()), nil
	}
	return types.TextResponse(out), nil
}
