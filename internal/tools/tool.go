// Package tools resolves and executes tool calls emitted by a completion and
// hosts the built-in local tools.
package tools

import (
	"context"
	"encoding/json"

	"github.com/roelfdiedericks/chatreply/internal/types"
)

// ToolClient lists and calls tools on one or more tool servers.
type ToolClient interface {
	ListTools(ctx context.Context) ([]types.ToolDescriptor, error)
	CallTool(ctx context.Context, call types.ToolCall) (*types.ToolResponse, error)
}

// Tool is the interface that local tools implement
type Tool interface {
	// Name returns the unique name of the tool
	Name() string

	// Description returns a human-readable description for the LLM
	Description() string

	// Schema returns the JSON Schema for the tool's input parameters
	Schema() map[string]any

	// Execute runs the tool with the given input
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}
