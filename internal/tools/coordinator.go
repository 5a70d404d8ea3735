package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/metrics"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

// ImagePlaceholder stands in for image tool output in text prompts.
const ImagePlaceholder = "[Image content]"

// Coordinator executes the tool calls of one completion against the tools
// listed for that attempt.
type Coordinator struct {
	client    ToolClient
	available []types.ToolDescriptor
}

// NewCoordinator binds a client to the descriptors it advertised.
func NewCoordinator(client ToolClient, available []types.ToolDescriptor) *Coordinator {
	return &Coordinator{client: client, available: available}
}

// Resolve finds a descriptor by exact name, then case-insensitively, then by
// normalized substring in either direction. Vendors often namespace or
// mangle names, e.g. "functions.get_weather" for "get-weather".
func (c *Coordinator) Resolve(name string) (types.ToolDescriptor, bool) {
	for _, d := range c.available {
		if d.Name == name {
			return d, true
		}
	}
	for _, d := range c.available {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	want := normalizeName(name)
	if want == "" {
		return types.ToolDescriptor{}, false
	}
	for _, d := range c.available {
		have := normalizeName(d.Name)
		if have == "" {
			continue
		}
		if strings.Contains(have, want) || strings.Contains(want, have) {
			return d, true
		}
	}
	return types.ToolDescriptor{}, false
}

// Execute runs each request in order and always returns one result per
// request. Failures become inline error text and never stop the round.
func (c *Coordinator) Execute(ctx context.Context, reqs []types.ToolInvocationRequest) []types.ToolExecutionResult {
	results := make([]types.ToolExecutionResult, 0, len(reqs))
	for _, req := range reqs {
		results = append(results, c.executeOne(ctx, req))
	}
	return results
}

func (c *Coordinator) executeOne(ctx context.Context, req types.ToolInvocationRequest) types.ToolExecutionResult {
	desc, ok := c.Resolve(req.ToolName)
	if !ok {
		L_warn("tools: tool not found", "tool", req.ToolName)
		metrics.MetricFailWithReason("tools", "call", "not_found")
		return failed(req.ToolName, fmt.Sprintf("Error: Tool '%s' not found", req.ToolName))
	}

	args, err := parseArguments(req.ArgumentsJSON)
	if err != nil {
		L_warn("tools: bad arguments", "tool", desc.Name, "error", err)
		metrics.MetricFailWithReason("tools", "call", "bad_arguments")
		return failed(desc.Name, fmt.Sprintf("Error: Invalid arguments for tool '%s': %v", desc.Name, err))
	}

	start := time.Now()
	resp, err := c.client.CallTool(ctx, types.ToolCall{ServerID: desc.ServerID, Name: desc.Name, Arguments: args})
	metrics.MetricDuration("tools", desc.Name, time.Since(start))
	if err != nil {
		L_warn("tools: call failed", "tool", desc.Name, "server", desc.ServerID, "error", err)
		metrics.MetricFailWithReason("tools", "call", "error")
		return failed(desc.Name, fmt.Sprintf("Error: Tool '%s' failed: %v", desc.Name, err))
	}

	text := DisplayText(resp)
	if resp != nil && resp.IsError {
		metrics.MetricFailWithReason("tools", "call", "tool_error")
		return failed(desc.Name, "Error: "+text)
	}

	metrics.MetricSuccess("tools", "call")
	L_debug("tools: call completed", "tool", desc.Name, "server", desc.ServerID, "resultLen", len(text))
	return types.ToolExecutionResult{ToolName: desc.Name, OutputText: text}
}

func failed(name, text string) types.ToolExecutionResult {
	return types.ToolExecutionResult{ToolName: name, OutputText: text, Failed: true}
}

// parseArguments decodes a call's argument object. Blank and null mean none.
func parseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// DisplayText reduces a tool response to prompt text: the first text chunk,
// a placeholder for an image chunk, or the raw envelope as JSON.
func DisplayText(resp *types.ToolResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Content {
		switch c.Type {
		case "text":
			return c.Text
		case "image":
			return ImagePlaceholder
		}
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return ""
	}
	return string(b)
}

// FollowUpTurn packs tool results into a synthetic user turn asking for the
// final answer.
func FollowUpTurn(results []types.ToolExecutionResult) types.PromptMessage {
	var b strings.Builder
	b.WriteString("Tool results:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "\n[%s]\n%s\n", r.ToolName, r.OutputText)
	}
	b.WriteString("\nPlease provide a final answer to my previous message based on these tool results.")
	return types.TextMessage(types.RoleUser, b.String())
}

func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
