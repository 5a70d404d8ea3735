package types

import "strings"

// ToolDescriptor is a tool advertised by a tool client.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	ServerID    string         `json:"serverId"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ToolInvocationRequest is a tool call emitted by a completion.
// ArgumentsJSON is passed through untouched and may not parse.
type ToolInvocationRequest struct {
	ID            string `json:"id"`
	ToolName      string `json:"toolName"`
	ArgumentsJSON string `json:"argumentsJson"`
}

// ToolCall is a resolved, dispatchable call to a tool client.
type ToolCall struct {
	ServerID  string         `json:"serverId"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolContent is one chunk of a tool response envelope.
type ToolContent struct {
	Type     string `json:"type"` // "text", "image", or anything a server invents
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ToolResponse is the envelope returned by a tool client.
type ToolResponse struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// TextResponse creates a ToolResponse with a single text chunk.
func TextResponse(text string) *ToolResponse {
	return &ToolResponse{Content: []ToolContent{{Type: "text", Text: text}}}
}

// ErrorResponse creates an error ToolResponse.
func ErrorResponse(msg string) *ToolResponse {
	return &ToolResponse{Content: []ToolContent{{Type: "text", Text: msg}}, IsError: true}
}

// GetText returns the concatenated text from all text chunks.
func (r *ToolResponse) GetText() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolExecutionResult is the outcome of one tool call. It is always produced;
// a failed call carries a readable error in OutputText.
type ToolExecutionResult struct {
	ToolName   string `json:"toolName"`
	OutputText string `json:"outputText"`
	Failed     bool   `json:"failed"`
}
