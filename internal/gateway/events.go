package gateway

import "github.com/roelfdiedericks/chatreply/internal/types"

// ChatEvent is a progress notification emitted while a chat request runs.
type ChatEvent interface {
	EventType() string
}

// EventChatStart is emitted once the request is accepted.
type EventChatStart struct {
	TraceID        string `json:"traceId"`
	ConversationID string `json:"conversationId"`
}

func (EventChatStart) EventType() string { return "chat.start" }

// EventAttempt is emitted before each model candidate is tried.
type EventAttempt struct {
	TraceID string `json:"traceId"`
	Model   string `json:"model"`
	State   string `json:"state"`
}

func (EventAttempt) EventType() string { return "chat.attempt" }

// EventAttemptFailed is emitted when a candidate fails and the next one (if any) is tried.
type EventAttemptFailed struct {
	TraceID string `json:"traceId"`
	Model   string `json:"model"`
	Reason  string `json:"reason"`
}

func (EventAttemptFailed) EventType() string { return "chat.attempt_failed" }

// EventToolResult is emitted for every executed tool call.
type EventToolResult struct {
	TraceID string                    `json:"traceId"`
	Result  types.ToolExecutionResult `json:"result"`
}

func (EventToolResult) EventType() string { return "chat.tool_result" }

// EventChatEnd carries the final reply.
type EventChatEnd struct {
	Response *ChatResponse `json:"response"`
}

func (EventChatEnd) EventType() string { return "chat.end" }

// EventChatError is emitted when no reply could be produced.
type EventChatError struct {
	TraceID string `json:"traceId"`
	Error   string `json:"error"`
}

func (EventChatError) EventType() string { return "chat.error" }
