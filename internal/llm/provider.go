package llm

import (
	"context"
	"net/url"
	"strings"

	"github.com/roelfdiedericks/chatreply/internal/types"
)

// ToolChoice values accepted by CompletionRequest.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// CompletionRequest is everything a provider needs for one call.
type CompletionRequest struct {
	Messages   []types.PromptMessage
	JSONMode   bool
	Tools      []types.ToolDescriptor
	ToolChoice string
	MaxTokens  int
}

// Completion is a provider response. Payload is the decoded response body in
// whatever shape the provider returned; callers read text through Text.
type Completion struct {
	Payload   any
	ToolCalls []types.ToolInvocationRequest
}

// Text returns the best-effort assistant text of the completion, verbatim.
func (c *Completion) Text() string {
	if c == nil {
		return ""
	}
	return ExtractText(c.Payload)
}

// Usable reports whether the completion carries text or tool calls.
func (c *Completion) Usable() bool {
	return c != nil && (len(c.ToolCalls) > 0 || c.Text() != "")
}

// CompletionProvider performs one non-streaming completion against a candidate.
type CompletionProvider interface {
	Complete(ctx context.Context, candidate ModelCandidate, req CompletionRequest) (*Completion, error)
}

// IsAnthropicEndpoint reports whether an endpoint speaks the Anthropic Messages API.
func IsAnthropicEndpoint(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(u.Host), "anthropic")
}
