package llm

import (
	"context"
	"net/http"
)

// Router dispatches each candidate to the provider that speaks its endpoint's API.
type Router struct {
	OpenAI    CompletionProvider
	Anthropic CompletionProvider
}

// NewRouter creates a Router with the standard providers sharing one HTTP client.
func NewRouter(httpClient *http.Client, maxTokens int) *Router {
	return &Router{
		OpenAI:    NewOpenAIProvider(httpClient, maxTokens),
		Anthropic: NewAnthropicProvider(httpClient, maxTokens),
	}
}

// Complete implements CompletionProvider.
func (r *Router) Complete(ctx context.Context, c ModelCandidate, req CompletionRequest) (*Completion, error) {
	if IsAnthropicEndpoint(c.Endpoint) && r.Anthropic != nil {
		return r.Anthropic.Complete(ctx, c, req)
	}
	return r.OpenAI.Complete(ctx, c, req)
}
