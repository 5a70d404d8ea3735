package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, LM Studio, vLLM, Ollama's /v1, ...).
type OpenAIProvider struct {
	httpClient *http.Client
	maxTokens  int

	mu      sync.Mutex
	clients map[string]*openai.Client
}

// NewOpenAIProvider creates a provider. httpClient may be nil.
func NewOpenAIProvider(httpClient *http.Client, maxTokens int) *OpenAIProvider {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OpenAIProvider{
		httpClient: httpClient,
		maxTokens:  maxTokens,
		clients:    make(map[string]*openai.Client),
	}
}

// clientFor returns a cached client per endpoint and credential.
func (p *OpenAIProvider) clientFor(c ModelCandidate) *openai.Client {
	key := c.Endpoint + "|" + c.Credential
	p.mu.Lock()
	defer p.mu.Unlock()
	if cl, ok := p.clients[key]; ok {
		return cl
	}

	apiKey := c.Credential
	if apiKey == "" {
		apiKey = "not-needed" // local servers ignore auth
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = NormalizeOpenAIBaseURL(c.Endpoint)
	cfg.HTTPClient = p.httpClient

	cl := openai.NewClientWithConfig(cfg)
	p.clients[key] = cl
	L_debug("openai: client created", "baseURL", cfg.BaseURL)
	return cl
}

// NormalizeOpenAIBaseURL appends /v1 to bare host URLs.
func NormalizeOpenAIBaseURL(endpoint string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	u, err := url.Parse(endpoint)
	if err != nil || u.Path != "" {
		return endpoint
	}
	return endpoint + "/v1"
}

// Complete performs a single chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, c ModelCandidate, req CompletionRequest) (*Completion, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    c.ModelID,
		Messages: toOpenAIMessages(req.Messages),
	}
	if limit := firstPositive(req.MaxTokens, p.maxTokens); limit > 0 {
		chatReq.MaxTokens = limit
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
		chatReq.ToolChoice = firstNonEmpty(req.ToolChoice, ToolChoiceAuto)
	}

	L_trace("openai: request", "model", c.ModelID, "messages", len(chatReq.Messages), "tools", len(chatReq.Tools), "json", req.JSONMode)

	resp, err := p.clientFor(c).CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai %s: %w", c.ModelID, err)
	}

	out := &Completion{Payload: normalizePayload(resp)}
	if len(resp.Choices) > 0 {
		for _, tc := range resp.Choices[0].Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, types.ToolInvocationRequest{
				ID:            tc.ID,
				ToolName:      tc.Function.Name,
				ArgumentsJSON: tc.Function.Arguments,
			})
		}
	}
	return out, nil
}

func toOpenAIMessages(msgs []types.PromptMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := string(m.Role)
		if !m.IsMultimodal() || m.Role != types.RoleUser {
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.PlainText()})
			continue
		}
		parts := make([]openai.ChatMessagePart, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch part.Type {
			case types.PartImage:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    part.URL,
						Detail: openai.ImageURLDetailAuto,
					},
				})
			case types.PartText:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: part.Text,
				})
			}
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}
	return out
}

func toOpenAITools(descs []types.ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, len(descs))
	for i, d := range descs {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  schemaOrEmpty(d.InputSchema),
			},
		}
	}
	return out
}

func schemaOrEmpty(schema map[string]any) map[string]any {
	if len(schema) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return schema
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
