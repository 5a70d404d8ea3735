package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	httpClient *http.Client
	maxTokens  int

	mu      sync.Mutex
	clients map[string]*anthropic.Client
}

// NewAnthropicProvider creates a provider. httpClient may be nil.
func NewAnthropicProvider(httpClient *http.Client, maxTokens int) *AnthropicProvider {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &AnthropicProvider{
		httpClient: httpClient,
		maxTokens:  maxTokens,
		clients:    make(map[string]*anthropic.Client),
	}
}

func (p *AnthropicProvider) clientFor(c ModelCandidate) *anthropic.Client {
	key := c.Endpoint + "|" + c.Credential
	p.mu.Lock()
	defer p.mu.Unlock()
	if cl, ok := p.clients[key]; ok {
		return cl
	}
	opts := []option.RequestOption{
		option.WithAPIKey(c.Credential),
		option.WithHTTPClient(p.httpClient),
	}
	if base := strings.TrimRight(c.Endpoint, "/"); base != "" {
		// the SDK appends /v1/messages itself
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/v1")))
	}
	cl := anthropic.NewClient(opts...)
	p.clients[key] = &cl
	L_debug("anthropic: client created", "endpoint", c.Endpoint)
	return &cl
}

// Complete performs a single Messages API call. JSON mode has no native
// switch here; the system instruction carries the format requirement.
func (p *AnthropicProvider) Complete(ctx context.Context, c ModelCandidate, req CompletionRequest) (*Completion, error) {
	system, messages := toAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.ModelID),
		MaxTokens: int64(firstPositive(req.MaxTokens, p.maxTokens, anthropicDefaultMaxTokens)),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 && req.ToolChoice != ToolChoiceNone {
		params.Tools = toAnthropicTools(req.Tools)
		if req.ToolChoice == ToolChoiceRequired {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		} else {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	L_trace("anthropic: request", "model", c.ModelID, "messages", len(messages), "tools", len(params.Tools))

	msg, err := p.clientFor(c).Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic %s: %w", c.ModelID, err)
	}

	out := &Completion{}
	if raw := msg.RawJSON(); raw != "" {
		out.Payload = decodeRaw([]byte(raw))
	} else {
		out.Payload = normalizePayload(msg)
	}
	for _, block := range msg.Content {
		if use, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			args, _ := json.Marshal(use.Input)
			out.ToolCalls = append(out.ToolCalls, types.ToolInvocationRequest{
				ID:            use.ID,
				ToolName:      use.Name,
				ArgumentsJSON: string(args),
			})
		}
	}
	return out, nil
}

// toAnthropicMessages splits out system text and merges consecutive turns of
// the same role, which the Messages API rejects.
func toAnthropicMessages(msgs []types.PromptMessage) (string, []anthropic.MessageParam) {
	var system []string
	var out []anthropic.MessageParam
	var blocks []anthropic.ContentBlockParamUnion
	var role types.Role

	flush := func() {
		if len(blocks) == 0 {
			return
		}
		if role == types.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
		blocks = nil
	}

	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			system = append(system, m.PlainText())
			continue
		}
		if m.Role != role {
			flush()
			role = m.Role
		}
		if !m.IsMultimodal() {
			if strings.TrimSpace(m.Text) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Text))
			}
			continue
		}
		for _, part := range m.Parts {
			switch part.Type {
			case types.PartText:
				if part.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				}
			case types.PartImage:
				if m.Role == types.RoleUser {
					blocks = append(blocks, anthropicImageBlock(part.URL))
				}
			}
		}
	}
	flush()
	return strings.Join(system, "\n\n"), out
}

func anthropicImageBlock(url string) anthropic.ContentBlockParamUnion {
	if mime, data, ok := splitDataURL(url); ok {
		return anthropic.NewImageBlockBase64(mime, data)
	}
	return anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: url})
}

// splitDataURL parses data:<mime>;base64,<payload>.
func splitDataURL(u string) (mime, data string, ok bool) {
	rest, found := strings.CutPrefix(u, "data:")
	if !found {
		return "", "", false
	}
	header, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mime, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return "", "", false
	}
	return mime, payload, true
}

func toAnthropicTools(descs []types.ToolDescriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(descs))
	for _, d := range descs {
		schema := anthropic.ToolInputSchemaParam{Properties: d.InputSchema["properties"]}
		if req, ok := d.InputSchema["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}
