// Package gateway turns a chat request into a structured reply: it loads
// history, prepares attachments, resolves model candidates from the current
// configuration, runs the orchestrator and persists the exchange.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/chatreply/internal/config"
	"github.com/roelfdiedericks/chatreply/internal/health"
	"github.com/roelfdiedericks/chatreply/internal/llm"
	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/media"
	"github.com/roelfdiedericks/chatreply/internal/metrics"
	"github.com/roelfdiedericks/chatreply/internal/orchestrator"
	"github.com/roelfdiedericks/chatreply/internal/tools"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

// HistoryProvider loads prior turns of a conversation.
type HistoryProvider interface {
	History(ctx context.Context, conversationID string) ([]types.HistoryTurn, error)
}

// PersistenceSink stores a finished exchange.
type PersistenceSink interface {
	Persist(ctx context.Context, rec types.ExchangeRecord) error
}

// ErrEmptyMessage is returned for a request with neither text nor attachments.
var ErrEmptyMessage = errors.New("message is empty")

// Deps are the collaborators of a Gateway. Only Config and Provider are required.
type Deps struct {
	Config   func() *config.Config // read on every request so reloads apply immediately
	Provider llm.CompletionProvider
	Tools    tools.ToolClient
	Health   health.Cache
	History  HistoryProvider
	Sink     PersistenceSink
	Media    *media.Processor
	Counter  func(string) int
}

// ChatRequest is one user message.
type ChatRequest struct {
	TraceID        string             `json:"traceId,omitempty"`
	ConversationID string             `json:"conversationId,omitempty"`
	Message        string             `json:"message"`
	Model          string             `json:"model,omitempty"` // overrides the configured models
	Attachments    []types.Attachment `json:"attachments,omitempty"`
}

// ChatResponse is the reply to a ChatRequest.
type ChatResponse struct {
	TraceID        string                      `json:"traceId"`
	ConversationID string                      `json:"conversationId"`
	Message        string                      `json:"message"`
	Suggestions    []string                    `json:"suggestions"`
	ImageAnalyses  []types.ImageAnalysis       `json:"imageAnalyses,omitempty"`
	Model          string                      `json:"model"`
	Fallback       bool                        `json:"fallback,omitempty"`
	ToolResults    []types.ToolExecutionResult `json:"toolResults,omitempty"`
}

// Gateway is safe for concurrent use.
type Gateway struct {
	deps Deps
}

// New creates a Gateway.
func New(deps Deps) (*Gateway, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("gateway: config source is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("gateway: completion provider is required")
	}
	if deps.Media == nil {
		deps.Media = media.NewProcessor(nil, nil)
	}
	return &Gateway{deps: deps}, nil
}

// HandleChat produces a reply for req.
func (g *Gateway) HandleChat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return g.HandleChatStream(ctx, req, nil)
}

// HandleChatStream is HandleChat with progress events delivered to emit.
// emit may be nil and is called from the calling goroutine.
func (g *Gateway) HandleChatStream(ctx context.Context, req ChatRequest, emit func(ChatEvent)) (*ChatResponse, error) {
	if emit == nil {
		emit = func(ChatEvent) {}
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	if strings.TrimSpace(req.Message) == "" && len(req.Attachments) == 0 {
		return nil, ErrEmptyMessage
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	startTime := time.Now()
	defer L_elapsed(startTime, "gateway: chat handled", "trace", req.TraceID, "conversation", req.ConversationID)
	emit(EventChatStart{TraceID: req.TraceID, ConversationID: req.ConversationID})

	cfg := g.deps.Config()

	atts, err := g.deps.Media.Persist(req.ConversationID, req.Attachments)
	if err != nil {
		L_warn("gateway: failed to store attachments, using them inline", "trace", req.TraceID, "error", err)
		atts = req.Attachments
	}
	userTurn := types.HistoryTurn{
		Role:        types.RoleUser,
		Text:        strings.TrimSpace(req.Message),
		Attachments: atts,
		CreatedAt:   startTime,
	}

	history := g.loadHistory(ctx, req.TraceID, req.ConversationID, cfg.Orchestrator.HistoryTurns)
	msgs := make([]types.PromptMessage, 0, len(history)+1)
	for _, turn := range history {
		msgs = append(msgs, g.deps.Media.Message(turn.Role, turn.Text, turn.Attachments))
	}
	msgs = append(msgs, g.deps.Media.Message(userTurn.Role, userTurn.Text, userTurn.Attachments))

	orch := orchestrator.New(g.deps.Provider, g.toolClient(cfg), g.deps.Health, orchestrator.Options{
		Timeout:           cfg.Orchestrator.Timeout(),
		SuggestionTimeout: cfg.Orchestrator.SuggestionTimeout(),
		MaxTokens:         cfg.Orchestrator.MaxTokens,
		TokenBudget:       cfg.Orchestrator.HistoryTokenBudget,
		SystemPrompt:      cfg.Orchestrator.SystemPrompt,
		Counter:           g.deps.Counter,
	})

	result, err := orch.Run(ctx, orchestrator.Request{
		TraceID:      req.TraceID,
		Candidates:   llm.ResolveCandidates(cfg.Models, req.Model),
		History:      msgs,
		LanguageHint: userTurn.Text,
		OnProgress:   progressEmitter(req.TraceID, emit),
	})
	if err != nil {
		metrics.MetricFail("gateway", "chat", err)
		emit(EventChatError{TraceID: req.TraceID, Error: err.Error()})
		return nil, err
	}

	g.persist(ctx, req.ConversationID, userTurn, result)

	resp := &ChatResponse{
		TraceID:        result.TraceID,
		ConversationID: req.ConversationID,
		Message:        result.Reply.Message,
		Suggestions:    result.Reply.Suggestions,
		ImageAnalyses:  result.Reply.ImageAnalyses,
		Model:          result.ActiveModel.ModelID,
		Fallback:       len(result.Attempts) > 0,
		ToolResults:    result.ToolResults,
	}
	metrics.MetricSuccess("gateway", "chat")
	emit(EventChatEnd{Response: resp})
	return resp, nil
}

// loadHistory returns at most limit recent turns. A failing provider is
// logged and treated as an empty history.
func (g *Gateway) loadHistory(ctx context.Context, traceID, conversationID string, limit int) []types.HistoryTurn {
	if g.deps.History == nil {
		return nil
	}
	turns, err := g.deps.History.History(ctx, conversationID)
	if err != nil {
		L_warn("gateway: history unavailable, continuing without it", "trace", traceID, "conversation", conversationID, "error", err)
		return nil
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}

func (g *Gateway) toolClient(cfg *config.Config) tools.ToolClient {
	if cfg.Tools.Disabled {
		return nil
	}
	return g.deps.Tools
}

// persist stores the exchange. Failures are logged; the reply is still returned.
func (g *Gateway) persist(ctx context.Context, conversationID string, userTurn types.HistoryTurn, result *orchestrator.Result) {
	if g.deps.Sink == nil {
		return
	}
	err := g.deps.Sink.Persist(context.WithoutCancel(ctx), types.ExchangeRecord{
		ConversationID: conversationID,
		UserTurn:       userTurn,
		Reply:          result.Reply,
		Model:          result.ActiveModel.String(),
		TraceID:        result.TraceID,
	})
	if err != nil {
		L_error("gateway: failed to persist exchange", "trace", result.TraceID, "conversation", conversationID, "error", err)
		metrics.MetricFailWithReason("gateway", "persist", "store")
		return
	}
	metrics.MetricSuccess("gateway", "persist")
}

func progressEmitter(traceID string, emit func(ChatEvent)) func(orchestrator.Progress) {
	return func(p orchestrator.Progress) {
		switch p.Kind {
		case orchestrator.ProgressAttempt:
			emit(EventAttempt{TraceID: traceID, Model: p.Model, State: p.State.String()})
		case orchestrator.ProgressAttemptFailed:
			emit(EventAttemptFailed{TraceID: traceID, Model: p.Model, Reason: p.Reason})
		case orchestrator.ProgressToolResult:
			if p.Tool != nil {
				emit(EventToolResult{TraceID: traceID, Result: *p.Tool})
			}
		}
	}
}
