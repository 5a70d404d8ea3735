package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/roelfdiedericks/chatreply/internal/config"
	"github.com/roelfdiedericks/chatreply/internal/llm"
	"github.com/roelfdiedericks/chatreply/internal/orchestrator"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

const goodReply = `{"message":"Hello there","suggestions":["A?","B?","C?"]}`

type fakeProvider struct {
	mu    sync.Mutex
	reqs  []llm.CompletionRequest
	cands []llm.ModelCandidate
	fn    func(c llm.ModelCandidate, n int) (*llm.Completion, error)
}

func (p *fakeProvider) Complete(ctx context.Context, c llm.ModelCandidate, req llm.CompletionRequest) (*llm.Completion, error) {
	p.mu.Lock()
	n := len(p.reqs)
	p.reqs = append(p.reqs, req)
	p.cands = append(p.cands, c)
	p.mu.Unlock()
	if p.fn == nil {
		return &llm.Completion{Payload: goodReply}, nil
	}
	return p.fn(c, n)
}

type fakeHistory struct {
	turns []types.HistoryTurn
	err   error
}

func (h *fakeHistory) History(ctx context.Context, conversationID string) ([]types.HistoryTurn, error) {
	return h.turns, h.err
}

type fakeSink struct {
	recs []types.ExchangeRecord
	err  error
}

func (s *fakeSink) Persist(ctx context.Context, rec types.ExchangeRecord) error {
	s.recs = append(s.recs, rec)
	return s.err
}

type fakeTools struct{}

func (fakeTools) ListTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	return []types.ToolDescriptor{{Name: "lookup", ServerID: "kb"}}, nil
}

func (fakeTools) CallTool(ctx context.Context, call types.ToolCall) (*types.ToolResponse, error) {
	return types.TextResponse("ok"), nil
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Models.Primary = config.ModelEndpoint{Endpoint: "https://api.example/v1", Model: "main", APIKey: "sk-secret"}
	cfg.Models.Fallback = config.ModelEndpoint{Model: "backup"}
	cfg.Orchestrator.HistoryTurns = 2
	return cfg
}

func newGateway(t *testing.T, deps Deps) *Gateway {
	t.Helper()
	if deps.Config == nil {
		cfg := testConfig()
		deps.Config = func() *config.Config { return cfg }
	}
	deps.Counter = func(s string) int { return len(s) / 4 }
	g, err := New(deps)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestHandleChat(t *testing.T) {
	provider := &fakeProvider{}
	history := &fakeHistory{turns: []types.HistoryTurn{
		{Role: types.RoleUser, Text: "oldest"},
		{Role: types.RoleAssistant, Text: "old answer"},
		{Role: types.RoleUser, Text: "previous"},
		{Role: types.RoleAssistant, Text: "previous answer"},
	}}
	sink := &fakeSink{}
	g := newGateway(t, Deps{Provider: provider, History: history, Sink: sink})

	resp, err := g.HandleChat(context.Background(), ChatRequest{
		TraceID:        "trace-1",
		ConversationID: "conv-1",
		Message:        "  what now?  ",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message != "Hello there" || resp.Model != "main" || resp.Fallback {
		t.Errorf("response = %+v", resp)
	}
	if resp.TraceID != "trace-1" || resp.ConversationID != "conv-1" {
		t.Errorf("ids = %q/%q", resp.TraceID, resp.ConversationID)
	}

	msgs := provider.reqs[0].Messages
	var texts []string
	for _, m := range msgs[1:] {
		texts = append(texts, m.Text)
	}
	want := "previous|previous answer|what now?"
	if got := strings.Join(texts, "|"); got != want {
		t.Errorf("prompt turns = %q, want %q", got, want)
	}

	if len(sink.recs) != 1 {
		t.Fatalf("persisted %d exchanges", len(sink.recs))
	}
	rec := sink.recs[0]
	if rec.ConversationID != "conv-1" || rec.UserTurn.Text != "what now?" || rec.Reply.Message != "Hello there" || rec.TraceID != "trace-1" {
		t.Errorf("record = %+v", rec)
	}
}

func TestHandleChatDegradesOnStoreErrors(t *testing.T) {
	provider := &fakeProvider{}
	sink := &fakeSink{err: errors.New("disk full")}
	g := newGateway(t, Deps{
		Provider: provider,
		History:  &fakeHistory{err: errors.New("db locked")},
		Sink:     sink,
	})

	resp, err := g.HandleChat(context.Background(), ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message != "Hello there" {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.TraceID == "" || resp.ConversationID == "" {
		t.Error("trace and conversation ids should be generated")
	}
	if len(sink.recs) != 1 {
		t.Errorf("persist attempts = %d", len(sink.recs))
	}
}

func TestHandleChatModelOverride(t *testing.T) {
	provider := &fakeProvider{}
	g := newGateway(t, Deps{Provider: provider})

	resp, err := g.HandleChat(context.Background(), ChatRequest{Message: "hi", Model: "special"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Model != "special" {
		t.Errorf("model = %q", resp.Model)
	}
	c := provider.cands[0]
	if c.ModelID != "special" || c.Endpoint != "https://api.example/v1" || c.Credential != "sk-secret" {
		t.Errorf("candidate = %+v", c)
	}
}

func TestHandleChatEmptyMessage(t *testing.T) {
	g := newGateway(t, Deps{Provider: &fakeProvider{}})
	if _, err := g.HandleChat(context.Background(), ChatRequest{Message: "  \n"}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestHandleChatStreamEvents(t *testing.T) {
	provider := &fakeProvider{fn: func(c llm.ModelCandidate, n int) (*llm.Completion, error) {
		if c.ModelID == "main" {
			return nil, errors.New("503 service unavailable")
		}
		return &llm.Completion{Payload: goodReply}, nil
	}}
	g := newGateway(t, Deps{Provider: provider})

	var kinds []string
	resp, err := g.HandleChatStream(context.Background(), ChatRequest{Message: "hi"}, func(e ChatEvent) {
		kinds = append(kinds, e.EventType())
	})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Fallback || resp.Model != "backup" {
		t.Errorf("response = %+v", resp)
	}
	want := "chat.start chat.attempt chat.attempt_failed chat.attempt chat.end"
	if got := strings.Join(kinds, " "); got != want {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestHandleChatAllFail(t *testing.T) {
	provider := &fakeProvider{fn: func(c llm.ModelCandidate, n int) (*llm.Completion, error) {
		return nil, errors.New("boom")
	}}
	sink := &fakeSink{}
	g := newGateway(t, Deps{Provider: provider, Sink: sink})

	var last ChatEvent
	_, err := g.HandleChatStream(context.Background(), ChatRequest{TraceID: "t-9", Message: "hi"}, func(e ChatEvent) { last = e })
	var terr *orchestrator.TerminalError
	if !errors.As(err, &terr) || terr.TraceID != "t-9" {
		t.Fatalf("err = %v", err)
	}
	if ev, ok := last.(EventChatError); !ok || !strings.Contains(ev.Error, "t-9") {
		t.Errorf("last event = %#v", last)
	}
	if len(sink.recs) != 0 {
		t.Error("failed exchange must not be persisted")
	}
}

func TestHandleChatToolsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Tools.Disabled = true
	provider := &fakeProvider{}
	g := newGateway(t, Deps{
		Config:   func() *config.Config { return cfg },
		Provider: provider,
		Tools:    fakeTools{},
	})

	if _, err := g.HandleChat(context.Background(), ChatRequest{Message: "hi"}); err != nil {
		t.Fatal(err)
	}
	if req := provider.reqs[0]; !req.JSONMode || len(req.Tools) != 0 {
		t.Errorf("JSONMode=%v tools=%d", req.JSONMode, len(req.Tools))
	}
}

func TestHandleChatAttachments(t *testing.T) {
	provider := &fakeProvider{}
	sink := &fakeSink{}
	g := newGateway(t, Deps{Provider: provider, Sink: sink})

	_, err := g.HandleChat(context.Background(), ChatRequest{
		Message:     "see file",
		Attachments: []types.Attachment{{FileName: "notes.txt", Data: []byte("plain text notes")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	last := provider.reqs[0].Messages[len(provider.reqs[0].Messages)-1]
	if !strings.Contains(last.Text, "[Attached files: notes.txt]") {
		t.Errorf("user turn = %q", last.Text)
	}
	if got := sink.recs[0].UserTurn.Attachments[0].MimeType; !strings.HasPrefix(got, "text/plain") {
		t.Errorf("mime = %q", got)
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Deps{Provider: &fakeProvider{}}); err == nil {
		t.Error("missing config should fail")
	}
	if _, err := New(Deps{Config: config.Defaults}); err == nil {
		t.Error("missing provider should fail")
	}
}
