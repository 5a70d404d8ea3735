package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roelfdiedericks/chatreply/internal/gateway"
	"github.com/roelfdiedericks/chatreply/internal/health"
	"github.com/roelfdiedericks/chatreply/internal/llm"
	"github.com/roelfdiedericks/chatreply/internal/orchestrator"
	"github.com/roelfdiedericks/chatreply/internal/session"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

type fakeChat struct {
	mu   sync.Mutex
	reqs []gateway.ChatRequest
	err  error
}

func (f *fakeChat) HandleChatStream(ctx context.Context, req gateway.ChatRequest, emit func(gateway.ChatEvent)) (*gateway.ChatResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if emit == nil {
		emit = func(gateway.ChatEvent) {}
	}
	emit(gateway.EventChatStart{TraceID: req.TraceID, ConversationID: "conv"})
	if f.err != nil {
		emit(gateway.EventChatError{TraceID: req.TraceID, Error: f.err.Error()})
		return nil, f.err
	}
	resp := &gateway.ChatResponse{
		TraceID:        req.TraceID,
		ConversationID: "conv",
		Message:        "echo: " + req.Message,
		Suggestions:    []string{"A?", "B?", "C?"},
		Model:          "main",
	}
	emit(gateway.EventChatEnd{Response: resp})
	return resp, nil
}

func (f *fakeChat) last() gateway.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type fakeStore struct {
	convs   []session.Conversation
	msgs    map[string][]session.Message
	deleted []string
}

func (f *fakeStore) Conversations(ctx context.Context, limit int) ([]session.Conversation, error) {
	return f.convs, nil
}

func (f *fakeStore) Messages(ctx context.Context, id string) ([]session.Message, error) {
	return f.msgs[id], nil
}

func (f *fakeStore) DeleteConversation(ctx context.Context, id string) (bool, error) {
	if _, ok := f.msgs[id]; !ok {
		return false, nil
	}
	f.deleted = append(f.deleted, id)
	return true, nil
}

func newTestServer(t *testing.T, cfg ServerConfig, deps Deps) http.Handler {
	t.Helper()
	if deps.Chat == nil {
		deps.Chat = &fakeChat{}
	}
	s, err := NewServer(cfg, deps)
	if err != nil {
		t.Fatal(err)
	}
	return s.Handler()
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatEndpoint(t *testing.T) {
	chat := &fakeChat{}
	h := newTestServer(t, ServerConfig{}, Deps{Chat: chat})

	payload := `{"conversationId":"c1","message":"hi","model":"special","attachments":[{"fileName":"../../etc/a.txt","data":"` +
		base64.StdEncoding.EncodeToString([]byte("hello")) + `"}]}`
	rec := do(h, http.MethodPost, "/api/chat", payload, map[string]string{traceHeader: "trace-abc"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get(traceHeader); got != "trace-abc" {
		t.Errorf("trace header = %q", got)
	}
	var resp gateway.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Message != "echo: hi" || resp.TraceID != "trace-abc" {
		t.Errorf("response = %+v", resp)
	}

	req := chat.last()
	if req.ConversationID != "c1" || req.Model != "special" || req.TraceID != "trace-abc" {
		t.Errorf("request = %+v", req)
	}
	if len(req.Attachments) != 1 || req.Attachments[0].FileName != "a.txt" || string(req.Attachments[0].Data) != "hello" {
		t.Errorf("attachments = %+v", req.Attachments)
	}
}

func TestChatEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		body       string
		wantStatus int
		wantText   string
	}{
		{name: "invalid json", body: `{`, wantStatus: http.StatusBadRequest, wantText: "Invalid JSON"},
		{name: "bad base64", body: `{"message":"x","attachments":[{"fileName":"a","data":"!!"}]}`, wantStatus: http.StatusBadRequest, wantText: "invalid base64"},
		{name: "empty message", err: gateway.ErrEmptyMessage, body: `{"message":""}`, wantStatus: http.StatusBadRequest, wantText: "Message is empty"},
		{
			name:       "all candidates failed",
			err:        &orchestrator.TerminalError{TraceID: "t-1", Attempts: []orchestrator.Attempt{{Err: errors.New("secret upstream detail")}}},
			body:       `{"message":"x"}`,
			wantStatus: http.StatusBadGateway,
			wantText:   "trace t-1",
		},
		{name: "unexpected", err: errors.New("boom"), body: `{"message":"x"}`, wantStatus: http.StatusInternalServerError, wantText: "Internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, ServerConfig{}, Deps{Chat: &fakeChat{err: tt.err}})
			rec := do(h, http.MethodPost, "/api/chat", tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantText) {
				t.Errorf("body = %s, want %q", rec.Body, tt.wantText)
			}
			if strings.Contains(rec.Body.String(), "secret upstream detail") {
				t.Error("internal error detail leaked")
			}
			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.TraceID == "" {
				t.Errorf("error body = %s", rec.Body)
			}
		})
	}
}

func TestChatStreamEndpoint(t *testing.T) {
	h := newTestServer(t, ServerConfig{}, Deps{})
	rec := do(h, http.MethodPost, "/api/chat/stream", `{"message":"hi"}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	start := strings.Index(body, "event: chat.start\nid: 1\n")
	end := strings.Index(body, "event: chat.end\nid: 2\n")
	if start < 0 || end < start {
		t.Errorf("stream = %q", body)
	}
	if !strings.Contains(body, `"message":"echo: hi"`) {
		t.Errorf("final reply missing from stream: %q", body)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	h := newTestServer(t, ServerConfig{APIKeys: []string{"k1", "k2"}}, Deps{})
	const body = `{"message":"hi"}`

	if rec := do(h, http.MethodPost, "/api/chat", body, map[string]string{"Authorization": "Bearer k2"}); rec.Code != http.StatusOK {
		t.Fatalf("bearer: status = %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/api/chat", body, map[string]string{"X-API-Key": "k1"}); rec.Code != http.StatusOK {
		t.Fatalf("x-api-key: status = %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/api/chat", body, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/api/chat", body, map[string]string{"X-API-Key": "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d", rec.Code)
	}
	// the failure blocks the client briefly, even with a valid key
	if rec := do(h, http.MethodPost, "/api/chat", body, map[string]string{"X-API-Key": "k1"}); rec.Code != http.StatusTooManyRequests {
		t.Errorf("after failure: status = %d", rec.Code)
	}
	// health stays open
	if rec := do(h, http.MethodGet, "/api/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health: status = %d", rec.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := newTestServer(t, ServerConfig{RateLimitPerMinute: 2}, Deps{})
	for i := 0; i < 2; i++ {
		if rec := do(h, http.MethodGet, "/api/metrics", "", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := do(h, http.MethodGet, "/api/metrics", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10*time.Second, 2)
	rl.now = func() time.Time { return now }

	for i, want := range []bool{true, true, false} {
		if ok, _ := rl.Allow("1.2.3.4"); ok != want {
			t.Errorf("request %d: Allow = %v, want %v", i, ok, want)
		}
	}
	if ok, _ := rl.Allow("5.6.7.8"); !ok {
		t.Error("other clients are limited separately")
	}
	now = now.Add(time.Minute)
	if ok, _ := rl.Allow("1.2.3.4"); !ok {
		t.Error("window should reset")
	}

	rl.RecordFailure("9.9.9.9")
	if !rl.IsLimited("9.9.9.9") {
		t.Error("expected block after failure")
	}
	now = now.Add(11 * time.Second)
	if rl.IsLimited("9.9.9.9") {
		t.Error("block should expire")
	}

	unlimited := NewRateLimiter(time.Second, 0)
	for i := 0; i < 100; i++ {
		if ok, _ := unlimited.Allow("x"); !ok {
			t.Fatal("zero limit should disable limiting")
		}
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "1.1.1.1, 10.0.0.2"}, remote: "10.0.0.2:1", want: "1.1.1.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "2.2.2.2"}, remote: "10.0.0.3:1", want: "2.2.2.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := getClientIP(r); got != tt.want {
				t.Errorf("getClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	cache := health.NewMemoryCache(time.Minute)
	cache.Put(context.Background(), health.Status{Model: "main", Endpoint: "https://a/v1", Healthy: true})
	cands := []llm.ModelCandidate{
		{Endpoint: "https://a/v1", ModelID: "main"},
		{Endpoint: "https://a/v1", ModelID: "backup"},
	}
	h := newTestServer(t, ServerConfig{}, Deps{Health: cache, Candidates: func() []llm.ModelCandidate { return cands }})

	rec := do(h, http.MethodGet, "/api/health", "", nil)
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || len(resp.Models) != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if !resp.Models[0].Healthy || resp.Models[1].Healthy || resp.Models[1].Reason != "unknown" {
		t.Errorf("models = %+v", resp.Models)
	}

	empty := newTestServer(t, ServerConfig{}, Deps{})
	rec = do(empty, http.MethodGet, "/api/health", "", nil)
	if !strings.Contains(rec.Body.String(), `"unconfigured"`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestConversationEndpoints(t *testing.T) {
	store := &fakeStore{
		convs: []session.Conversation{{ID: "c1", Title: "Hello", Messages: 2}},
		msgs: map[string][]session.Message{
			"c1": {
				{ID: "m1", Role: types.RoleUser, Text: "hi"},
				{ID: "m2", Role: types.RoleAssistant, Text: "hello", Suggestions: []string{"A?", "B?", "C?"}},
			},
		},
	}
	h := newTestServer(t, ServerConfig{}, Deps{Conversations: store})

	rec := do(h, http.MethodGet, "/api/conversations", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"title":"Hello"`) {
		t.Errorf("list: %d %s", rec.Code, rec.Body)
	}
	if rec := do(h, http.MethodGet, "/api/conversations?limit=x", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", rec.Code)
	}

	rec = do(h, http.MethodGet, "/api/conversations/c1", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"suggestions":["A?","B?","C?"]`) {
		t.Errorf("get: %d %s", rec.Code, rec.Body)
	}
	if rec := do(h, http.MethodGet, "/api/conversations/nope", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d", rec.Code)
	}

	if rec := do(h, http.MethodDelete, "/api/conversations/c1", "", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d", rec.Code)
	}
	if rec := do(h, http.MethodDelete, "/api/conversations/nope", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("delete missing: status = %d", rec.Code)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "c1" {
		t.Errorf("deleted = %v", store.deleted)
	}

	disabled := newTestServer(t, ServerConfig{}, Deps{})
	if rec := do(disabled, http.MethodGet, "/api/conversations", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("disabled store: status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, ServerConfig{}, Deps{})
	rec := do(h, http.MethodGet, "/api/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var v map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Errorf("metrics body is not JSON: %v", err)
	}
}

func TestWebSocketChat(t *testing.T) {
	chat := &fakeChat{}
	h := newTestServer(t, ServerConfig{}, Deps{Chat: chat})
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()

	send := func(v any) {
		t.Helper()
		if err := conn.WriteJSON(v); err != nil {
			t.Fatal(err)
		}
	}
	next := func() map[string]any {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var m map[string]any
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatal(err)
		}
		return m
	}

	send(map[string]any{"type": "ping"})
	if m := next(); m["type"] != "pong" {
		t.Errorf("frame = %v", m)
	}

	send(map[string]any{"type": "chat", "traceId": "ws-1", "message": "hello"})
	var kinds []string
	for {
		m := next()
		kinds = append(kinds, m["type"].(string))
		if m["type"] == "chat.end" {
			data := m["data"].(map[string]any)["response"].(map[string]any)
			if data["message"] != "echo: hello" || data["traceId"] != "ws-1" {
				t.Errorf("response = %v", data)
			}
			break
		}
	}
	if strings.Join(kinds, ",") != "chat.start,chat.end" {
		t.Errorf("frames = %v", kinds)
	}

	send(map[string]any{"type": "bogus"})
	if m := next(); m["type"] != "error" {
		t.Errorf("frame = %v", m)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com/", "localhost:5173"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"http://localhost:5173", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := check(r); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestServerStartReportsBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	busy, err := NewServer(ServerConfig{Listen: ln.Addr().String()}, Deps{Chat: &fakeChat{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := busy.Start(); err == nil {
		busy.Stop()
		t.Fatal("Start on a busy address should fail")
	}

	s, err := NewServer(ServerConfig{Listen: "127.0.0.1:0"}, Deps{Chat: &fakeChat{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
