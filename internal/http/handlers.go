package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/roelfdiedericks/chatreply/internal/gateway"
	"github.com/roelfdiedericks/chatreply/internal/health"
	"github.com/roelfdiedericks/chatreply/internal/llm"
	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/metrics"
	"github.com/roelfdiedericks/chatreply/internal/orchestrator"
	"github.com/roelfdiedericks/chatreply/internal/session"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

// maxChatBody bounds a chat request including base64 attachments.
const maxChatBody = 32 << 20

// chatRequestBody is the wire form of a chat request.
type chatRequestBody struct {
	ConversationID string           `json:"conversationId"`
	Message        string           `json:"message"`
	Model          string           `json:"model"`
	Attachments    []attachmentBody `json:"attachments"`
}

type attachmentBody struct {
	FileName string `json:"fileName"`
	Data     string `json:"data"` // base64
}

func (b chatRequestBody) toRequest(traceID string) (gateway.ChatRequest, error) {
	req := gateway.ChatRequest{
		TraceID:        traceID,
		ConversationID: b.ConversationID,
		Message:        b.Message,
		Model:          b.Model,
	}
	for i, a := range b.Attachments {
		data, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return req, fmt.Errorf("attachment %d: invalid base64: %w", i, err)
		}
		name := filepath.Base(a.FileName)
		if name == "." || name == "/" {
			name = fmt.Sprintf("attachment-%d", i+1)
		}
		req.Attachments = append(req.Attachments, types.Attachment{FileName: name, Data: data})
	}
	return req, nil
}

// decodeChat reads the request body into a gateway request.
func decodeChat(w http.ResponseWriter, r *http.Request) (gateway.ChatRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		L_warn("http: chat - invalid JSON", "error", err, "trace", traceIDFromContext(r.Context()))
		writeError(w, r, http.StatusBadRequest, "Invalid JSON")
		return gateway.ChatRequest{}, false
	}
	req, err := body.toRequest(traceIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return gateway.ChatRequest{}, false
	}
	return req, true
}

// chatStatus maps a chat error to a status code and a user-safe message.
func chatStatus(err error) (int, string) {
	var terr *orchestrator.TerminalError
	switch {
	case errors.Is(err, gateway.ErrEmptyMessage):
		return http.StatusBadRequest, "Message is empty"
	case errors.As(err, &terr):
		return http.StatusBadGateway, terr.Error()
	case errors.Is(err, context.Canceled):
		return 499, "Request cancelled"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

// handleChat handles POST /api/chat
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}

	resp, err := s.deps.Chat.HandleChatStream(r.Context(), req, nil)
	if err != nil {
		status, msg := chatStatus(err)
		if status == http.StatusInternalServerError {
			L_error("http: chat failed", "trace", req.TraceID, "error", err)
		}
		writeError(w, r, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChatStream handles POST /api/chat/stream, reporting progress as
// server-sent events and finishing with chat.end or chat.error.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		L_error("http: SSE failed - flusher not supported")
		writeError(w, r, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	id := 0
	emit := func(e gateway.ChatEvent) {
		data, err := json.Marshal(e)
		if err != nil {
			L_error("http: failed to marshal event", "error", err)
			return
		}
		id++
		fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", e.EventType(), id, data)
		flusher.Flush()
	}

	if _, err := s.deps.Chat.HandleChatStream(r.Context(), req, emit); err != nil {
		if status, _ := chatStatus(err); status == http.StatusBadRequest {
			emit(gateway.EventChatError{TraceID: req.TraceID, Error: "Message is empty"})
		}
		L_debug("http: chat stream ended with error", "trace", req.TraceID, "error", err)
	}
}

// handleConversations handles GET /api/conversations
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Conversations == nil {
		writeError(w, r, http.StatusNotFound, "Conversation store disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	convs, err := s.deps.Conversations.Conversations(r.Context(), limit)
	if err != nil {
		L_error("http: list conversations failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "Internal error")
		return
	}
	if convs == nil {
		convs = []session.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// handleConversation handles GET /api/conversations/{id}
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Conversations == nil {
		writeError(w, r, http.StatusNotFound, "Conversation store disabled")
		return
	}
	id := r.PathValue("id")
	msgs, err := s.deps.Conversations.Messages(r.Context(), id)
	if err != nil {
		L_error("http: load conversation failed", "conversation", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "Internal error")
		return
	}
	if len(msgs) == 0 {
		writeError(w, r, http.StatusNotFound, "Conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "messages": msgs})
}

// handleDeleteConversation handles DELETE /api/conversations/{id}
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Conversations == nil {
		writeError(w, r, http.StatusNotFound, "Conversation store disabled")
		return
	}
	id := r.PathValue("id")
	deleted, err := s.deps.Conversations.DeleteConversation(r.Context(), id)
	if err != nil {
		L_error("http: delete conversation failed", "conversation", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "Internal error")
		return
	}
	if !deleted {
		writeError(w, r, http.StatusNotFound, "Conversation not found")
		return
	}
	L_info("http: conversation deleted", "conversation", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleMedia serves a stored attachment. Only paths inside the media store are allowed.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if s.deps.Media == nil || path == "" {
		writeError(w, r, http.StatusNotFound, "Not found")
		return
	}
	if !s.deps.Media.Contains(path) {
		L_warn("http: media path rejected", "path", path, "ip", getClientIP(r))
		writeError(w, r, http.StatusForbidden, "Forbidden")
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, path)
}

// handleMetrics handles GET /api/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.GetInstance().GetSnapshot())
}

type healthResponse struct {
	Status        string          `json:"status"`
	UptimeSeconds int64           `json:"uptimeSeconds"`
	Models        []health.Status `json:"models"`
}

// handleHealth handles GET /api/health. With ?probe=1 stale entries are
// refreshed by probing; otherwise only cached state is reported.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Models:        []health.Status{},
	}

	var cands []llm.ModelCandidate
	if s.deps.Candidates != nil {
		cands = s.deps.Candidates()
	}
	if len(cands) == 0 {
		resp.Status = "unconfigured"
	}

	probe, _ := strconv.ParseBool(r.URL.Query().Get("probe"))
	switch {
	case probe && s.deps.Prober != nil:
		resp.Models = append(resp.Models, s.deps.Prober.ProbeAll(r.Context(), cands)...)
	default:
		for _, c := range cands {
			st := health.Status{Model: c.ModelID, Endpoint: c.Endpoint, Reason: "unknown"}
			if s.deps.Health != nil {
				if cached, ok := s.deps.Health.Get(r.Context(), c.ModelID); ok {
					st = cached
				}
			}
			resp.Models = append(resp.Models, st)
		}
	}

	if len(resp.Models) > 0 {
		healthy := 0
		for _, m := range resp.Models {
			if m.Healthy {
				healthy++
			}
		}
		if healthy == 0 && probe {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
