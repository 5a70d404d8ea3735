// Package http serves the chat API.
package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roelfdiedericks/chatreply/internal/gateway"
	"github.com/roelfdiedericks/chatreply/internal/health"
	"github.com/roelfdiedericks/chatreply/internal/llm"
	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/media"
	"github.com/roelfdiedericks/chatreply/internal/session"
)

// ChatHandler runs one chat request.
type ChatHandler interface {
	HandleChatStream(ctx context.Context, req gateway.ChatRequest, emit func(gateway.ChatEvent)) (*gateway.ChatResponse, error)
}

// ConversationStore is the read side of the conversation store.
type ConversationStore interface {
	Conversations(ctx context.Context, limit int) ([]session.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]session.Message, error)
	DeleteConversation(ctx context.Context, id string) (bool, error)
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Listen             string   // Address to listen on (e.g., ":3390", "127.0.0.1:3390")
	APIKeys            []string // empty disables authentication
	RateLimitPerMinute int
	AllowedOrigins     []string // websocket origins; empty means same origin only
}

// Deps are the services behind the API. Only Chat is required.
type Deps struct {
	Chat          ChatHandler
	Conversations ConversationStore
	Media         *media.Store
	Health        health.Cache
	Prober        *health.Prober
	Candidates    func() []llm.ModelCandidate
}

// Server represents the HTTP server
type Server struct {
	server      *http.Server
	deps        Deps
	apiKeys     []string
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	startTime   time.Time
	wg          sync.WaitGroup
}

// NewServer creates a new HTTP server instance
func NewServer(cfg ServerConfig, deps Deps) (*Server, error) {
	if deps.Chat == nil {
		return nil, fmt.Errorf("http: chat handler is required")
	}
	listen := cfg.Listen
	if listen == "" {
		listen = "127.0.0.1:3390"
	}

	s := &Server{
		deps:        deps,
		apiKeys:     cfg.APIKeys,
		rateLimiter: NewRateLimiter(10*time.Second, cfg.RateLimitPerMinute),
		startTime:   time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	if len(cfg.AllowedOrigins) > 0 {
		s.upgrader.CheckOrigin = originChecker(cfg.AllowedOrigins)
	}
	if len(s.apiKeys) == 0 {
		L_warn("http: no api keys configured, API is unauthenticated", "listen", listen)
	}

	s.server = &http.Server{
		Addr:              listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute, // a reply may walk several candidates
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// logging -> strip headers -> trace -> rate limit -> auth
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(s.stripHeaders(s.withTrace(s.rateLimit(s.apiKeyAuth(h)))))
	}
	open := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(s.stripHeaders(s.withTrace(h)))
	}

	mux.HandleFunc("POST /api/chat", wrap(s.handleChat))
	mux.HandleFunc("POST /api/chat/stream", wrap(s.handleChatStream))
	mux.HandleFunc("GET /api/ws", wrap(s.handleWebSocket))
	mux.HandleFunc("GET /api/conversations", wrap(s.handleConversations))
	mux.HandleFunc("GET /api/conversations/{id}", wrap(s.handleConversation))
	mux.HandleFunc("DELETE /api/conversations/{id}", wrap(s.handleDeleteConversation))
	mux.HandleFunc("GET /api/media", wrap(s.handleMedia))
	mux.HandleFunc("GET /api/metrics", wrap(s.handleMetrics))
	mux.HandleFunc("GET /api/health", open(s.handleHealth))

	return mux
}

// Start binds the listen address and serves in the background. A bind
// failure is returned rather than logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: server listening", "addr", ln.Addr().String())

		err := s.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			L_error("http: server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		L_error("http: shutdown error", "error", err)
		return err
	}

	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}

// logRequest wraps an HTTP handler to log requests
func (s *Server) logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)

		L_debug("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"trace", lw.Header().Get(traceHeader),
			"duration", time.Since(start))
	}
}

// loggingResponseWriter wraps ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (lw *loggingResponseWriter) Flush() {
	if f, ok := lw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for websocket upgrades
func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("http: response writer does not support hijacking")
	}
	lw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (lw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lw.ResponseWriter
}

// stripHeaders removes fingerprinting headers
func (s *Server) stripHeaders(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")

		handler(w, r)
	}
}

const traceHeader = "X-Trace-Id"

type contextKey string

const traceContextKey contextKey = "trace"

// withTrace accepts a caller supplied X-Trace-Id or generates one, and
// echoes it on the response.
func (s *Server) withTrace(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" || len(traceID) > 128 {
			traceID = uuid.NewString()
		}
		w.Header().Set(traceHeader, traceID)
		handler(w, r.WithContext(context.WithValue(r.Context(), traceContextKey, traceID)))
	}
}

func traceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceContextKey).(string); ok {
		return v
	}
	return ""
}

type errorBody struct {
	Error   string `json:"error"`
	TraceID string `json:"traceId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_debug("http: failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg, TraceID: traceIDFromContext(r.Context())})
}
