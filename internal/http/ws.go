package http

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roelfdiedericks/chatreply/internal/gateway"
	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 90 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsFrame is a client frame: {"type":"chat", "message":..., ...} or {"type":"ping"}.
type wsFrame struct {
	Type    string `json:"type"`
	TraceID string `json:"traceId,omitempty"`
	chatRequestBody
}

// wsEvent is a server frame.
type wsEvent struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleWebSocket handles GET /api/ws. Chat frames are answered one at a
// time with the same events as the SSE endpoint; closing the socket cancels
// the request in flight.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		L_warn("http: websocket upgrade failed", "error", err, "ip", getClientIP(r))
		return
	}
	defer conn.Close()

	clientIP := getClientIP(r)
	L_info("http: websocket connected", "ip", clientIP)
	metrics.MetricInc("http", "ws_connections")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxChatBody)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	frames := make(chan wsFrame)
	go s.wsReadLoop(ctx, cancel, conn, frames)
	go wsPingLoop(ctx, conn)

	write := func(ev wsEvent) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(ev); err != nil {
			L_debug("http: websocket write failed", "error", err)
			cancel()
			return false
		}
		return true
	}

	for f := range frames {
		switch f.Type {
		case "ping":
			write(wsEvent{Type: "pong"})

		case "chat":
			if ok, _ := s.rateLimiter.Allow(clientIP); !ok {
				metrics.MetricInc("http", "rate_limited")
				write(wsEvent{Type: "error", Error: "Too many requests. Try again later."})
				continue
			}
			traceID := f.TraceID
			if traceID == "" {
				traceID = uuid.NewString()
			}
			req, err := f.toRequest(traceID)
			if err != nil {
				write(wsEvent{Type: "error", Error: err.Error()})
				continue
			}
			_, err = s.deps.Chat.HandleChatStream(ctx, req, func(e gateway.ChatEvent) {
				write(wsEvent{Type: e.EventType(), Data: e})
			})
			if err != nil {
				if status, msg := chatStatus(err); status == http.StatusBadRequest {
					write(wsEvent{Type: "error", Error: msg})
				}
			}

		default:
			write(wsEvent{Type: "error", Error: "unknown frame type " + f.Type})
		}
	}
	L_info("http: websocket closed", "ip", clientIP)
}

func (s *Server) wsReadLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, frames chan<- wsFrame) {
	defer close(frames)
	defer cancel()
	for {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				L_debug("http: websocket read failed", "error", err)
			}
			return
		}
		select {
		case frames <- f:
		case <-ctx.Done():
			return
		}
	}
}

func wsPingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// originChecker accepts the listed origins (scheme://host[:port] or bare host).
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[strings.ToLower(strings.TrimRight(a, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[strings.ToLower(origin)] || set[strings.ToLower(u.Host)]
	}
}
