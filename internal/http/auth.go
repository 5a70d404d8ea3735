package http

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	. "github.com/roelfdiedericks/chatreply/internal/logging"
)

// apiKeyAuth middleware requires one of the configured API keys, sent as a
// bearer token or in X-API-Key. With no keys configured it is a no-op.
func (s *Server) apiKeyAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.apiKeys) == 0 {
			handler(w, r)
			return
		}

		clientIP := getClientIP(r)
		if s.rateLimiter.IsLimited(clientIP) {
			L_warn("http: auth blocked after failure", "ip", clientIP)
			writeError(w, r, http.StatusTooManyRequests, "Too many failed attempts. Try again later.")
			return
		}

		key := requestAPIKey(r)
		if key == "" {
			writeError(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !s.validKey(key) {
			s.rateLimiter.RecordFailure(clientIP)
			L_warn("http: auth failed - bad api key", "ip", clientIP)
			writeError(w, r, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		s.rateLimiter.ClearFailure(clientIP)
		handler(w, r)
	}
}

func (s *Server) validKey(key string) bool {
	ok := false
	for _, k := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			ok = true
		}
	}
	return ok
}

// requestAPIKey reads the key from the Authorization header, X-API-Key, or
// (for browser websockets, which cannot set headers) the api_key query parameter.
func requestAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For first (if behind reverse proxy)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
