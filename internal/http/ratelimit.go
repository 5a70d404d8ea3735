package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/metrics"
)

// maxTrackedClients bounds the per-IP maps; expired entries are pruned once it is reached.
const maxTrackedClients = 10000

// RateLimiter limits requests per IP in fixed one-minute windows and blocks
// IPs temporarily after a failed authentication.
type RateLimiter struct {
	mu       sync.Mutex
	failures map[string]time.Time // IP -> time of last failure
	delay    time.Duration        // How long to block after failure

	limit   int // requests per window, 0 disables
	window  time.Duration
	windows map[string]*requestWindow

	now func() time.Time
}

type requestWindow struct {
	start time.Time
	count int
}

// NewRateLimiter creates a rate limiter. perMinute <= 0 disables request limiting.
func NewRateLimiter(delay time.Duration, perMinute int) *RateLimiter {
	return &RateLimiter{
		failures: make(map[string]time.Time),
		delay:    delay,
		limit:    perMinute,
		window:   time.Minute,
		windows:  make(map[string]*requestWindow),
		now:      time.Now,
	}
}

// Allow counts a request from ip and reports whether it is within the limit.
// The second result is how long until the window resets.
func (r *RateLimiter) Allow(ip string) (bool, time.Duration) {
	if r.limit <= 0 {
		return true, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[ip]
	if !ok || now.Sub(w.start) >= r.window {
		if !ok && len(r.windows) >= maxTrackedClients {
			r.pruneLocked(now)
		}
		w = &requestWindow{start: now}
		r.windows[ip] = w
	}
	w.count++
	return w.count <= r.limit, w.start.Add(r.window).Sub(now)
}

// RecordFailure records a failed auth attempt for an IP
func (r *RateLimiter) RecordFailure(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failures) >= maxTrackedClients {
		r.pruneLocked(r.now())
	}
	r.failures[ip] = r.now()
}

// ClearFailure clears the failure record for an IP (on successful auth)
func (r *RateLimiter) ClearFailure(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, ip)
}

// IsLimited returns true if the IP is blocked after a failed auth attempt
func (r *RateLimiter) IsLimited(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	failTime, exists := r.failures[ip]
	if !exists {
		return false
	}
	return r.now().Sub(failTime) <= r.delay
}

func (r *RateLimiter) pruneLocked(now time.Time) {
	for ip, w := range r.windows {
		if now.Sub(w.start) >= r.window {
			delete(r.windows, ip)
		}
	}
	for ip, t := range r.failures {
		if now.Sub(t) > r.delay {
			delete(r.failures, ip)
		}
	}
}

// rateLimit middleware rejects clients over their per-minute budget
func (s *Server) rateLimit(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientIP := getClientIP(r)
		ok, retry := s.rateLimiter.Allow(clientIP)
		if !ok {
			L_warn("http: rate limited", "ip", clientIP, "path", r.URL.Path, "trace", traceIDFromContext(r.Context()))
			metrics.MetricInc("http", "rate_limited")
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			writeError(w, r, http.StatusTooManyRequests, "Too many requests. Try again later.")
			return
		}
		handler(w, r)
	}
}
