package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roelfdiedericks/chatreply/internal/llm"
	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/metrics"
)

const anthropicVersion = "2023-06-01"

// Prober checks endpoint reachability through the models listing, which is
// cheap and needs no tokens. Concurrent probes of one model share a request.
type Prober struct {
	cache      Cache
	httpClient *http.Client
	timeout    time.Duration
	group      singleflight.Group
}

// NewProber creates a prober writing into cache.
func NewProber(cache Cache, httpClient *http.Client, timeout time.Duration) *Prober {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Prober{cache: cache, httpClient: httpClient, timeout: timeout}
}

// Probe returns the cached status for c if fresh, otherwise checks the endpoint.
func (p *Prober) Probe(ctx context.Context, c llm.ModelCandidate) Status {
	s, ok := p.cache.Get(ctx, c.ModelID)
	metrics.MetricCache("health", "cache", ok)
	if ok {
		return s
	}

	v, _, shared := p.group.Do(c.Endpoint+"|"+c.ModelID, func() (any, error) {
		s := p.check(ctx, c)
		p.cache.Put(ctx, s)
		return s, nil
	})
	if shared {
		L_trace("health: probe shared", "model", c.ModelID)
	}
	return v.(Status)
}

// ProbeAll probes candidates in order.
func (p *Prober) ProbeAll(ctx context.Context, cands []llm.ModelCandidate) []Status {
	out := make([]Status, 0, len(cands))
	for _, c := range cands {
		out = append(out, p.Probe(ctx, c))
	}
	return out
}

func (p *Prober) check(ctx context.Context, c llm.ModelCandidate) (s Status) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	s = Status{Model: c.ModelID, Endpoint: c.Endpoint}
	defer func() {
		s.LatencyMs = time.Since(start).Milliseconds()
		s.CheckedAt = time.Now()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, modelsURL(c.Endpoint), nil)
	if err != nil {
		s.Reason = err.Error()
		return s
	}
	if llm.IsAnthropicEndpoint(c.Endpoint) {
		req.Header.Set("x-api-key", c.Credential)
		req.Header.Set("anthropic-version", anthropicVersion)
	} else if c.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.Credential)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		s.Reason = string(llm.ClassifyError(err))
		metrics.MetricFailWithReason("health", "probe", s.Reason)
		L_debug("health: probe failed", "model", c.ModelID, "error", err)
		return s
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode/100 != 2 {
		s.Reason = string(llm.ClassifyMessage(fmt.Sprintf("%d %s", resp.StatusCode, body)))
		metrics.MetricFailWithReason("health", "probe", s.Reason)
		L_debug("health: probe rejected", "model", c.ModelID, "status", resp.StatusCode)
		return s
	}
	s.Healthy = true
	metrics.MetricSuccess("health", "probe")
	return s
}

func modelsURL(endpoint string) string {
	if llm.IsAnthropicEndpoint(endpoint) {
		base := strings.TrimSuffix(strings.TrimRight(endpoint, "/"), "/v1")
		return base + "/v1/models"
	}
	return llm.NormalizeOpenAIBaseURL(endpoint) + "/models"
}
