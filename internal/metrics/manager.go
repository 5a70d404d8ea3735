// Package metrics keeps in-process counters and timings for the service.
package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

const maxSamples = 500 // ring buffer size for percentiles

// Timing tracks duration statistics for one path.
type Timing struct {
	Count     int64
	Total     time.Duration
	Min       time.Duration
	Max       time.Duration
	Last      time.Duration
	samples   []time.Duration
	sampleIdx int
}

// Outcome tracks success/failure counts with failure reasons.
type Outcome struct {
	Success int64
	Fail    int64
	Reasons map[string]int64
	LastAt  time.Time
}

// HitMiss tracks cache efficiency.
type HitMiss struct {
	Hits   int64
	Misses int64
}

// MetricsManager is the process-wide metrics registry.
type MetricsManager struct {
	mu       sync.Mutex
	started  time.Time
	timings  map[string]*Timing
	outcomes map[string]*Outcome
	counters map[string]int64
	hitMiss  map[string]*HitMiss
}

var (
	instance *MetricsManager
	once     sync.Once
)

// GetInstance returns the singleton metrics manager
func GetInstance() *MetricsManager {
	once.Do(func() {
		instance = newManager()
	})
	return instance
}

func newManager() *MetricsManager {
	return &MetricsManager{
		started:  time.Now(),
		timings:  make(map[string]*Timing),
		outcomes: make(map[string]*Outcome),
		counters: make(map[string]int64),
		hitMiss:  make(map[string]*HitMiss),
	}
}

// Reset clears all metrics.
func (m *MetricsManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = time.Now()
	m.timings = make(map[string]*Timing)
	m.outcomes = make(map[string]*Outcome)
	m.counters = make(map[string]int64)
	m.hitMiss = make(map[string]*HitMiss)
}

// buildPath normalizes topic and function into "topic/function"
func buildPath(topic, function string) string {
	topic = strings.Trim(topic, "/")
	function = strings.Trim(function, "/")
	if function == "" {
		return topic
	}
	return topic + "/" + function
}

// RecordDuration adds one timing sample.
func (m *MetricsManager) RecordDuration(topic, function string, d time.Duration) {
	path := buildPath(topic, function)
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timings[path]
	if !ok {
		t = &Timing{Min: d, Max: d, samples: make([]time.Duration, 0, 16)}
		m.timings[path] = t
	}
	t.Count++
	t.Total += d
	t.Last = d
	t.Min = min(t.Min, d)
	t.Max = max(t.Max, d)
	if len(t.samples) < maxSamples {
		t.samples = append(t.samples, d)
	} else {
		t.samples[t.sampleIdx] = d
		t.sampleIdx = (t.sampleIdx + 1) % maxSamples
	}
}

func (m *MetricsManager) outcome(path string) *Outcome {
	o, ok := m.outcomes[path]
	if !ok {
		o = &Outcome{Reasons: make(map[string]int64)}
		m.outcomes[path] = o
	}
	return o
}

// RecordSuccess counts a successful operation.
func (m *MetricsManager) RecordSuccess(topic, function string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.outcome(buildPath(topic, function))
	o.Success++
	o.LastAt = time.Now()
}

// RecordFailure counts a failed operation. reason may be empty.
func (m *MetricsManager) RecordFailure(topic, function, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.outcome(buildPath(topic, function))
	o.Fail++
	o.LastAt = time.Now()
	if reason != "" {
		o.Reasons[reason]++
	}
}

// AddCounter adds delta to a counter.
func (m *MetricsManager) AddCounter(topic, function string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[buildPath(topic, function)] += delta
}

// RecordHit records a cache hit
func (m *MetricsManager) RecordHit(topic, function string) {
	m.recordHitMiss(buildPath(topic, function), true)
}

// RecordMiss records a cache miss
func (m *MetricsManager) RecordMiss(topic, function string) {
	m.recordHitMiss(buildPath(topic, function), false)
}

func (m *MetricsManager) recordHitMiss(path string, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hm, ok := m.hitMiss[path]
	if !ok {
		hm = &HitMiss{}
		m.hitMiss[path] = hm
	}
	if hit {
		hm.Hits++
	} else {
		hm.Misses++
	}
}

// TimingSnapshot is the exported view of a Timing.
type TimingSnapshot struct {
	Count  int64   `json:"count"`
	AvgMs  float64 `json:"avgMs"`
	MinMs  float64 `json:"minMs"`
	MaxMs  float64 `json:"maxMs"`
	LastMs float64 `json:"lastMs"`
	P95Ms  float64 `json:"p95Ms"`
}

// OutcomeSnapshot is the exported view of an Outcome.
type OutcomeSnapshot struct {
	Success     int64            `json:"success"`
	Fail        int64            `json:"fail"`
	SuccessRate float64          `json:"successRate"`
	Reasons     map[string]int64 `json:"reasons,omitempty"`
}

// HitMissSnapshot is the exported view of a HitMiss.
type HitMissSnapshot struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// Snapshot is a point-in-time copy of all metrics, safe to serialize.
type Snapshot struct {
	UptimeSeconds int64                      `json:"uptimeSeconds"`
	Timings       map[string]TimingSnapshot  `json:"timings"`
	Outcomes      map[string]OutcomeSnapshot `json:"outcomes"`
	Counters      map[string]int64           `json:"counters"`
	HitMiss       map[string]HitMissSnapshot `json:"hitMiss"`
}

// GetSnapshot copies the current metrics.
func (m *MetricsManager) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		UptimeSeconds: int64(time.Since(m.started).Seconds()),
		Timings:       make(map[string]TimingSnapshot, len(m.timings)),
		Outcomes:      make(map[string]OutcomeSnapshot, len(m.outcomes)),
		Counters:      make(map[string]int64, len(m.counters)),
		HitMiss:       make(map[string]HitMissSnapshot, len(m.hitMiss)),
	}
	for path, t := range m.timings {
		s.Timings[path] = TimingSnapshot{
			Count:  t.Count,
			AvgMs:  ms(t.Total) / float64(max(t.Count, 1)),
			MinMs:  ms(t.Min),
			MaxMs:  ms(t.Max),
			LastMs: ms(t.Last),
			P95Ms:  percentile(t.samples, 95),
		}
	}
	for path, o := range m.outcomes {
		reasons := make(map[string]int64, len(o.Reasons))
		for k, v := range o.Reasons {
			reasons[k] = v
		}
		s.Outcomes[path] = OutcomeSnapshot{
			Success:     o.Success,
			Fail:        o.Fail,
			SuccessRate: rate(o.Success, o.Fail),
			Reasons:     reasons,
		}
	}
	for path, v := range m.counters {
		s.Counters[path] = v
	}
	for path, hm := range m.hitMiss {
		s.HitMiss[path] = HitMissSnapshot{Hits: hm.Hits, Misses: hm.Misses, HitRate: rate(hm.Hits, hm.Misses)}
	}
	return s
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func rate(good, bad int64) float64 {
	if good+bad == 0 {
		return 0
	}
	return math.Round(float64(good)/float64(good+bad)*1000) / 1000
}

func percentile(samples []time.Duration, p int) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted)*p + 99) / 100
	if idx > 0 {
		idx--
	}
	return ms(sorted[idx])
}
