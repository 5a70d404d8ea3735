package health

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roelfdiedericks/chatreply/internal/llm"
	. "github.com/roelfdiedericks/chatreply/internal/logging"
)

// Scheduler runs background probes on a cron schedule so the health cache
// stays warm between requests.
type Scheduler struct {
	cron       *cron.Cron
	prober     *Prober
	candidates func() []llm.ModelCandidate
	timeout    time.Duration
}

// NewScheduler parses spec (standard cron or @every) and prepares the job.
func NewScheduler(spec string, prober *Prober, candidates func() []llm.ModelCandidate) (*Scheduler, error) {
	s := &Scheduler{
		cron:       cron.New(),
		prober:     prober,
		candidates: candidates,
		timeout:    time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid probe schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running probes in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	L_info("health: probe scheduler started", "entries", len(s.cron.Entries()))
}

// Stop halts the schedule and waits for a running probe to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	for _, st := range s.prober.ProbeAll(ctx, s.candidates()) {
		if st.Healthy {
			L_debug("health: probe ok", "model", st.Model, "latencyMs", st.LatencyMs)
		} else {
			L_warn("health: probe failed", "model", st.Model, "reason", st.Reason)
		}
	}
}
