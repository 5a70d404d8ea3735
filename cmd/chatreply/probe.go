package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/roelfdiedericks/chatreply/internal/health"
	"github.com/roelfdiedericks/chatreply/internal/llm"
)

// ProbeCmd checks every configured model endpoint once.
type ProbeCmd struct {
	Model string `short:"m" help:"Probe this model on the primary endpoint instead of the configured chain."`
}

func (c *ProbeCmd) Run(g *Globals) error {
	cfg, _, err := g.loadConfig()
	if err != nil {
		return err
	}
	cands := llm.ResolveCandidates(cfg.Models, c.Model)
	if len(cands) == 0 {
		return llm.ErrNoCandidates
	}

	timeout := time.Duration(cfg.Health.ProbeTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// a fresh cache so every candidate is really contacted
	prober := health.NewProber(health.NewMemoryCache(time.Minute), nil, timeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout*time.Duration(len(cands))+time.Second)
	defer cancel()

	statuses := prober.ProbeAll(ctx, cands)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tENDPOINT\tSTATUS\tLATENCY")
	healthy := 0
	for _, s := range statuses {
		status := "ok"
		if s.Healthy {
			healthy++
		} else {
			status = "FAIL: " + s.Reason
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%dms\n", s.Model, s.Endpoint, status, s.LatencyMs)
	}
	w.Flush()

	if healthy == 0 {
		return fmt.Errorf("no model endpoint is reachable")
	}
	return nil
}
