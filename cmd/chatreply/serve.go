package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/roelfdiedericks/chatreply/internal/config"
	"github.com/roelfdiedericks/chatreply/internal/health"
	chathttp "github.com/roelfdiedericks/chatreply/internal/http"
	. "github.com/roelfdiedericks/chatreply/internal/logging"
)

// ServeCmd runs the HTTP API until interrupted.
type ServeCmd struct {
	Listen  string `help:"Override the listen address." placeholder:"ADDR"`
	NoWatch bool   `help:"Do not reload the config file when it changes."`
	NoStore bool   `help:"Do not persist conversations."`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, path, err := g.loadConfig()
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.HTTP.Listen = c.Listen
	}

	a, err := newApp(cfg, appOptions{persist: !c.NoStore})
	if err != nil {
		return err
	}
	defer a.Close()

	if len(a.candidates()) == 0 {
		L_warn("serve: no models configured, every chat request will fail until the config is fixed")
	}

	prober := a.prober()
	deps := chathttp.Deps{
		Chat:       a.gateway,
		Health:     a.cache,
		Prober:     prober,
		Candidates: a.candidates,
		Media:      a.mediaStore,
	}
	if a.store != nil {
		deps.Conversations = a.store
	}
	srv, err := chathttp.NewServer(chathttp.ServerConfig{
		Listen:             cfg.HTTP.Listen,
		APIKeys:            cfg.HTTP.APIKeys,
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
	}, deps)
	if err != nil {
		return err
	}

	if spec := cfg.Health.ProbeSchedule; spec != "" {
		sched, err := health.NewScheduler(spec, prober, a.candidates)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	grp, gctx := errgroup.WithContext(ctx)
	if path != "" && !c.NoWatch {
		grp.Go(func() error {
			return config.Watch(gctx, path, func(next *config.Config) {
				a.cfg.Store(next)
				SetLevel(next.Logging.Level)
				L_info("serve: config applied; listen address and api keys need a restart")
			})
		})
	}

	if err := srv.Start(); err != nil {
		stop()
		grp.Wait()
		return err
	}
	L_info("chatreply ready", "version", version, "listen", cfg.HTTP.Listen, "models", len(a.candidates()))

	<-gctx.Done()
	SetShuttingDown()
	L_info("serve: shutting down")
	if err := srv.Stop(); err != nil {
		return err
	}
	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
