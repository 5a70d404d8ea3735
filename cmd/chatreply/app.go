package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roelfdiedericks/chatreply/internal/config"
	"github.com/roelfdiedericks/chatreply/internal/gateway"
	"github.com/roelfdiedericks/chatreply/internal/health"
	"github.com/roelfdiedericks/chatreply/internal/llm"
	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/mcp"
	"github.com/roelfdiedericks/chatreply/internal/media"
	"github.com/roelfdiedericks/chatreply/internal/session"
	"github.com/roelfdiedericks/chatreply/internal/tokens"
	"github.com/roelfdiedericks/chatreply/internal/tools"
)

// app holds the long-lived services shared by the commands.
type app struct {
	cfg        atomic.Pointer[config.Config]
	httpClient *http.Client
	cache      health.Cache
	store      *session.SQLiteStore // nil when persistence is off
	mediaStore *media.Store
	tools      tools.ToolClient
	gateway    *gateway.Gateway

	closers []func() error
}

type appOptions struct {
	persist bool // open the conversation store
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{httpClient: &http.Client{}}
	a.cfg.Store(cfg)
	if err := a.init(cfg, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(cfg *config.Config, opts appOptions) (err error) {
	a.cache = a.newHealthCache(cfg.Health)

	if opts.persist {
		if a.store, err = session.Open(cfg.Store.Path); err != nil {
			return fmt.Errorf("open conversation store: %w", err)
		}
		a.closers = append(a.closers, a.store.Close)

		if a.mediaStore, err = media.NewStore(cfg.Media.Dir, cfg.Media.MaxBytes); err != nil {
			return err
		}
	}

	if a.tools, err = a.buildTools(cfg.Tools); err != nil {
		return err
	}

	deps := gateway.Deps{
		Config:   a.cfg.Load,
		Provider: llm.NewRouter(a.httpClient, cfg.Orchestrator.MaxTokens),
		Tools:    a.tools,
		Health:   a.cache,
		Media:    media.NewProcessor(media.NewOptimizer(cfg.Media.MaxDimension, cfg.Media.MaxBytes), a.mediaStore),
		Counter:  tokens.Get().Count,
	}
	if a.store != nil {
		deps.History = a.store
		deps.Sink = a.store
	}
	a.gateway, err = gateway.New(deps)
	return err
}

// buildTools combines the built-in tools with any configured MCP servers.
func (a *app) buildTools(cfg config.ToolsConfig) (tools.ToolClient, error) {
	var clients []tools.ToolClient
	if !cfg.DisableBuiltin {
		clients = append(clients, tools.NewBuiltinRegistry())
	}
	if len(cfg.MCPServers) > 0 {
		client, err := mcp.New(cfg.MCPServers, version)
		if err != nil {
			return nil, fmt.Errorf("mcp: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		clients = append(clients, client)
		L_info("mcp: servers configured", "count", client.Len())
	}
	if len(clients) == 0 {
		return nil, nil
	}
	return tools.NewMulti(clients...), nil
}

// newHealthCache returns a Redis cache when configured and reachable,
// otherwise an in-process one.
func (a *app) newHealthCache(cfg config.HealthConfig) health.Cache {
	if cfg.Backend != "redis" {
		return health.NewMemoryCache(cfg.TTL())
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		L_warn("health: redis unreachable, using in-process cache", "addr", cfg.RedisAddr, "error", err)
		client.Close()
		return health.NewMemoryCache(cfg.TTL())
	}
	a.closers = append(a.closers, client.Close)
	L_info("health: using redis cache", "addr", cfg.RedisAddr)
	return health.NewRedisCache(client, cfg.TTL())
}

func (a *app) candidates() []llm.ModelCandidate {
	return llm.ResolveCandidates(a.cfg.Load().Models, "")
}

func (a *app) prober() *health.Prober {
	cfg := a.cfg.Load()
	return health.NewProber(a.cache, a.httpClient, time.Duration(cfg.Health.ProbeTimeoutSeconds)*time.Second)
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
