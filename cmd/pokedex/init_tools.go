package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"pokedex-ai/internal/adapter/tool"
	"pokedex-ai/internal/infra/config"
	"pokedex-ai/internal/usecase/scheduling"
)

// ToolComponents holds the tool catalog and what backs it.
type ToolComponents struct {
	Registry  *tool.Registry
	PokeAPI   *tool.PokeAPIClient
	Cache     tool.Cache
	Scheduler *scheduling.Scheduler
}

// Close releases the response cache.
func (c *ToolComponents) Close() error {
	return c.Cache.Close()
}

func initTools(cfg *config.Config, log *slog.Logger) (*ToolComponents, error) {
	cache, err := newCache(cfg.Tools.Cache, log)
	if err != nil {
		return nil, err
	}

	api := tool.NewPokeAPIClient(cfg.Tools.PokeAPI, cache, log)

	registry := tool.NewRegistry(log, tool.WithTimeout(cfg.Relay.ToolTimeout))
	if err := registry.Register(tool.NewPokemonInfoTool(api, log)); err != nil {
		cache.Close()
		return nil, fmt.Errorf("register tool: %w", err)
	}
	if err := registry.Register(tool.NewTeamAnalysisTool(api, log)); err != nil {
		cache.Close()
		return nil, fmt.Errorf("register tool: %w", err)
	}

	sched := scheduling.NewScheduler(log)
	if cfg.Tools.Cache.Backend != "none" && cfg.Tools.Cache.PruneSchedule != "" {
		sched.RegisterAction(scheduling.ActionCachePrune, scheduling.PruneAction(cache, log))
		if err := sched.AddTask(scheduling.ScheduledTask{
			Name:     "pokeapi-cache-prune",
			Schedule: cfg.Tools.Cache.PruneSchedule,
			Action:   scheduling.ActionCachePrune,
		}); err != nil {
			cache.Close()
			return nil, fmt.Errorf("schedule cache prune: %w", err)
		}
	}

	log.Info("tools registered", "count", len(registry.List()), "cache", cfg.Tools.Cache.Backend)

	return &ToolComponents{
		Registry:  registry,
		PokeAPI:   api,
		Cache:     cache,
		Scheduler: sched,
	}, nil
}

func newCache(cfg config.CacheConfig, log *slog.Logger) (tool.Cache, error) {
	switch cfg.Backend {
	case "memory", "":
		return tool.NewMemoryCache(cfg.TTL), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("cache dir: %w", err)
		}
		c, err := tool.NewSQLiteCache(cfg.Path, cfg.TTL, log)
		if err != nil {
			return nil, fmt.Errorf("sqlite cache: %w", err)
		}
		return c, nil
	case "none":
		return tool.NopCache{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
