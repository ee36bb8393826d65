package main

import (
	"fmt"
	"log/slog"

	"pokedex-ai/internal/adapter/llm"
	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/config"
)

// LLMComponents holds the model event sources the relay can stream from.
type LLMComponents struct {
	Registry *llm.Registry
	Default  domain.ModelEventSource
	Breakers map[string]*llm.CircuitBreakerSource
}

// initLLM builds every configured source, wraps them with circuit breakers
// and failover, and picks the default.
func initLLM(cfg *config.Config, log *slog.Logger) (*LLMComponents, error) {
	registry := llm.NewRegistry()
	breakers := make(map[string]*llm.CircuitBreakerSource)

	cbCfg := cfg.LLM.CircuitBreaker
	for _, pc := range cfg.LLM.Providers {
		source, err := createSource(pc, log)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}

		if cbCfg.Enabled {
			cb := llm.NewCircuitBreakerSource(source, cbCfg, log)
			breakers[cb.Name()] = cb
			source = cb
		}

		if err := registry.Register(source); err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
	}

	if cbCfg.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cbCfg.MaxFailures,
			"timeout", cbCfg.Timeout,
			"interval", cbCfg.Interval,
		)
	}

	def, err := registry.Get(cfg.LLM.DefaultProvider)
	if err != nil {
		return nil, fmt.Errorf("default llm provider (set ANTHROPIC_API_KEY or configure llm.providers): %w", err)
	}

	if len(cfg.LLM.Fallbacks) > 0 {
		var fallbacks []domain.ModelEventSource
		for _, name := range cfg.LLM.Fallbacks {
			fb, err := registry.Get(name)
			if err != nil {
				return nil, fmt.Errorf("failover provider %s: %w", name, err)
			}
			fallbacks = append(fallbacks, fb)
		}
		def = llm.NewFailoverSource(def, fallbacks, log)
		log.Info("model failover enabled", "fallbacks", cfg.LLM.Fallbacks)
	}

	return &LLMComponents{
		Registry: registry,
		Default:  def,
		Breakers: breakers,
	}, nil
}

func createSource(pc config.ProviderConfig, log *slog.Logger) (domain.ModelEventSource, error) {
	switch pc.Type {
	case "anthropic", "":
		return llm.NewAnthropicSource(pc, log), nil
	case "bedrock":
		return createBedrockSource(pc, log)
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}
