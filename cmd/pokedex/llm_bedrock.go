//go:build bedrock

package main

import (
	"log/slog"

	"pokedex-ai/internal/adapter/llm"
	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/config"
)

func createBedrockSource(pc config.ProviderConfig, log *slog.Logger) (domain.ModelEventSource, error) {
	return llm.NewBedrockSource(pc, log)
}
