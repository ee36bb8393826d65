//go:build !bedrock

package main

import (
	"fmt"
	"log/slog"

	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/config"
)

func createBedrockSource(_ config.ProviderConfig, _ *slog.Logger) (domain.ModelEventSource, error) {
	return nil, fmt.Errorf("bedrock provider requires build with -tags bedrock")
}
