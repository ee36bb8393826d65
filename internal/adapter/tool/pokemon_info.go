package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/tracer"
)

const noDescription = "No description available."

// PokemonFetcher is the PokeAPI surface the tools depend on.
type PokemonFetcher interface {
	Pokemon(ctx context.Context, nameOrID string) (*Pokemon, error)
	Species(ctx context.Context, speciesURL string) (*Species, error)
}

// PokemonInfoTool looks up a single Pokémon and renders a Markdown stat card.
type PokemonInfoTool struct {
	api    PokemonFetcher
	logger *slog.Logger
}

// NewPokemonInfoTool creates the get_pokemon_info tool.
func NewPokemonInfoTool(api PokemonFetcher, logger *slog.Logger) *PokemonInfoTool {
	return &PokemonInfoTool{api: api, logger: logger}
}

func (t *PokemonInfoTool) Name() string { return "get_pokemon_info" }
func (t *PokemonInfoTool) Description() string {
	return "Get detailed information about a specific Pokémon including stats, types, abilities, and moves"
}

func (t *PokemonInfoTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pokemon_name": {
					"type": "string",
					"description": "The name or ID of the Pokémon to look up"
				}
			},
			"required": ["pokemon_name"]
		}`),
	}
}

type pokemonInfoParams struct {
	PokemonName string `json:"pokemon_name"`
}

func (t *PokemonInfoTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_pokemon_info", t.logger, params,
		func(ctx context.Context, span trace.Span, p pokemonInfoParams) (any, error) {
			span.SetAttributes(tracer.StringAttr("pokemon.name", p.PokemonName))
			return t.lookup(ctx, p.PokemonName), nil
		},
	)
}

func (t *PokemonInfoTool) lookup(ctx context.Context, name string) *domain.ToolResult {
	pokemon, err := t.api.Pokemon(ctx, name)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return ErrResult("Pokémon %q not found. Please check the spelling and try again.", name)
		}
		return t.fetchError(name, err)
	}

	species, err := t.api.Species(ctx, pokemon.Species.URL)
	if err != nil {
		return t.fetchError(name, err)
	}

	return TextResult(renderPokemonCard(pokemon, englishFlavorText(species)))
}

func (t *PokemonInfoTool) fetchError(name string, err error) *domain.ToolResult {
	t.logger.Warn("pokemon lookup failed", "pokemon", name, "error", err)
	res := ErrResult("Error fetching information for %q: %v", name, err)
	res.IsRetryable = classifyToolError(err)
	return res
}

// englishFlavorText returns the first English entry with form feeds replaced
// by spaces.
func englishFlavorText(s *Species) string {
	for _, e := range s.FlavorTextEntries {
		if e.Language.Name != "en" {
			continue
		}
		if text := strings.ReplaceAll(e.FlavorText, "\f", " "); text != "" {
			return text
		}
		break
	}
	return noDescription
}

func baseStats(p *Pokemon) (map[string]int, int) {
	stats := make(map[string]int, len(p.Stats))
	total := 0
	for _, s := range p.Stats {
		stats[s.Stat.Name] = s.BaseStat
		total += s.BaseStat
	}
	return stats, total
}

func renderPokemonCard(p *Pokemon, description string) string {
	abilities := make([]string, 0, len(p.Abilities))
	for _, a := range p.Abilities {
		abilities = append(abilities, a.Ability.Name)
	}
	stats, total := baseStats(p)

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (#%d)\n\n", capitalize(p.Name), p.ID)
	fmt.Fprintf(&b, "**Description:** %s\n\n", description)
	b.WriteString("**Physical Attributes:**\n")
	fmt.Fprintf(&b, "- Height: %sm\n", tenths(p.Height))
	fmt.Fprintf(&b, "- Weight: %skg\n\n", tenths(p.Weight))
	fmt.Fprintf(&b, "**Types:** %s\n\n", capitalizeAll(p.TypeNames()))
	fmt.Fprintf(&b, "**Abilities:** %s\n\n", capitalizeAll(abilities))
	b.WriteString("**Base Stats:**\n")
	writeSixStats(&b, stats)
	fmt.Fprintf(&b, "\n- **Total:** %d", total)
	return b.String()
}

// writeSixStats writes the six main stats as a Markdown list without a
// trailing newline.
func writeSixStats(b *strings.Builder, stats map[string]int) {
	fmt.Fprintf(b, "- HP: %d\n", stats["hp"])
	fmt.Fprintf(b, "- Attack: %d\n", stats["attack"])
	fmt.Fprintf(b, "- Defense: %d\n", stats["defense"])
	fmt.Fprintf(b, "- Special Attack: %d\n", stats["special-attack"])
	fmt.Fprintf(b, "- Special Defense: %d\n", stats["special-defense"])
	fmt.Fprintf(b, "- Speed: %d", stats["speed"])
}
