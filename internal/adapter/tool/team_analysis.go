package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/tracer"
)

const (
	maxTeamSize        = 6
	maxListedWeakness  = 5
	weaknessAlertCount = 3
	slowTeamSpeed      = 70
	frailTeamDefense   = 70
	minDistinctTypes   = 4
)

// TeamAnalysisTool reports type distribution, shared weaknesses and average
// stats for a team of up to six Pokémon.
type TeamAnalysisTool struct {
	api    PokemonFetcher
	logger *slog.Logger
}

// NewTeamAnalysisTool creates the analyze_pokemon_team tool.
func NewTeamAnalysisTool(api PokemonFetcher, logger *slog.Logger) *TeamAnalysisTool {
	return &TeamAnalysisTool{api: api, logger: logger}
}

func (t *TeamAnalysisTool) Name() string { return "analyze_pokemon_team" }
func (t *TeamAnalysisTool) Description() string {
	return "Analyze a team of Pokémon for type coverage, weaknesses, and strategic recommendations"
}

func (t *TeamAnalysisTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pokemon_names": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Array of Pokémon names to analyze as a team"
				}
			},
			"required": ["pokemon_names"]
		}`),
	}
}

type teamAnalysisParams struct {
	PokemonNames []string `json:"pokemon_names"`
}

type teamMember struct {
	name  string
	types []string
	stats map[string]int
}

func (t *TeamAnalysisTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.analyze_pokemon_team", t.logger, params,
		func(ctx context.Context, span trace.Span, p teamAnalysisParams) (any, error) {
			span.SetAttributes(tracer.IntAttr("team.requested", len(p.PokemonNames)))

			switch {
			case len(p.PokemonNames) == 0:
				return ErrResult("Please provide at least one Pokémon name to analyze."), nil
			case len(p.PokemonNames) > maxTeamSize:
				return ErrResult("A Pokémon team can have at most 6 members. Please provide 6 or fewer Pokémon."), nil
			}

			team := t.fetchTeam(ctx, p.PokemonNames)
			if err := ctx.Err(); err != nil {
				return ErrResult("Error analyzing team: %v", err), nil
			}
			span.SetAttributes(tracer.IntAttr("team.found", len(team)))
			if len(team) == 0 {
				return ErrResult("Could not find any of the specified Pokémon. Please check the names and try again."), nil
			}
			return TextResult(renderTeamAnalysis(team)), nil
		},
	)
}

// fetchTeam looks members up in order and skips any that fail.
func (t *TeamAnalysisTool) fetchTeam(ctx context.Context, names []string) []teamMember {
	team := make([]teamMember, 0, len(names))
	for _, name := range names {
		p, err := t.api.Pokemon(ctx, name)
		if err != nil {
			t.logger.Debug("team member skipped", "pokemon", name, "error", err)
			continue
		}
		stats, _ := baseStats(p)
		team = append(team, teamMember{name: p.Name, types: p.TypeNames(), stats: stats})
	}
	return team
}

func renderTeamAnalysis(team []teamMember) string {
	typeCount := newOrderedCounter()
	weaknesses := newOrderedCounter()
	statSums := newOrderedCounter()
	names := make([]string, 0, len(team))

	for _, m := range team {
		names = append(names, m.name)
		for _, typ := range m.types {
			typeCount.Add(typ, 1)
			for _, weak := range typeWeaknesses[typ] {
				weaknesses.Add(weak, 1)
			}
		}
		for stat, v := range m.stats {
			statSums.Add(stat, v)
		}
	}

	avg := make(map[string]int, statSums.Len())
	for _, stat := range statSums.keys {
		avg[stat] = roundHalfUp(float64(statSums.Get(stat)) / float64(len(team)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Team Analysis for %d Pokémon:**\n\n", len(team))
	fmt.Fprintf(&b, "**Team Members:** %s\n\n", capitalizeAll(names))

	b.WriteString("**Type Distribution:**\n")
	lines := make([]string, 0, typeCount.Len())
	for _, typ := range typeCount.keys {
		lines = append(lines, fmt.Sprintf("- %s: %d", capitalize(typ), typeCount.Get(typ)))
	}
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\n")

	b.WriteString("**Common Weaknesses:**\n")
	b.WriteString(strings.Join(topWeaknesses(weaknesses), "\n"))
	b.WriteString("\n\n")

	b.WriteString("**Average Team Stats:**\n")
	writeSixStats(&b, avg)
	b.WriteString("\n\n")

	b.WriteString("**Recommendations:**\n")
	if weaknesses.Get("water") >= weaknessAlertCount {
		b.WriteString("- Consider adding a Water-resistant Pokémon (Grass, Water, or Dragon type)\n")
	}
	if weaknesses.Get("fire") >= weaknessAlertCount {
		b.WriteString("- Consider adding a Fire-resistant Pokémon (Fire, Water, Rock, or Dragon type)\n")
	}
	if avg["speed"] < slowTeamSpeed {
		b.WriteString("- Your team is relatively slow - consider adding a fast Pokémon for speed control\n")
	}
	if avg["defense"] < frailTeamDefense {
		b.WriteString("- Your team has low physical defense - consider adding a defensive wall\n")
	}
	if typeCount.Len() < minDistinctTypes {
		b.WriteString("- Consider diversifying your team types for better coverage\n")
	}
	b.WriteString("This analysis provides a strategic overview of your team's strengths and potential areas for improvement!")
	return b.String()
}

// topWeaknesses orders by count descending; ties keep first-seen order.
func topWeaknesses(c *orderedCounter) []string {
	keys := append([]string(nil), c.keys...)
	sort.SliceStable(keys, func(i, j int) bool { return c.Get(keys[i]) > c.Get(keys[j]) })
	if len(keys) > maxListedWeakness {
		keys = keys[:maxListedWeakness]
	}
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %d team members vulnerable", capitalize(k), c.Get(k)))
	}
	return lines
}
