package tool

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"pokedex-ai/internal/domain"
)

// nopLogger returns a logger that discards output.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const baseURLPlaceholder = "{{base}}"

var pokemonFixtures = map[string]string{
	"pikachu": `{
		"id": 25, "name": "pikachu", "height": 4, "weight": 60,
		"types": [{"slot": 1, "type": {"name": "electric", "url": ""}}],
		"abilities": [{"ability": {"name": "static"}}, {"ability": {"name": "lightning-rod"}}],
		"stats": [
			{"base_stat": 35, "stat": {"name": "hp"}},
			{"base_stat": 55, "stat": {"name": "attack"}},
			{"base_stat": 40, "stat": {"name": "defense"}},
			{"base_stat": 50, "stat": {"name": "special-attack"}},
			{"base_stat": 50, "stat": {"name": "special-defense"}},
			{"base_stat": 90, "stat": {"name": "speed"}}
		],
		"species": {"name": "pikachu", "url": "{{base}}/pokemon-species/25/"}
	}`,
	"charizard": `{
		"id": 6, "name": "charizard", "height": 17, "weight": 905,
		"types": [{"slot": 1, "type": {"name": "fire"}}, {"slot": 2, "type": {"name": "flying"}}],
		"abilities": [{"ability": {"name": "blaze"}}, {"ability": {"name": "solar-power"}}],
		"stats": [
			{"base_stat": 78, "stat": {"name": "hp"}},
			{"base_stat": 84, "stat": {"name": "attack"}},
			{"base_stat": 78, "stat": {"name": "defense"}},
			{"base_stat": 109, "stat": {"name": "special-attack"}},
			{"base_stat": 85, "stat": {"name": "special-defense"}},
			{"base_stat": 100, "stat": {"name": "speed"}}
		],
		"species": {"name": "charizard", "url": "{{base}}/pokemon-species/6/"}
	}`,
}

var speciesFixtures = map[string]string{
	"/pokemon-species/25/": `{"flavor_text_entries": [
		{"flavor_text": "Quand plusieurs de ces POKéMON se réunissent.", "language": {"name": "fr"}},
		{"flavor_text": "When several of\fthese POKéMON gather, their electricity could build and cause lightning storms.", "language": {"name": "en"}},
		{"flavor_text": "A later English entry.", "language": {"name": "en"}}
	]}`,
	"/pokemon-species/6/": `{"flavor_text_entries": [
		{"flavor_text": "ほのおを はいて", "language": {"name": "ja"}}
	]}`,
}

// fakeFetcher serves the fixtures without HTTP.
type fakeFetcher struct {
	errs  map[string]error
	calls atomic.Int32
}

func (f *fakeFetcher) Pokemon(_ context.Context, nameOrID string) (*Pokemon, error) {
	f.calls.Add(1)
	key := strings.ToLower(nameOrID)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	raw, ok := pokemonFixtures[key]
	if !ok {
		return nil, &StatusError{URL: "/pokemon/" + key, StatusCode: http.StatusNotFound}
	}
	var p Pokemon
	if err := json.Unmarshal([]byte(strings.ReplaceAll(raw, baseURLPlaceholder, "")), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (f *fakeFetcher) Species(_ context.Context, speciesURL string) (*Species, error) {
	if err, ok := f.errs[speciesURL]; ok {
		return nil, err
	}
	raw, ok := speciesFixtures[speciesURL]
	if !ok {
		return nil, &StatusError{URL: speciesURL, StatusCode: http.StatusNotFound}
	}
	var s Species
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// newPokeAPIServer serves the fixtures over HTTP and counts requests.
func newPokeAPIServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if name, ok := strings.CutPrefix(r.URL.Path, "/pokemon/"); ok {
			if raw, found := pokemonFixtures[name]; found {
				w.Header().Set("Content-Type", "application/json")
				io.WriteString(w, strings.ReplaceAll(raw, baseURLPlaceholder, srv.URL))
				return
			}
		}
		if raw, found := speciesFixtures[r.URL.Path]; found {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, raw)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

// stubTool is a minimal tool with a configurable schema and behaviour.
type stubTool struct {
	name   string
	schema json.RawMessage
	run    func(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error)
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: s.name, Description: "stub", Parameters: s.schema}
}
func (s *stubTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	if s.run == nil {
		return &domain.ToolResult{Content: "ok"}, nil
	}
	return s.run(ctx, params)
}
