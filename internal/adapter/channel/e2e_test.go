package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pokedex-ai/internal/adapter/chatclient"
	"pokedex-ai/internal/adapter/llm"
	"pokedex-ai/internal/adapter/tool"
	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/config"
	"pokedex-ai/internal/usecase"
)

const pikachuJSON = `{
	"id": 25, "name": "pikachu", "height": 4, "weight": 60,
	"types": [{"slot": 1, "type": {"name": "electric"}}],
	"abilities": [{"ability": {"name": "static"}}, {"ability": {"name": "lightning-rod"}}],
	"stats": [
		{"base_stat": 35, "stat": {"name": "hp"}},
		{"base_stat": 55, "stat": {"name": "attack"}},
		{"base_stat": 40, "stat": {"name": "defense"}},
		{"base_stat": 50, "stat": {"name": "special-attack"}},
		{"base_stat": 50, "stat": {"name": "special-defense"}},
		{"base_stat": 90, "stat": {"name": "speed"}}
	],
	"species": {"name": "pikachu", "url": "%s/pokemon-species/25/"}
}`

const pikachuSpeciesJSON = `{"flavor_text_entries": [
	{"flavor_text": "When several of\fthese POKéMON gather, their electricity could build and cause lightning storms.", "language": {"name": "en"}}
]}`

const pikachuStatCard = "**Pikachu** (#25)\n\n" +
	"**Description:** When several of these POKéMON gather, their electricity could build and cause lightning storms.\n\n" +
	"**Physical Attributes:**\n" +
	"- Height: 0.4m\n" +
	"- Weight: 6kg\n\n" +
	"**Types:** Electric\n\n" +
	"**Abilities:** Static, Lightning-rod\n\n" +
	"**Base Stats:**\n" +
	"- HP: 35\n" +
	"- Attack: 55\n" +
	"- Defense: 40\n" +
	"- Special Attack: 50\n" +
	"- Special Defense: 50\n" +
	"- Speed: 90\n" +
	"- **Total:** 320"

func newFakePokeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pokemon/pikachu":
			fmt.Fprintf(w, pikachuJSON, srv.URL)
		case "/pokemon-species/25/":
			io.WriteString(w, pikachuSpeciesJSON)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func anthropicFrame(typ, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", typ, data)
}

// newFakeAnthropic answers every request with a short preamble followed by a
// get_pokemon_info call for the last word of the user's message.
func newFakeAnthropic(t *testing.T, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail != nil && fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"Internal server error"}}`)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		name := "pikachu"
		if strings.Contains(string(raw), "missingno") {
			name = "missingno"
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, strings.Join([]string{
			anthropicFrame("message_start", `{"type":"message_start","message":{"id":"msg_1","role":"assistant"}}`),
			anthropicFrame("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
			anthropicFrame("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me check. "}}`),
			anthropicFrame("content_block_stop", `{"type":"content_block_stop","index":0}`),
			anthropicFrame("content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_pokemon_info","input":{}}}`),
			anthropicFrame("content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"pokemon_name\": "}}`),
			anthropicFrame("content_block_delta", fmt.Sprintf(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"%s\"}"}}`, name)),
			anthropicFrame("content_block_stop", `{"type":"content_block_stop","index":1}`),
			anthropicFrame("message_stop", `{"type":"message_stop"}`),
		}, ""))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newStack wires the real relay, tools, model source and HTTP channel.
func newStack(t *testing.T, fail *atomic.Bool) *chatclient.Client {
	t.Helper()
	logger := newHTTPTestLogger()

	pokeapi := tool.NewPokeAPIClient(config.PokeAPIConfig{
		BaseURL: newFakePokeAPI(t).URL,
		Timeout: 5 * time.Second,
	}, tool.NewMemoryCache(time.Minute), logger)

	registry := tool.NewRegistry(logger, tool.WithTimeout(5*time.Second))
	require.NoError(t, registry.Register(tool.NewPokemonInfoTool(pokeapi, logger)))
	require.NoError(t, registry.Register(tool.NewTeamAnalysisTool(pokeapi, logger)))

	source := llm.NewAnthropicSource(config.ProviderConfig{
		Name:    "anthropic",
		Type:    "anthropic",
		BaseURL: newFakeAnthropic(t, fail).URL,
		APIKey:  "test-key",
		Model:   config.DefaultModel,
	}, logger)

	relay := usecase.NewRelay(usecase.RelayDeps{
		Source:       source,
		Tools:        registry,
		Logger:       logger,
		SystemPrompt: config.DefaultSystemPrompt,
		PaceDelay:    time.Millisecond,
		OpenTimeout:  5 * time.Second,
		IdleTimeout:  5 * time.Second,
	})

	ch := NewHTTPChannel(config.ServerConfig{}, HTTPDeps{Relay: relay, Catalog: registry, Logger: logger})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(ch.Handler(ctx))
	t.Cleanup(srv.Close)

	return chatclient.New(config.ClientConfig{ServerURL: srv.URL, Timeout: 5 * time.Second}, chatclient.NewTranscript(), logger)
}

func TestEndToEndPokemonLookup(t *testing.T) {
	client := newStack(t, nil)

	var updates atomic.Int32
	client.Transcript().OnUpdate(func(domain.Message) { updates.Add(1) })

	require.NoError(t, client.Send(context.Background(), "tell me about pikachu"))

	msgs := client.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "tell me about pikachu", msgs[0].Content)
	assert.Equal(t, "Let me check. "+pikachuStatCard, msgs[1].Content)
	assert.True(t, msgs[1].Final)

	// One update per streamed unit: the preamble, every word of the card,
	// plus user message, assistant creation and finalization.
	units := len(usecase.SplitDisplayUnits(pikachuStatCard))
	assert.EqualValues(t, 1+units+3, updates.Load())
}

func TestEndToEndUnknownPokemon(t *testing.T) {
	client := newStack(t, nil)

	require.NoError(t, client.Send(context.Background(), "tell me about missingno"))
	msgs := client.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Let me check. Pokémon \"missingno\" not found. Please check the spelling and try again.", msgs[1].Content)

	// The conversation stays usable.
	require.NoError(t, client.Send(context.Background(), "tell me about pikachu"))
	msgs = client.Transcript().Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "Let me check. "+pikachuStatCard, msgs[3].Content)
}

func TestEndToEndEmptyMessage(t *testing.T) {
	client := newStack(t, nil)

	assert.ErrorIs(t, client.Send(context.Background(), ""), domain.ErrEmptyMessage)
	assert.Zero(t, client.Transcript().Len())
}

func TestEndToEndUpstreamFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	client := newStack(t, &fail)

	require.NoError(t, client.Send(context.Background(), "tell me about pikachu"))
	msgs := client.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[1].Content, "Sorry, I encountered an error: "), msgs[1].Content)
	assert.True(t, msgs[1].Final)
}

func TestEndToEndToolCatalog(t *testing.T) {
	client := newStack(t, nil)

	tools, err := client.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "get_pokemon_info", tools[0].Name)
	assert.Equal(t, "analyze_pokemon_team", tools[1].Name)
}
