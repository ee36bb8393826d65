package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/config"
)

func newHTTPTestLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// scriptedRunner replays a fixed reply, or panics when told to.
type scriptedRunner struct {
	events    []domain.WireEvent
	panicAt   int // panic before sending events[panicAt]; -1 never
	calls     atomic.Int32
	lastMsg   atomic.Value
	requestID atomic.Value
}

func (s *scriptedRunner) Run(ctx context.Context, msg string, out domain.WireSink) error {
	s.calls.Add(1)
	s.lastMsg.Store(msg)
	s.requestID.Store(domain.RequestIDFromContext(ctx))
	for i, ev := range s.events {
		if i == s.panicAt {
			panic("runner exploded")
		}
		if err := out.Send(ev); err != nil {
			return err
		}
	}
	return nil
}

type staticCatalog []domain.ToolSchema

func (c staticCatalog) Schemas() []domain.ToolSchema { return c }

func newTestChannel(t *testing.T, runner ChatRunner, cfg config.ServerConfig) *httptest.Server {
	t.Helper()
	ch := NewHTTPChannel(cfg, HTTPDeps{
		Relay: runner,
		Catalog: staticCatalog{{
			Name:        "get_pokemon_info",
			Description: "Get detailed information about a specific Pokémon",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
		Logger: newHTTPTestLogger(),
		Health: func() map[string]any { return map[string]any{"source": "mock", "status": "ignored"} },
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(ch.Handler(ctx))
	t.Cleanup(srv.Close)
	return srv
}

func postChat(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestHTTPChannelChatStreams(t *testing.T) {
	runner := &scriptedRunner{panicAt: -1, events: []domain.WireEvent{
		domain.ContentEvent("Hello"),
		domain.ContentEvent(" \"trainer\"\n"),
		domain.DoneEvent(),
	}}
	srv := newTestChannel(t, runner, config.ServerConfig{})

	resp := postChat(t, srv, `{"message":"hi"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	assert.Equal(t,
		"data: {\"content\":\"Hello\"}\n\n"+
			"data: {\"content\":\" \\\"trainer\\\"\\n\"}\n\n"+
			"data: [DONE]\n\n",
		readBody(t, resp))
	assert.Equal(t, "hi", runner.lastMsg.Load())
	assert.Equal(t, resp.Header.Get("X-Request-ID"), runner.requestID.Load())
}

func TestHTTPChannelRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"invalid json", "{"},
		{"missing message", `{}`},
		{"empty message", `{"message":""}`},
		{"blank message", `{"message":"   "}`},
		{"wrong type", `{"message":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &scriptedRunner{panicAt: -1}
			srv := newTestChannel(t, runner, config.ServerConfig{})

			resp := postChat(t, srv, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.JSONEq(t, `{"error":"Message is required"}`, readBody(t, resp))
			assert.Zero(t, runner.calls.Load(), "no stream may open")
		})
	}
}

func TestHTTPChannelBodyTooLarge(t *testing.T) {
	runner := &scriptedRunner{panicAt: -1}
	srv := newTestChannel(t, runner, config.ServerConfig{MaxBodyBytes: 32})

	body := fmt.Sprintf(`{"message":%q}`, strings.Repeat("pikachu ", 20))
	resp := postChat(t, srv, body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Zero(t, runner.calls.Load())
}

func TestHTTPChannelMethodNotAllowed(t *testing.T) {
	srv := newTestChannel(t, &scriptedRunner{panicAt: -1}, config.ServerConfig{})

	resp, err := http.Get(srv.URL + "/api/chat")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"))
}

func TestHTTPChannelPanicBeforeStreaming(t *testing.T) {
	runner := &scriptedRunner{panicAt: 0, events: []domain.WireEvent{domain.ContentEvent("x")}}
	srv := newTestChannel(t, runner, config.ServerConfig{})

	resp := postChat(t, srv, `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Internal server error"}`, readBody(t, resp))
}

func TestHTTPChannelPanicMidStreamStillTerminates(t *testing.T) {
	runner := &scriptedRunner{panicAt: 1, events: []domain.WireEvent{
		domain.ContentEvent("partial"),
		domain.ContentEvent("never"),
	}}
	srv := newTestChannel(t, runner, config.ServerConfig{})

	resp := postChat(t, srv, `{"message":"hi"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "data: {\"content\":\"partial\"}\n\ndata: [DONE]\n\n", readBody(t, resp))
}

func TestHTTPChannelTools(t *testing.T) {
	srv := newTestChannel(t, &scriptedRunner{panicAt: -1}, config.ServerConfig{})

	resp, err := http.Get(srv.URL + "/api/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t,
		`{"tools":[{"name":"get_pokemon_info","description":"Get detailed information about a specific Pokémon","input_schema":{"type":"object"}}]}`,
		readBody(t, resp))

	resp2, err := http.Post(srv.URL+"/api/tools", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestHTTPChannelHealth(t *testing.T) {
	srv := newTestChannel(t, &scriptedRunner{panicAt: -1}, config.ServerConfig{})

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.JSONEq(t, `{"status":"ok","source":"mock"}`, readBody(t, resp))
}

func TestHTTPChannelRateLimited(t *testing.T) {
	srv := newTestChannel(t, &scriptedRunner{panicAt: -1}, config.ServerConfig{RateLimit: 0.001, RateBurst: 1})

	first, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestHTTPChannelStartStop(t *testing.T) {
	ch := NewHTTPChannel(config.ServerConfig{Addr: "127.0.0.1:0"}, HTTPDeps{
		Relay:   &scriptedRunner{panicAt: -1},
		Catalog: staticCatalog{},
		Logger:  newHTTPTestLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, ch.Start(ctx))
	assert.NotEmpty(t, ch.Addr())
	assert.Equal(t, "http", ch.Name())

	resp, err := http.Get("http://" + ch.Addr() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, ch.Stop(stopCtx))
}

func TestHTTPChannelStartListenError(t *testing.T) {
	ch := NewHTTPChannel(config.ServerConfig{Addr: "256.0.0.1:bad"}, HTTPDeps{Logger: newHTTPTestLogger()})
	assert.Error(t, ch.Start(context.Background()))
}

func TestHTTPChannelStopNilServer(t *testing.T) {
	ch := NewHTTPChannel(config.ServerConfig{}, HTTPDeps{Logger: newHTTPTestLogger()})
	assert.NoError(t, ch.Stop(context.Background()))
}
