package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pokedex-ai/internal/adapter/wire"
	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(config.ClientConfig{ServerURL: srv.URL + "/", Timeout: 5 * time.Second}, NewTranscript(), nopLogger())
	return c, srv
}

func sseHandler(t *testing.T, gotMessage *string, events ...domain.WireEvent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		var in domain.InboundChat
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if gotMessage != nil {
			*gotMessage = in.Message
		}
		w.Header().Set("Content-Type", "text/event-stream")
		ww := wire.NewWriter(w)
		for _, ev := range events {
			if err := ww.Send(ev); err != nil {
				return
			}
		}
	}
}

func TestClientSendStreamsReply(t *testing.T) {
	var got string
	c, _ := newTestClient(t, sseHandler(t, &got,
		domain.ContentEvent("**Pikachu**"),
		domain.ContentEvent(" (#25)"),
		domain.DoneEvent(),
	))

	require.NoError(t, c.Send(context.Background(), "  tell me about pikachu \n"))
	assert.Equal(t, "tell me about pikachu", got)

	msgs := c.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "tell me about pikachu", msgs[0].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "**Pikachu** (#25)", msgs[1].Content)
	assert.True(t, msgs[1].Final)
}

func TestClientBlankInputNotSent(t *testing.T) {
	called := false
	c, _ := newTestClient(t, func(http.ResponseWriter, *http.Request) { called = true })

	err := c.Send(context.Background(), "   \t")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
	assert.False(t, called)
	assert.Zero(t, c.Transcript().Len())
}

func TestClientRejectedRequest(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Message is required"}`))
	})

	err := c.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server returned 400: Message is required")

	msgs := c.Transcript().Messages()
	require.Len(t, msgs, 2, "no assistant stream message is created")
	assert.Equal(t, TerminalErrorText, msgs[1].Content)
	assert.True(t, msgs[1].Final)
}

func TestClientStreamCutOff(t *testing.T) {
	c, _ := newTestClient(t, sseHandler(t, nil, domain.ContentEvent("Pikachu is")))

	err := c.Send(context.Background(), "pikachu")
	require.Error(t, err)

	msgs := c.Transcript().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Pikachu is", msgs[1].Content)
	assert.True(t, msgs[1].Final, "partial reply is frozen")
	assert.Equal(t, TerminalErrorText, msgs[2].Content)
}

func TestClientServerUnreachable(t *testing.T) {
	c, srv := newTestClient(t, func(http.ResponseWriter, *http.Request) {})
	srv.Close()

	require.Error(t, c.Send(context.Background(), "hello"))
	msgs := c.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, TerminalErrorText, msgs[1].Content)
}

func TestClientBusy(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-release
		ww := wire.NewWriter(w)
		ww.Send(domain.DoneEvent())
	})

	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background(), "first") }()

	require.Eventually(t, func() bool { return c.Transcript().Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.Send(context.Background(), "second"), ErrBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestClientTools(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tools", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tools":[{"name":"get_pokemon_info","description":"Get info","input_schema":{"type":"object"}}]}`))
	})

	tools, err := c.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "get_pokemon_info", tools[0].Name)
	assert.JSONEq(t, `{"type":"object"}`, string(tools[0].Parameters))
}

func TestClientToolsError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	_, err := c.Tools(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server returned 500")
}
