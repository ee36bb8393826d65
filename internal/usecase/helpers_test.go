package usecase

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pokedex-ai/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// scriptedStream replays events, then ends with err (io.EOF when nil). With
// block set it waits for cancellation instead of ending.
type scriptedStream struct {
	events []domain.ModelEvent
	err    error
	block  bool
	pos    int
	closed atomic.Bool
}

func (s *scriptedStream) Next(ctx context.Context) (domain.ModelEvent, error) {
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func (s *scriptedStream) Close() error {
	s.closed.Store(true)
	return nil
}

type mockSource struct {
	stream *scriptedStream
	err    error
	delay  time.Duration

	mu  sync.Mutex
	req domain.ChatRequest
}

func (m *mockSource) Name() string { return "mock" }

func (m *mockSource) Stream(ctx context.Context, req domain.ChatRequest) (domain.ModelStream, error) {
	m.mu.Lock()
	m.req = req
	m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

func (m *mockSource) lastRequest() domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.req
}

// mockTools answers from results and fails closed on unknown names.
type mockTools struct {
	results map[string]domain.ToolResult
	panics  bool

	mu    sync.Mutex
	calls []domain.ToolCall
}

func (m *mockTools) Schemas() []domain.ToolSchema {
	return []domain.ToolSchema{{
		Name:        "get_pokemon_info",
		Description: "Get detailed information about a specific Pokémon",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"pokemon_name":{"type":"string"}},"required":["pokemon_name"]}`),
	}}
}

func (m *mockTools) Execute(_ context.Context, name string, input json.RawMessage) domain.ToolResult {
	m.mu.Lock()
	m.calls = append(m.calls, domain.ToolCall{Name: name, Arguments: input})
	m.mu.Unlock()
	if m.panics {
		panic("tool exploded")
	}
	if r, ok := m.results[name]; ok {
		return r
	}
	return domain.ToolResult{Content: "Unknown tool: " + name, IsError: true}
}

func (m *mockTools) Calls() []domain.ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ToolCall(nil), m.calls...)
}

// recordingSink records events; with failAfter > 0 it rejects every send
// past that many events.
type recordingSink struct {
	failAfter int

	mu     sync.Mutex
	events []domain.WireEvent
}

func (s *recordingSink) Send(ev domain.WireEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.events) >= s.failAfter {
		return io.ErrClosedPipe
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Events() []domain.WireEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.WireEvent(nil), s.events...)
}

// Contents returns the content of every non-sentinel event, in order.
func (s *recordingSink) Contents() []string {
	var out []string
	for _, ev := range s.Events() {
		if !ev.Done {
			out = append(out, ev.Content)
		}
	}
	return out
}

func (s *recordingSink) Text() string {
	return strings.Join(s.Contents(), "")
}

func (s *recordingSink) Terminated() bool {
	evs := s.Events()
	return len(evs) > 0 && evs[len(evs)-1].Done
}

func newTestRelay(src domain.ModelEventSource, tools domain.ToolExecutor, opts ...func(*RelayDeps)) *Relay {
	deps := RelayDeps{
		Source:       src,
		Tools:        tools,
		Logger:       testLogger(),
		SystemPrompt: "You are a test Pokédex.",
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return NewRelay(deps)
}

func toolBlock(id, name string, chunks ...string) []domain.ModelEvent {
	evs := []domain.ModelEvent{domain.ToolInvocationStart{ID: id, ToolName: name}}
	for _, c := range chunks {
		evs = append(evs, domain.ToolInvocationArgumentChunk{RawChunk: c})
	}
	return append(evs, domain.ToolInvocationEnd{})
}

func concat(parts ...[]domain.ModelEvent) []domain.ModelEvent {
	var out []domain.ModelEvent
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func text(s ...string) []domain.ModelEvent {
	out := make([]domain.ModelEvent, len(s))
	for i, t := range s {
		out[i] = domain.TextFragment{Text: t}
	}
	return out
}
