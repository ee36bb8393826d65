package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/config"
	"pokedex-ai/internal/infra/tracer"
)

const (
	defaultAnthropicVersion = "2023-06-01"
	defaultAnthropicURL     = "https://api.anthropic.com"
	defaultMaxTokens        = 1000
)

// AnthropicSource streams model events from the Anthropic Messages API.
type AnthropicSource struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	version string
}

// NewAnthropicSource creates a source for the Anthropic Messages API.
func NewAnthropicSource(cfg config.ProviderConfig, logger *slog.Logger) *AnthropicSource {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &AnthropicSource{
		name:    cfg.Name,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
		version: defaultAnthropicVersion,
	}
}

// Name implements domain.ModelEventSource.
func (p *AnthropicSource) Name() string { return p.name }

// Stream implements domain.ModelEventSource. The returned stream reads the
// response body lazily; ctx bounds the whole stream, not just the open.
func (p *AnthropicSource) Stream(ctx context.Context, req domain.ChatRequest) (domain.ModelStream, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
			tracer.IntAttr("llm.tools", len(req.Tools)),
		),
	)
	defer span.End()

	body, err := json.Marshal(toAnthropicRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": p.version,
	}

	httpResp, err := doStreamRequest(ctx, p.client, p.baseURL+"/v1/messages", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	p.logger.Debug("llm stream opened", "provider", p.name, "model", req.Model)

	return &anthropicStream{
		body:   httpResp.Body,
		sse:    newSSEReader(httpResp.Body),
		blocks: make(map[int]string),
		logger: p.logger,
	}, nil
}

// --- Anthropic API wire types ---

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicStreamEvent struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	ContentBlock *anthropicContent `json:"content_block,omitempty"`
	Delta        *anthropicDelta   `json:"delta,omitempty"`
	Error        *anthropicError   `json:"error,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func toAnthropicRequest(req domain.ChatRequest) anthropicRequest {
	antReq := anthropicRequest{
		Model:     req.Model,
		System:    req.System,
		MaxTokens: req.MaxTokens,
		Stream:    true,
		Messages: []anthropicMessage{{
			Role:    domain.RoleUser,
			Content: []anthropicContent{{Type: "text", Text: req.UserMessage}},
		}},
	}
	if antReq.MaxTokens <= 0 {
		antReq.MaxTokens = defaultMaxTokens
	}
	for _, t := range req.Tools {
		antReq.Tools = append(antReq.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return antReq
}

// anthropicStream translates Messages API stream events into ModelEvents.
// Text and tool_use content blocks are tracked by index so that only the
// stop of a tool_use block becomes a ToolInvocationEnd.
type anthropicStream struct {
	body   io.ReadCloser
	sse    *sseReader
	blocks map[int]string
	done   bool
	logger *slog.Logger
}

func (s *anthropicStream) Next(ctx context.Context) (domain.ModelEvent, error) {
	for {
		if s.done {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := s.sse.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, io.ErrUnexpectedEOF)
			}
			return nil, fmt.Errorf("%w: read stream: %w", domain.ErrUpstream, err)
		}

		var evt anthropicStreamEvent
		if err := json.Unmarshal(frame.Data, &evt); err != nil {
			s.logger.Debug("skipping unparseable stream frame", "event", frame.Event, "error", err)
			continue
		}
		if evt.Type == "" {
			evt.Type = frame.Event
		}

		if ev, err := s.translate(evt); ev != nil || err != nil {
			return ev, err
		}
	}
}

// translate maps one wire event; (nil, nil) means "nothing to surface".
func (s *anthropicStream) translate(evt anthropicStreamEvent) (domain.ModelEvent, error) {
	switch evt.Type {
	case "content_block_start":
		if evt.ContentBlock == nil {
			return nil, nil
		}
		s.blocks[evt.Index] = evt.ContentBlock.Type
		switch evt.ContentBlock.Type {
		case "tool_use":
			return domain.ToolInvocationStart{ID: evt.ContentBlock.ID, ToolName: evt.ContentBlock.Name}, nil
		case "text":
			if evt.ContentBlock.Text != "" {
				return domain.TextFragment{Text: evt.ContentBlock.Text}, nil
			}
		}
		return nil, nil

	case "content_block_delta":
		if evt.Delta == nil {
			return nil, nil
		}
		switch evt.Delta.Type {
		case "text_delta":
			return domain.TextFragment{Text: evt.Delta.Text}, nil
		case "input_json_delta":
			return domain.ToolInvocationArgumentChunk{RawChunk: evt.Delta.PartialJSON}, nil
		}
		return nil, nil

	case "content_block_stop":
		kind := s.blocks[evt.Index]
		delete(s.blocks, evt.Index)
		if kind == "tool_use" {
			return domain.ToolInvocationEnd{}, nil
		}
		return nil, nil

	case "message_stop":
		s.done = true
		return nil, io.EOF

	case "error":
		msg := "unknown error"
		if evt.Error != nil {
			msg = evt.Error.Type + ": " + evt.Error.Message
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrUpstream, msg)

	default:
		// message_start, message_delta, ping
		return nil, nil
	}
}

func (s *anthropicStream) Close() error {
	return s.body.Close()
}

var (
	_ domain.ModelEventSource = (*AnthropicSource)(nil)
	_ domain.ModelStream      = (*anthropicStream)(nil)
)
