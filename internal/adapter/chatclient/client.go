package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/config"
)

// ErrBusy is returned by Send while a previous message is still streaming.
var ErrBusy = errors.New("a message is already in flight")

const maxErrorBody = 4 << 10

// Client talks to a pokedex-ai server and records the conversation in a
// Transcript.
type Client struct {
	baseURL    string
	http       *http.Client
	transcript *Transcript
	reasm      *Reassembler
	logger     *slog.Logger
	busy       atomic.Bool
}

// New creates a client for cfg.ServerURL. cfg.Timeout bounds the wait for
// response headers only; a streaming body may take longer.
func New(cfg config.ClientConfig, t *Transcript, logger *slog.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout
	return NewWithHTTPClient(cfg.ServerURL, &http.Client{Transport: transport}, t, logger)
}

// NewWithHTTPClient creates a client using hc.
func NewWithHTTPClient(baseURL string, hc *http.Client, t *Transcript, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       hc,
		transcript: t,
		reasm:      NewReassembler(t, logger),
		logger:     logger,
	}
}

// Transcript returns the conversation this client writes to.
func (c *Client) Transcript() *Transcript { return c.transcript }

// Send posts input and streams the reply into the transcript. Blank input is
// ignored with domain.ErrEmptyMessage and records nothing. Any transport
// failure appends one TerminalErrorText message and is returned.
func (c *Client) Send(ctx context.Context, input string) error {
	msg := strings.TrimSpace(input)
	if msg == "" {
		return domain.ErrEmptyMessage
	}
	if !c.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.busy.Store(false)

	c.transcript.AppendUser(msg)

	resp, err := c.post(ctx, msg)
	if err != nil {
		return c.terminal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.terminal(statusError(resp))
	}

	id := c.transcript.BeginAssistant()
	stats, err := c.reasm.Consume(ctx, id, resp.Body)
	if err != nil {
		c.transcript.Finalize(id)
		return c.terminal(err)
	}
	c.logger.Debug("chatclient: reply complete", "events", stats.Events, "skipped", stats.Skipped)
	return nil
}

func (c *Client) post(ctx context.Context, msg string) (*http.Response, error) {
	body, err := json.Marshal(domain.InboundChat{Message: msg})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	return c.http.Do(req)
}

func (c *Client) terminal(err error) error {
	c.logger.Warn("chatclient: request failed", "error", err)
	c.transcript.AppendError(TerminalErrorText)
	return domain.WrapOp("chatclient.Send", err)
}

// Tools fetches the server's tool catalog.
func (c *Client) Tools(ctx context.Context) ([]domain.ToolSchema, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tools", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.WrapOp("chatclient.Tools", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.WrapOp("chatclient.Tools", statusError(resp))
	}
	var out struct {
		Tools []domain.ToolSchema `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.WrapOp("chatclient.Tools", fmt.Errorf("decode catalog: %w", err))
	}
	return out.Tools, nil
}

// statusError describes a non-2xx response, including the server's
// {"error": ...} message when there is one.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
