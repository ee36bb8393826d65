package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"pokedex-ai/internal/adapter/wire"
	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/config"
	"pokedex-ai/internal/infra/middleware"
)

const defaultMaxBodyBytes = 1 << 20

// ChatRunner streams the reply to one user message into out.
type ChatRunner interface {
	Run(ctx context.Context, userMsg string, out domain.WireSink) error
}

// ToolCatalog lists the tools the model may call.
type ToolCatalog interface {
	Schemas() []domain.ToolSchema
}

// HTTPDeps holds injected dependencies for the HTTP channel.
type HTTPDeps struct {
	Relay   ChatRunner
	Catalog ToolCatalog
	Logger  *slog.Logger
	Health  func() map[string]any // optional extra fields for /api/health
}

// HTTPChannel serves the chat API: POST /api/chat streams a reply as
// server-sent events, GET /api/tools lists the catalog and GET /api/health
// reports liveness.
type HTTPChannel struct {
	cfg    config.ServerConfig
	deps   HTTPDeps
	server *http.Server

	// Actual bound address (set after Start)
	boundAddr string

	// Lifecycle management for rate limiter cleanup goroutine
	ctx    context.Context
	cancel context.CancelFunc
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPChannel creates the HTTP API channel.
func NewHTTPChannel(cfg config.ServerConfig, deps HTTPDeps) *HTTPChannel {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &HTTPChannel{cfg: cfg, deps: deps}
}

// Handler returns the routed handler wrapped in the middleware chain. ctx
// bounds the rate limiter's cleanup goroutine.
func (h *HTTPChannel) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", h.handleChat)
	mux.HandleFunc("/api/tools", h.handleTools)
	mux.HandleFunc("/api/health", h.handleHealth)

	return middleware.Chain(mux,
		middleware.RequestID,
		middleware.SecurityHeaders,
		middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerSec: h.cfg.RateLimit,
			Burst:          h.cfg.RateBurst,
			TrustedProxies: h.cfg.TrustedProxies,
		}),
	)
}

// Start begins the HTTP server. Non-blocking (starts in goroutine).
func (h *HTTPChannel) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)

	h.server = &http.Server{
		Addr:              h.cfg.Addr,
		Handler:           h.Handler(h.ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: a reply streams for as long as the relay's own
		// upstream timeouts allow.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", h.cfg.Addr)
	if err != nil {
		h.cancel()
		return fmt.Errorf("listen %s: %w", h.cfg.Addr, err)
	}
	h.boundAddr = ln.Addr().String()

	go func() {
		h.deps.Logger.Info("http channel started", "addr", h.boundAddr)
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.deps.Logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address once Start has succeeded.
func (h *HTTPChannel) Addr() string { return h.boundAddr }

// Stop gracefully shuts down the HTTP server.
func (h *HTTPChannel) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// Name identifies the channel in logs.
func (h *HTTPChannel) Name() string { return "http" }

func (h *HTTPChannel) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}
	logger := h.deps.Logger.With("request_id", domain.RequestIDFromContext(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	var req domain.InboundChat
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Request body too large"})
			return
		}
		logger.Debug("chat request rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Message is required"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Message is required"})
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		logger.Error("response writer cannot stream")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	out := wire.NewWriter(w)
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		logger.Error("chat handler panicked", "panic", rec, "sent", out.Sent())
		if out.Sent() == 0 {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
			return
		}
		if !out.Terminated() {
			out.Send(domain.DoneEvent())
		}
	}()

	start := time.Now()
	err := h.deps.Relay.Run(r.Context(), req.Message, out)
	if err != nil {
		logger.Info("chat stream ended with error",
			"error", err, "code", domain.ErrorCodeOf(err), "sent", out.Sent(), "duration", time.Since(start))
		return
	}
	logger.Debug("chat stream complete", "sent", out.Sent(), "duration", time.Since(start))
}

func (h *HTTPChannel) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": h.deps.Catalog.Schemas()})
}

func (h *HTTPChannel) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if h.deps.Health != nil {
		for k, v := range h.deps.Health() {
			if k != "status" {
				body[k] = v
			}
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
