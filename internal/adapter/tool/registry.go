package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"pokedex-ai/internal/domain"
	"pokedex-ai/internal/infra/tracer"
)

// DefaultTimeout bounds a single tool execution when no timeout is configured.
const DefaultTimeout = 20 * time.Second

// Registry is the tool catalog and dispatcher. It is read-only after startup:
// Register is called while wiring, Execute and Schemas afterwards.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]domain.Tool
	order    []string
	timeout  time.Duration
	validate bool
	logger   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTimeout sets the per-execution timeout. Non-positive values disable it.
func WithTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = d }
}

// WithoutSchemaValidation registers tools as-is instead of wrapping them with
// JSON Schema validation.
func WithoutSchemaValidation() RegistryOption {
	return func(r *Registry) { r.validate = false }
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:    make(map[string]domain.Tool),
		timeout:  DefaultTimeout,
		validate: true,
		logger:   logger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a tool. Returns error if name already registered.
// Unless disabled, the tool is wrapped with schema validation; if its schema
// fails to compile the tool is registered unwrapped and a warning is logged.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	if r.validate {
		wrapped, err := WithSchemaValidation(t)
		if err != nil {
			r.logger.Warn("schema validation disabled for tool",
				"tool", name, "error", err)
		} else {
			t = wrapped
		}
	}

	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// List returns all registered tools in registration order.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]domain.Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Schemas returns all tool schemas, in registration order, for the model's
// function-calling catalog.
func (r *Registry) Schemas() []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]domain.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}

type outcome struct {
	result *domain.ToolResult
	err    error
}

// Execute dispatches a call by name. It never returns an error: unknown names,
// tool errors, panics and timeouts all come back as a ToolResult with IsError
// set. No retries are attempted.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) domain.ToolResult {
	ctx, span := tracer.StartSpan(ctx, "registry.execute",
		trace.WithAttributes(tracer.StringAttr("tool.name", name)),
	)
	defer span.End()

	t, err := r.Get(name)
	if err != nil {
		tracer.RecordError(span, err)
		r.logger.Warn("unknown tool requested", "tool", name, "request_id", domain.RequestIDFromContext(ctx))
		return domain.ToolResult{IsError: true, Content: fmt.Sprintf("Unknown tool: %s", name)}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("%w: panic: %v", domain.ErrToolFailure, p)}
			}
		}()
		res, err := t.Execute(ctx, input)
		done <- outcome{result: res, err: err}
	}()

	var res domain.ToolResult
	select {
	case o := <-done:
		res = r.normalize(name, o)
	case <-ctx.Done():
		res = r.interrupted(ctx, name)
	}

	span.SetAttributes(tracer.BoolAttr("tool.is_error", res.IsError))
	if res.IsError {
		tracer.RecordError(span, errors.New(res.Content))
	} else {
		tracer.SetOK(span)
	}
	r.logger.Debug("tool executed",
		"tool", name,
		"is_error", res.IsError,
		"duration", time.Since(start),
		"request_id", domain.RequestIDFromContext(ctx),
	)
	return res
}

func (r *Registry) normalize(name string, o outcome) domain.ToolResult {
	if o.err != nil {
		r.logger.Warn("tool failed", "tool", name, "error", o.err)
		return domain.ToolResult{
			IsError:     true,
			IsRetryable: classifyToolError(o.err),
			Content:     fmt.Sprintf("Error executing %s: %v", name, o.err),
		}
	}
	if o.result == nil {
		return domain.ToolResult{IsError: true, Content: fmt.Sprintf("Error executing %s: empty result", name)}
	}
	return *o.result
}

func (r *Registry) interrupted(ctx context.Context, name string) domain.ToolResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("tool timed out", "tool", name, "timeout", r.timeout)
		return domain.ToolResult{
			IsError:     true,
			IsRetryable: true,
			Content:     fmt.Sprintf("tool %s timed out after %s", name, r.timeout),
		}
	}
	return domain.ToolResult{
		IsError: true,
		Content: fmt.Sprintf("tool %s cancelled: %v", name, ctx.Err()),
	}
}

var _ domain.ToolExecutor = (*Registry)(nil)
