package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool for the model's function-calling protocol.
// Parameters holds a JSON Schema object (type, properties, required).
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"input_schema"`
}

// ToolCall is a completed tool invocation: the accumulated argument buffer
// has been parsed and is known to be valid JSON.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing a tool. Immutable once returned.
type ToolResult struct {
	Content     string `json:"content"`
	IsError     bool   `json:"is_error"`
	IsRetryable bool   `json:"is_retryable,omitempty"`
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolExecutor is the capability the relay uses: a read-only catalog plus a
// dispatch that never fails outside the returned ToolResult.
type ToolExecutor interface {
	Schemas() []ToolSchema
	Execute(ctx context.Context, name string, input json.RawMessage) ToolResult
}
