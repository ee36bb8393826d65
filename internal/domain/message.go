package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a client-side transcript. An assistant message's
// Content only ever grows while it is streaming; Final marks it immutable.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Final     bool      `json:"final,omitempty"`
}

// ChatRequest is what the relay hands to a ModelEventSource.
type ChatRequest struct {
	Model       string       `json:"model"`
	System      string       `json:"system,omitempty"`
	UserMessage string       `json:"user_message"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

// InboundChat is the JSON body accepted by POST /api/chat.
type InboundChat struct {
	Message string `json:"message"`
}
