package domain

import "context"

// ModelEvent is one event of a model's streaming output. The set of variants
// is closed: TextFragment, ToolInvocationStart, ToolInvocationArgumentChunk
// and ToolInvocationEnd.
type ModelEvent interface {
	modelEvent()
}

// TextFragment is a piece of assistant prose.
type TextFragment struct {
	Text string
}

// ToolInvocationStart opens a tool invocation block.
type ToolInvocationStart struct {
	ID       string
	ToolName string
}

// ToolInvocationArgumentChunk carries a fragment of the JSON argument text of
// the currently open invocation. Fragments are not valid JSON on their own.
type ToolInvocationArgumentChunk struct {
	RawChunk string
}

// ToolInvocationEnd closes the currently open invocation block.
type ToolInvocationEnd struct{}

func (TextFragment) modelEvent()                {}
func (ToolInvocationStart) modelEvent()         {}
func (ToolInvocationArgumentChunk) modelEvent() {}
func (ToolInvocationEnd) modelEvent()           {}

// ModelStream is a pull-based, single-consumer stream of model events.
// Next returns io.EOF once the stream has ended normally.
type ModelStream interface {
	Next(ctx context.Context) (ModelEvent, error)
	Close() error
}

// ModelEventSource opens a model stream for one chat turn.
type ModelEventSource interface {
	Name() string
	Stream(ctx context.Context, req ChatRequest) (ModelStream, error)
}
