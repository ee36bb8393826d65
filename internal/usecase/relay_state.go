package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"pokedex-ai/internal/domain"
)

// RelayState is the lifecycle state of one relay instance.
type RelayState int

const (
	StateIdle RelayState = iota
	StateStreaming
	StateInToolInvocation
	StateDone
	StateFailed
)

func (s RelayState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateInToolInvocation:
		return "in_tool_invocation"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("relay_state(%d)", int(s))
	}
}

// Terminal reports whether no further events are accepted.
func (s RelayState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Effect is the work a transition asks the relay to perform. The set is
// closed: EmitText and InvokeTool. A nil Effect means nothing to do.
type Effect interface {
	effect()
}

// EmitText forwards Text to the client as one content event.
type EmitText struct {
	Text string
}

// InvokeTool executes Call synchronously and streams its result.
type InvokeTool struct {
	Call domain.ToolCall
}

func (EmitText) effect()   {}
func (InvokeTool) effect() {}

// errorAnnotation is the inline text shown in place of a tool result.
func errorAnnotation(err error) EmitText {
	return EmitText{Text: "\n\nError: " + err.Error()}
}

type pendingInvocation struct {
	id       string
	toolName string
	args     strings.Builder
	poisoned bool
}

// relayMachine is the pure transition function of the relay. It performs no
// I/O: Step returns the Effect to apply and, separately, a protocol anomaly
// worth logging. An anomaly never stops the machine.
type relayMachine struct {
	state   RelayState
	pending *pendingInvocation
}

func newRelayMachine() *relayMachine {
	return &relayMachine{state: StateIdle}
}

func (m *relayMachine) State() RelayState { return m.state }

// Open moves Idle to Streaming once the upstream stream is established.
func (m *relayMachine) Open() error {
	if m.state != StateIdle {
		return fmt.Errorf("%w: open in state %s", domain.ErrMalformedEvent, m.state)
	}
	m.state = StateStreaming
	return nil
}

// Finish marks upstream exhaustion. A still-open invocation is discarded.
func (m *relayMachine) Finish() {
	m.pending = nil
	m.state = StateDone
}

// Fail marks an unrecoverable upstream failure.
func (m *relayMachine) Fail() {
	m.pending = nil
	m.state = StateFailed
}

func (m *relayMachine) Step(ev domain.ModelEvent) (Effect, error) {
	if m.state != StateStreaming && m.state != StateInToolInvocation {
		return nil, fmt.Errorf("%w: %T in state %s", domain.ErrMalformedEvent, ev, m.state)
	}

	switch e := ev.(type) {
	case domain.TextFragment:
		return EmitText{Text: e.Text}, nil
	case domain.ToolInvocationStart:
		return m.start(e)
	case domain.ToolInvocationArgumentChunk:
		if m.state != StateInToolInvocation {
			return nil, fmt.Errorf("%w: argument chunk outside a tool invocation", domain.ErrMalformedEvent)
		}
		if !m.pending.poisoned {
			m.pending.args.WriteString(e.RawChunk)
		}
		return nil, nil
	case domain.ToolInvocationEnd:
		return m.end()
	default:
		return nil, fmt.Errorf("%w: unexpected event %T", domain.ErrMalformedEvent, ev)
	}
}

func (m *relayMachine) start(e domain.ToolInvocationStart) (Effect, error) {
	if m.state == StateInToolInvocation {
		if m.pending.poisoned {
			return nil, nil
		}
		m.pending.poisoned = true
		err := fmt.Errorf("%w: %q started while %q is pending",
			domain.ErrInvocationOverlap, e.ToolName, m.pending.toolName)
		return errorAnnotation(err), err
	}
	m.pending = &pendingInvocation{id: e.ID, toolName: e.ToolName}
	m.state = StateInToolInvocation
	return nil, nil
}

func (m *relayMachine) end() (Effect, error) {
	if m.state != StateInToolInvocation {
		return nil, fmt.Errorf("%w: invocation end outside a tool invocation", domain.ErrMalformedEvent)
	}
	p := m.pending
	m.pending = nil
	m.state = StateStreaming

	if p.poisoned {
		return nil, nil
	}
	raw := p.args.String()
	if raw == "" {
		return nil, fmt.Errorf("%w: tool %q ended with no arguments", domain.ErrMalformedEvent, p.toolName)
	}
	var probe any
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return errorAnnotation(err), nil
	}
	return InvokeTool{Call: domain.ToolCall{
		ID:        p.id,
		Name:      p.toolName,
		Arguments: json.RawMessage(raw),
	}}, nil
}
