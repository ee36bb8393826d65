// Package chatclient is the client side of the chat relay: it posts a user
// message, decodes the event stream and grows an assistant message in a
// Transcript as content arrives.
package chatclient

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"pokedex-ai/internal/domain"
)

// TerminalErrorText is appended as its own message when a request fails.
const TerminalErrorText = "Sorry, I encountered an error. Please try again."

// Transcript is an ordered, append-only list of chat messages. An assistant
// message only grows until it is finalized. Safe for concurrent use.
type Transcript struct {
	mu       sync.Mutex
	messages []domain.Message
	index    map[string]int
	entropy  io.Reader
	now      func() time.Time
	onUpdate func(domain.Message)
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{
		index:   make(map[string]int),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		now:     time.Now,
	}
}

// OnUpdate registers fn to be called with a copy of every message that is
// added or changed, once per change. fn runs on the mutating goroutine and
// must not call back into the transcript.
func (t *Transcript) OnUpdate(fn func(domain.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUpdate = fn
}

// AppendUser records a user message.
func (t *Transcript) AppendUser(content string) domain.Message {
	return t.add(domain.Message{Role: domain.RoleUser, Content: content, Final: true})
}

// BeginAssistant opens an empty assistant message and returns its ID.
func (t *Transcript) BeginAssistant() string {
	return t.add(domain.Message{Role: domain.RoleAssistant}).ID
}

// AppendError records a standalone, final assistant message.
func (t *Transcript) AppendError(content string) domain.Message {
	return t.add(domain.Message{Role: domain.RoleAssistant, Content: content, Final: true})
}

// AppendContent grows the open message id by text. It reports false when the
// message is unknown or already final.
func (t *Transcript) AppendContent(id, text string) bool {
	t.mu.Lock()
	i, ok := t.index[id]
	if !ok || t.messages[i].Final {
		t.mu.Unlock()
		return false
	}
	t.messages[i].Content += text
	msg, fn := t.messages[i], t.onUpdate
	t.mu.Unlock()

	if fn != nil {
		fn(msg)
	}
	return true
}

// Finalize freezes message id. Finalizing twice is a no-op.
func (t *Transcript) Finalize(id string) {
	t.mu.Lock()
	i, ok := t.index[id]
	if !ok || t.messages[i].Final {
		t.mu.Unlock()
		return
	}
	t.messages[i].Final = true
	msg, fn := t.messages[i], t.onUpdate
	t.mu.Unlock()

	if fn != nil {
		fn(msg)
	}
}

// Get returns the message with the given ID.
func (t *Transcript) Get(id string) (domain.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok {
		return domain.Message{}, false
	}
	return t.messages[i], true
}

// Messages returns a snapshot of the transcript in order.
func (t *Transcript) Messages() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Message(nil), t.messages...)
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *Transcript) add(msg domain.Message) domain.Message {
	t.mu.Lock()
	now := t.now()
	msg.ID = ulid.MustNew(ulid.Timestamp(now), t.entropy).String()
	msg.Timestamp = now
	t.index[msg.ID] = len(t.messages)
	t.messages = append(t.messages, msg)
	fn := t.onUpdate
	t.mu.Unlock()

	if fn != nil {
		fn(msg)
	}
	return msg
}
