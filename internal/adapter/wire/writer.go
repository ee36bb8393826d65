package wire

import (
	"errors"
	"io"
	"net/http"
	"sync"

	"pokedex-ai/internal/domain"
)

// ErrClosed is returned by Send once the Done event has been written.
var ErrClosed = errors.New("wire stream already terminated")

// Writer encodes wire events onto an underlying writer, flushing after every
// event when the writer supports it. Safe for concurrent use, though the relay
// only ever has one sender per connection.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	done    bool
	sent    int
}

// NewWriter wraps w. If w implements http.Flusher every event is flushed
// immediately so clients see it without buffering delay.
func NewWriter(w io.Writer) *Writer {
	wr := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		wr.flusher = f
	}
	return wr
}

// Send writes ev. After a Done event the stream is append-closed.
func (w *Writer) Send(ev domain.WireEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return ErrClosed
	}
	b, err := Encode(ev)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return domain.WrapOp("wire.Send", err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	w.sent++
	if ev.Done {
		w.done = true
	}
	return nil
}

// Sent reports how many events have been written.
func (w *Writer) Sent() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sent
}

// Terminated reports whether the Done event has been written.
func (w *Writer) Terminated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}
