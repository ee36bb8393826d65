package chatclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"pokedex-ai/internal/adapter/wire"
	"pokedex-ai/internal/domain"
)

// Stats summarizes one consumed stream.
type Stats struct {
	Events  int // content events decoded, including empty ones
	Skipped int // units that failed to decode
	Done    bool
}

// Reassembler folds a wire stream into one assistant message.
type Reassembler struct {
	transcript *Transcript
	logger     *slog.Logger
}

// NewReassembler creates a reassembler writing into t.
func NewReassembler(t *Transcript, logger *slog.Logger) *Reassembler {
	return &Reassembler{transcript: t, logger: logger}
}

// Consume reads r until the end sentinel and appends every non-empty content
// event to message id, in arrival order. Malformed units are skipped. The
// message is finalized on the sentinel; a read failure, or a stream that ends
// without the sentinel, is returned and leaves the message open.
func (r *Reassembler) Consume(ctx context.Context, id string, body io.Reader) (Stats, error) {
	var stats Stats
	dec := wire.NewDecoder(body)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		ev, err := dec.Next()
		switch {
		case errors.Is(err, domain.ErrMalformedEvent):
			stats.Skipped++
			r.logger.Debug("chatclient: skipping malformed event", "error", err)
			continue
		case errors.Is(err, io.EOF):
			if stats.Done {
				return stats, nil
			}
			return stats, fmt.Errorf("stream ended without %s: %w", domain.DoneSentinel, io.ErrUnexpectedEOF)
		case err != nil:
			return stats, fmt.Errorf("read stream: %w", err)
		}

		if ev.Done {
			stats.Done = true
			r.transcript.Finalize(id)
			continue
		}
		stats.Events++
		if ev.Content == "" {
			continue
		}
		r.transcript.AppendContent(id, ev.Content)
	}
}
