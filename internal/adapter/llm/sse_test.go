package llm

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFrames(t *testing.T, r io.Reader) []sseFrame {
	t.Helper()
	sr := newSSEReader(r)
	var frames []sseFrame
	for {
		f, err := sr.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func TestSSEReader_EventAndData(t *testing.T) {
	raw := "event: ping\ndata: {\"type\":\"ping\"}\n\n" +
		": keep-alive\n\n" +
		"event: content_block_delta\r\ndata: {\"a\":1}\r\n\r\n"
	frames := readFrames(t, strings.NewReader(raw))

	require.Len(t, frames, 2)
	assert.Equal(t, "ping", frames[0].Event)
	assert.Equal(t, `{"type":"ping"}`, string(frames[0].Data))
	assert.Equal(t, "content_block_delta", frames[1].Event)
	assert.Equal(t, `{"a":1}`, string(frames[1].Data))
}

func TestSSEReader_MultiLineDataAndTrailingFrame(t *testing.T) {
	raw := "data: first\ndata: second\n\nevent: x\ndata:tail"
	frames := readFrames(t, strings.NewReader(raw))

	require.Len(t, frames, 2)
	assert.Equal(t, "first\nsecond", string(frames[0].Data))
	assert.Equal(t, "x", frames[1].Event)
	assert.Equal(t, "tail", string(frames[1].Data))
}

func TestSSEReader_EventWithoutDataIsDropped(t *testing.T) {
	frames := readFrames(t, strings.NewReader("event: lonely\n\ndata: kept\n\n"))
	require.Len(t, frames, 1)
	assert.Empty(t, frames[0].Event)
}

func TestSSEReader_ChunkBoundaries(t *testing.T) {
	raw := "event: a\ndata: " + strings.Repeat("x", 70000) + "\n\n"
	frames := readFrames(t, iotest.OneByteReader(strings.NewReader(raw)))
	require.Len(t, frames, 1)
	assert.Len(t, frames[0].Data, 70000)
}

func TestSSEReader_ReadError(t *testing.T) {
	sr := newSSEReader(iotest.ErrReader(errors.New("connection reset")))
	_, err := sr.Next()
	assert.EqualError(t, err, "connection reset")
}
