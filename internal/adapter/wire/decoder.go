package wire

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"pokedex-ai/internal/domain"
)

// Decoder reads wire events from a byte stream. Bytes may arrive in arbitrary
// chunks; a line is only parsed once its terminating newline has been read.
type Decoder struct {
	r    *bufio.Reader
	done bool
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next wire event.
//
// A unit that fails to decode yields an error wrapping domain.ErrMalformedEvent;
// the caller may keep calling Next. io.EOF is returned after the Done event or
// when the stream ends. Any other error comes from the underlying reader.
func (d *Decoder) Next() (domain.WireEvent, error) {
	if d.done {
		return domain.WireEvent{}, io.EOF
	}
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return domain.WireEvent{}, err
		}
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return domain.WireEvent{}, io.EOF
		}

		line = bytes.TrimRight(line, "\r\n")
		data, ok := dataPayload(line)
		if !ok {
			if errors.Is(err, io.EOF) {
				return domain.WireEvent{}, io.EOF
			}
			continue
		}

		ev, perr := parseData(data)
		if perr != nil {
			return domain.WireEvent{}, perr
		}
		if ev.Done {
			d.done = true
		}
		return ev, nil
	}
}

// dataPayload extracts the payload of a "data:" line. Blank separator lines,
// comments and other SSE fields are reported as not-data.
func dataPayload(line []byte) ([]byte, bool) {
	if len(line) == 0 || line[0] == ':' {
		return nil, false
	}
	rest, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return nil, false
	}
	return bytes.TrimPrefix(rest, []byte(" ")), true
}
