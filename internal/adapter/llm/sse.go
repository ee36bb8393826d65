package llm

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// sseFrame is one dispatched server-sent event.
type sseFrame struct {
	Event string
	Data  []byte
}

// sseReader assembles "event:"/"data:" lines into frames. Unlike a
// bufio.Scanner it has no line-length limit, which matters for large
// tool_use argument deltas.
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{r: bufio.NewReaderSize(r, 16*1024)}
}

// Next returns the next frame that carried data. io.EOF is returned at a clean
// end of input; a partial frame at EOF is dispatched first.
func (s *sseReader) Next() (sseFrame, error) {
	var (
		frame   sseFrame
		data    [][]byte
		hasData bool
	)
	for {
		line, err := s.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return sseFrame{}, err
		}
		atEOF := err != nil
		line = bytes.TrimRight(line, "\r\n")

		switch {
		case len(line) == 0:
			if hasData {
				frame.Data = bytes.Join(data, []byte("\n"))
				return frame, nil
			}
			frame = sseFrame{}
		case line[0] == ':':
			// comment / keep-alive
		default:
			field, value, _ := bytes.Cut(line, []byte(":"))
			value = bytes.TrimPrefix(value, []byte(" "))
			switch string(field) {
			case "event":
				frame.Event = string(value)
			case "data":
				data = append(data, append([]byte(nil), value...))
				hasData = true
			}
		}

		if atEOF {
			if hasData {
				frame.Data = bytes.Join(data, []byte("\n"))
				return frame, nil
			}
			return sseFrame{}, io.EOF
		}
	}
}
