// Package wire implements the relay-to-client event stream: each event is a
// single "data: <payload>" line followed by a blank line, where the payload is
// either {"content": "..."} or the literal [DONE] sentinel.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"pokedex-ai/internal/domain"
)

const dataPrefix = "data: "

type contentPayload struct {
	Content string `json:"content"`
}

// Encode serializes ev into its on-the-wire form, including the trailing
// blank line.
func Encode(ev domain.WireEvent) ([]byte, error) {
	if ev.Done {
		return []byte(dataPrefix + domain.DoneSentinel + "\n\n"), nil
	}
	payload, err := json.Marshal(contentPayload{Content: ev.Content})
	if err != nil {
		return nil, domain.WrapOp("wire.Encode", err)
	}
	buf := make([]byte, 0, len(dataPrefix)+len(payload)+2)
	buf = append(buf, dataPrefix...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	return buf, nil
}

// parseData decodes the payload of one data line.
func parseData(data []byte) (domain.WireEvent, error) {
	data = bytes.TrimSpace(data)
	if string(data) == domain.DoneSentinel {
		return domain.DoneEvent(), nil
	}
	var p contentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.WireEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	return domain.ContentEvent(p.Content), nil
}
