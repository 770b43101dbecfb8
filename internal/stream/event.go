// Package stream decodes the newline-delimited JSON event stream returned by the
// chat API into display-ready text fragments.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event is one parsed line of the response body.
// The unexported marker method keeps the set of events closed.
type Event interface {
	event()
}

// Chunk carries a fragment of response text.
type Chunk struct {
	Text string
}

func (Chunk) event() {}

// Done marks the end of the response. Nothing after it is read.
type Done struct{}

func (Done) event() {}

// Malformed is a line that could not be decoded as a JSON object.
type Malformed struct {
	Raw string
}

func (Malformed) event() {}

// Ignored is a well-formed object that carries neither a chunk nor a done marker.
type Ignored struct{}

func (Ignored) event() {}

var (
	_ Event = Chunk{}
	_ Event = Done{}
	_ Event = Malformed{}
	_ Event = Ignored{}
)

// wireEvent mirrors the two line shapes the chat API sends:
// {"chunk": "<string>"} and {"done": true}.
type wireEvent struct {
	Chunk json.RawMessage `json:"chunk"`
	Done  json.RawMessage `json:"done"`
}

var jsonNull = []byte("null")

// ParseLine decodes a single non-empty line. A chunk field takes precedence over
// a done field on the same line.
func ParseLine(line string) Event {
	raw := bytes.TrimSpace([]byte(line))
	if len(raw) == 0 || raw[0] != '{' {
		return Malformed{Raw: line}
	}

	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Malformed{Raw: line}
	}

	if w.Chunk != nil && !bytes.Equal(w.Chunk, jsonNull) {
		var text string
		if err := json.Unmarshal(w.Chunk, &text); err != nil {
			// Non-string chunk values are shown as their JSON text.
			return Chunk{Text: string(w.Chunk)}
		}
		return Chunk{Text: text}
	}

	if bytes.Equal(w.Done, []byte("true")) {
		return Done{}
	}

	return Ignored{}
}

// DiagnosticFor renders the notice emitted in place of a malformed line.
func DiagnosticFor(raw string) string {
	return fmt.Sprintf("JSON decode error: skipped line: %s\n", raw)
}
