package stream

import "strings"

// Accumulator collects every emitted fragment in emission order.
// It has a single writer (the Stream) and is read once the stream has finished.
type Accumulator struct {
	fragments   []string
	diagnostics int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

func (a *Accumulator) append(f Fragment) {
	a.fragments = append(a.fragments, f.Text)
	if f.Diagnostic {
		a.diagnostics++
	}
}

// Fragments returns a copy of the collected fragments.
func (a *Accumulator) Fragments() []string {
	out := make([]string, len(a.fragments))
	copy(out, a.fragments)
	return out
}

// Text returns the concatenation of all fragments.
func (a *Accumulator) Text() string {
	return strings.Join(a.fragments, "")
}

// Len returns the number of fragments, diagnostics included.
func (a *Accumulator) Len() int {
	return len(a.fragments)
}

// Diagnostics returns how many fragments were malformed-line notices.
func (a *Accumulator) Diagnostics() int {
	return a.diagnostics
}

// Empty reports whether the concatenated text is empty.
func (a *Accumulator) Empty() bool {
	for _, f := range a.fragments {
		if f != "" {
			return false
		}
	}
	return true
}

// Lines splits the accumulated text into export rows.
func (a *Accumulator) Lines() []string {
	return SplitLines(a.Text())
}

// SplitLines breaks text on \n, \r\n and \r. A trailing line break does not
// produce an empty final row, and empty input yields no rows.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}
