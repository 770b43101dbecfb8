package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// DefaultMaxLineSize bounds a single line of the response body.
const DefaultMaxLineSize = 1 << 20

// ErrStreamClosed is returned by Err when the stream was closed before it finished.
var ErrStreamClosed = errors.New("stream closed")

// State is the lifecycle position of a Stream.
type State int

const (
	StateNew       State = iota // Next has not been called.
	StateStreaming              // At least one fragment may have been produced.
	StateDone                   // A done event was received.
	StateEnded                  // The body ended without a done event.
	StateFailed                 // Reading the body failed; see Err.
	StateClosed                 // Close was called before a terminal state.
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further fragments can be produced.
func (s State) Terminal() bool {
	return s >= StateDone
}

// Fragment is one item of the produced sequence.
type Fragment struct {
	Text string
	// Diagnostic is set for notices standing in for malformed lines.
	Diagnostic bool
}

// Option configures a Stream.
type Option func(*Stream)

// WithMaxLineSize sets the largest line the stream accepts.
func WithMaxLineSize(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.maxLineSize = n
		}
	}
}

// WithErrorMapper converts body read failures before they are reported by Err.
func WithErrorMapper(fn func(error) error) Option {
	return func(s *Stream) {
		s.mapErr = fn
	}
}

// Stream is a pull iterator over the fragments of one response body.
// It is not restartable and must be used from a single goroutine.
//
//	for s.Next() {
//		render(s.Current().Text)
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	body        io.ReadCloser
	scanner     *bufio.Scanner
	acc         *Accumulator
	current     Fragment
	state       State
	err         error
	maxLineSize int
	mapErr      func(error) error
	closed      bool
}

// New wraps a response body. The stream owns body and closes it once a
// terminal state is reached.
func New(body io.ReadCloser, opts ...Option) *Stream {
	s := &Stream{
		body:        body,
		acc:         NewAccumulator(),
		maxLineSize: DefaultMaxLineSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.scanner = bufio.NewScanner(body)
	initial := 64 * 1024
	if initial > s.maxLineSize {
		initial = s.maxLineSize
	}
	s.scanner.Buffer(make([]byte, 0, initial), s.maxLineSize)
	return s
}

// FromReader wraps a plain reader.
func FromReader(r io.Reader, opts ...Option) *Stream {
	return New(io.NopCloser(r), opts...)
}

// Next advances to the next fragment. It blocks until a line arrives and
// returns false once the stream is exhausted, stopped by a done event, or failed.
func (s *Stream) Next() bool {
	if s.state.Terminal() {
		return false
	}
	s.state = StateStreaming

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		switch ev := ParseLine(line).(type) {
		case Chunk:
			s.emit(Fragment{Text: ev.Text})
			return true
		case Malformed:
			s.emit(Fragment{Text: DiagnosticFor(ev.Raw), Diagnostic: true})
			return true
		case Done:
			s.finish(StateDone, nil)
			return false
		}
	}

	if err := s.scanner.Err(); err != nil {
		if s.mapErr != nil {
			err = s.mapErr(err)
		}
		s.finish(StateFailed, err)
		return false
	}

	s.finish(StateEnded, nil)
	return false
}

func (s *Stream) emit(f Fragment) {
	s.current = f
	s.acc.append(f)
}

func (s *Stream) finish(state State, err error) {
	s.state = state
	s.err = err
	s.current = Fragment{}
	s.closeBody()
}

func (s *Stream) closeBody() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// Current returns the fragment produced by the last successful Next.
func (s *Stream) Current() Fragment {
	return s.current
}

// Err returns the read failure that ended the stream, if any. A stream closed
// early reports ErrStreamClosed.
func (s *Stream) Err() error {
	return s.err
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	return s.state
}

// Accumulator returns the fragments emitted so far.
func (s *Stream) Accumulator() *Accumulator {
	return s.acc
}

// Close abandons the stream and releases the body. It is safe to call more than once.
func (s *Stream) Close() error {
	if !s.state.Terminal() {
		s.state = StateClosed
		s.err = ErrStreamClosed
		s.current = Fragment{}
	}
	return s.closeBody()
}

// Collect drains the stream and returns the produced fragment texts.
func (s *Stream) Collect() ([]string, error) {
	var out []string
	for s.Next() {
		out = append(out, s.Current().Text)
	}
	return out, s.Err()
}
