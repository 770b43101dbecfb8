package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xiaot623/zuvachat/internal/stream"
)

// MockClient serves a synthetic NDJSON answer through the regular stream decoder.
type MockClient struct {
	delay        time.Duration
	chunkSize    int
	maxLineBytes int
}

// NewMockClient creates a new mock chat client. delay is the pause between lines.
func NewMockClient(delay time.Duration) *MockClient {
	return &MockClient{
		delay:        delay,
		chunkSize:    12,
		maxLineBytes: stream.DefaultMaxLineSize,
	}
}

// Open returns a stream fed by a goroutine writing mock lines into a pipe.
func (m *MockClient) Open(ctx context.Context, req *Request) (*stream.Stream, error) {
	lines := m.lines(req)
	pr, pw := io.Pipe()

	go func() {
		for _, line := range lines {
			if m.delay > 0 {
				select {
				case <-ctx.Done():
					pw.CloseWithError(Classify(ctx.Err()))
					return
				case <-time.After(m.delay):
				}
			}
			if _, err := io.WriteString(pw, line+"\n"); err != nil {
				// Reader closed, usually after the done line.
				return
			}
		}
		pw.Close()
	}()

	return stream.New(pr,
		stream.WithMaxLineSize(m.maxLineBytes),
		stream.WithErrorMapper(Classify),
	), nil
}

// lines builds the wire lines for a mock answer.
func (m *MockClient) lines(req *Request) []string {
	answer := m.generateMockResponse(req)

	var out []string
	for i, chunk := range splitIntoChunks(answer, m.chunkSize) {
		data, _ := json.Marshal(map[string]string{"chunk": chunk})
		out = append(out, string(data))
		if i == 0 {
			// keep-alive
			out = append(out, "")
		}
	}
	if strings.Contains(strings.ToLower(req.Question), "malformed") {
		out = append(out, `{"chunk": "broken`)
	}
	out = append(out, `{"done": true}`)
	return out
}

func (m *MockClient) generateMockResponse(req *Request) string {
	if strings.TrimSpace(req.Question) == "" {
		return "[MOCK] This is a mock response from the chat client."
	}
	return fmt.Sprintf("[MOCK] Received your question on thread %s: %q.\nThis is a mock response.",
		req.ThreadID, truncate(req.Question, 100))
}

// splitIntoChunks splits a string into chunks of at most size bytes without
// cutting a multi-byte character.
func splitIntoChunks(s string, size int) []string {
	var chunks []string
	var b strings.Builder
	for _, r := range s {
		if b.Len() > 0 && b.Len()+len(string(r)) > size {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		b.WriteRune(r)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

// truncate truncates a string to at most maxLen runes.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
