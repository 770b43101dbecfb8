package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xiaot623/zuvachat/internal/domain"
	"github.com/xiaot623/zuvachat/internal/stream"
)

const scopeName = "github.com/xiaot623/zuvachat/internal/adapter/chatapi"

var tracer = otel.Tracer(scopeName)

// maxErrorBody caps how much of a non-2xx body is kept for the error message.
const maxErrorBody = 64 * 1024

// Client is the streaming chat API client.
type Client struct {
	url          string
	httpClient   *http.Client
	readTimeout  time.Duration
	maxLineBytes int
	logger       zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxLineBytes sets the largest response line accepted by the stream decoder.
func WithMaxLineBytes(n int) ClientOption {
	return func(c *Client) {
		c.maxLineBytes = n
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a chat API client. connectTimeout bounds dialing and the TLS
// handshake; readTimeout bounds the wait for response headers and every read of
// the streamed body.
func NewClient(url string, connectTimeout, readTimeout time.Duration, opts ...ClientOption) *Client {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}

	c := &Client{
		url: url,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(transport,
				otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
					return operation + " " + r.URL.Path
				}),
			),
		},
		readTimeout:  readTimeout,
		maxLineBytes: stream.DefaultMaxLineSize,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open posts the question and returns the streamed answer. The returned stream
// owns the response body; the caller must drain or Close it.
func (c *Client) Open(ctx context.Context, req *Request) (*stream.Stream, error) {
	ctx, span := tracer.Start(ctx, "chatapi.Open")
	defer span.End()
	span.SetAttributes(attribute.String("chat.thread_id", req.ThreadID))

	body, err := json.Marshal(req)
	if err != nil {
		return nil, c.fail(span, &TransportError{Kind: domain.FailureKindRequest, Err: fmt.Errorf("failed to marshal request: %w", err)})
	}

	reqCtx, cancel := context.WithCancelCause(ctx)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		cancel(nil)
		return nil, c.fail(span, &TransportError{Kind: domain.FailureKindRequest, Err: fmt.Errorf("failed to create request: %w", err)})
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel(nil)
		return nil, c.fail(span, Classify(err))
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel(nil)
		te := &TransportError{
			Kind:       domain.FailureKindHTTPStatus,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        c.url,
			Body:       string(respBody),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
		if readErr != nil {
			te.Body = fmt.Sprintf("failed to read error response: %v", readErr)
		}
		return nil, c.fail(span, te)
	}

	c.logger.Debug().
		Str("thread_id", req.ThreadID).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("chat stream opened")

	streamBody := newIdleTimeoutBody(reqCtx, resp.Body, c.readTimeout, cancel)
	return stream.New(streamBody,
		stream.WithMaxLineSize(c.maxLineBytes),
		stream.WithErrorMapper(Classify),
	), nil
}

func (c *Client) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.logger.Warn().Err(err).Str("kind", string(KindOf(err))).Msg("chat request failed")
	return err
}

// idleTimeoutBody fails a read that waits longer than timeout for data.
type idleTimeoutBody struct {
	body    io.ReadCloser
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelCauseFunc
	timer   *time.Timer
	fired   atomic.Bool
	closed  atomic.Bool
}

func newIdleTimeoutBody(ctx context.Context, body io.ReadCloser, timeout time.Duration, cancel context.CancelCauseFunc) *idleTimeoutBody {
	return &idleTimeoutBody{
		body:    body,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	if b.timeout > 0 {
		if b.timer == nil {
			b.timer = time.AfterFunc(b.timeout, b.expire)
		} else {
			b.timer.Reset(b.timeout)
		}
	}

	n, err := b.body.Read(p)

	if b.timer != nil {
		b.timer.Stop()
	}
	if err != nil && err != io.EOF && b.fired.Load() {
		return n, fmt.Errorf("%w after %s", ErrReadTimeout, b.timeout)
	}
	if err != nil && err != io.EOF && b.ctx.Err() != nil {
		if cause := context.Cause(b.ctx); cause != nil {
			return n, cause
		}
	}
	return n, err
}

func (b *idleTimeoutBody) expire() {
	b.fired.Store(true)
	b.cancel(ErrReadTimeout)
}

func (b *idleTimeoutBody) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.body.Close()
	b.cancel(nil)
	return err
}
