package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/zuvachat/internal/adapter/chatapi"
	"github.com/xiaot623/zuvachat/internal/domain"
	"github.com/xiaot623/zuvachat/internal/policy"
	"github.com/xiaot623/zuvachat/internal/stream"
	"github.com/xiaot623/zuvachat/internal/testutil"
)

type fakeChatClient struct {
	body     io.Reader
	err      error
	requests []*chatapi.Request
}

func (f *fakeChatClient) Open(_ context.Context, req *chatapi.Request) (*stream.Stream, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return stream.New(io.NopCloser(f.body), stream.WithErrorMapper(chatapi.Classify)), nil
}

type brokenReader struct {
	data string
	err  error
}

func (r *brokenReader) Read(p []byte) (int, error) {
	if r.data == "" {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func ndjson(lines ...string) io.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

func newTestService(t *testing.T, client chatapi.ChatClient) *Service {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	return New(testutil.NewTestSQLiteStore(t), client, engine, zerolog.Nop())
}

type recorder struct {
	texts       []string
	diagnostics int
}

func (r *recorder) record(_ string, f stream.Fragment) error {
	r.texts = append(r.texts, f.Text)
	if f.Diagnostic {
		r.diagnostics++
	}
	return nil
}

var validAsk = domain.AskRequest{Question: "hello", ThreadID: "thread_1"}

func TestAskCompletedWithContent(t *testing.T) {
	client := &fakeChatClient{body: ndjson(`{"chunk":"Hello, "}`, `{"chunk":"world"}`, `{"done":true}`)}
	svc := newTestService(t, client)
	rec := &recorder{}

	exchange, err := svc.Ask(context.Background(), validAsk, rec.record)
	require.NoError(t, err)

	assert.Equal(t, domain.ExchangeStatusCompleted, exchange.Status)
	assert.Equal(t, domain.SummaryCompleted, exchange.Summary())
	assert.Equal(t, []string{"Hello, ", "world"}, rec.texts)
	assert.Equal(t, "Hello, world", exchange.ResponseText)
	require.Len(t, client.requests, 1)
	assert.Equal(t, "hello", client.requests[0].Question)
	assert.Equal(t, "thread_1", client.requests[0].ThreadID)

	stored, err := svc.GetExchange(context.Background(), exchange.ExchangeID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeStatusCompleted, stored.Status)
	assert.Equal(t, "Hello, world", stored.ResponseText)
}

func TestAskCompletedWithoutContent(t *testing.T) {
	svc := newTestService(t, &fakeChatClient{body: ndjson(`{"done":true}`)})
	rec := &recorder{}

	exchange, err := svc.Ask(context.Background(), validAsk, rec.record)
	require.NoError(t, err)

	assert.Equal(t, domain.ExchangeStatusCompletedEmpty, exchange.Status)
	assert.Equal(t, domain.SummaryCompletedEmpty, exchange.Summary())
	assert.Empty(t, rec.texts)
}

func TestAskMalformedLineContinues(t *testing.T) {
	svc := newTestService(t, &fakeChatClient{body: ndjson(`{"chunk":"a"}`, `garbage`, `{"chunk":"b"}`, `{"done":true}`)})
	rec := &recorder{}

	exchange, err := svc.Ask(context.Background(), validAsk, rec.record)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", stream.DiagnosticFor("garbage"), "b"}, rec.texts)
	assert.Equal(t, 1, rec.diagnostics)
	assert.Equal(t, domain.ExchangeStatusCompleted, exchange.Status)
	assert.Equal(t, 1, exchange.DiagnosticCount)
	assert.Equal(t, 3, exchange.FragmentCount)
}

func TestAskConnectTimeoutYieldsNoFragments(t *testing.T) {
	client := &fakeChatClient{err: &chatapi.TransportError{
		Kind: domain.FailureKindTimeout,
		Err:  errors.New("dial tcp: i/o timeout"),
	}}
	svc := newTestService(t, client)
	rec := &recorder{}

	exchange, err := svc.Ask(context.Background(), validAsk, rec.record)
	require.NoError(t, err)

	assert.Empty(t, rec.texts)
	assert.Equal(t, domain.ExchangeStatusFailed, exchange.Status)
	assert.Equal(t, domain.FailureKindTimeout, exchange.FailureKind)
	assert.Equal(t, "Timeout error occurred: dial tcp: i/o timeout", exchange.Summary())
	assert.Equal(t, []string{"Timeout error occurred: dial tcp: i/o timeout"}, exchange.ExportLines())
}

func TestAskMidStreamFailureDropsPartialText(t *testing.T) {
	body := &brokenReader{data: "{\"chunk\":\"partial\"}\n", err: io.ErrUnexpectedEOF}
	svc := newTestService(t, &fakeChatClient{body: body})
	rec := &recorder{}

	exchange, err := svc.Ask(context.Background(), validAsk, rec.record)
	require.NoError(t, err)

	assert.Equal(t, []string{"partial"}, rec.texts)
	assert.Equal(t, domain.ExchangeStatusFailed, exchange.Status)
	assert.Equal(t, domain.FailureKindConnection, exchange.FailureKind)
	assert.Empty(t, exchange.ResponseText)
}

func TestAskCallbackErrorIsUnexpected(t *testing.T) {
	svc := newTestService(t, &fakeChatClient{body: ndjson(`{"chunk":"a"}`, `{"chunk":"b"}`, `{"done":true}`)})

	calls := 0
	exchange, err := svc.Ask(context.Background(), validAsk, func(string, stream.Fragment) error {
		calls++
		return errors.New("client went away")
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, domain.ExchangeStatusFailed, exchange.Status)
	assert.Equal(t, domain.FailureKindUnexpected, exchange.FailureKind)
	assert.Equal(t, "Unexpected error occurred: client went away", exchange.FailureMessage)
}

func TestAskCallbackPanicIsRecovered(t *testing.T) {
	svc := newTestService(t, &fakeChatClient{body: ndjson(`{"chunk":"a"}`, `{"done":true}`)})

	exchange, err := svc.Ask(context.Background(), validAsk, func(string, stream.Fragment) error {
		panic("boom")
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ExchangeStatusFailed, exchange.Status)
	assert.Equal(t, domain.FailureKindUnexpected, exchange.FailureKind)
	assert.Equal(t, "Unexpected error occurred: boom", exchange.FailureMessage)

	stored, err := svc.GetExchange(context.Background(), exchange.ExchangeID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeStatusFailed, stored.Status)
}

func TestAskRejectsInvalidRequest(t *testing.T) {
	client := &fakeChatClient{body: ndjson(`{"done":true}`)}
	svc := newTestService(t, client)

	exchange, err := svc.Ask(context.Background(), domain.AskRequest{Question: " "}, nil)
	assert.Nil(t, exchange)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"question is required", "thread_id is required"}, verr.Reasons)
	assert.Empty(t, client.requests)
}
