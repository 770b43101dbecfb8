package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/zuvachat/internal/adapter/chatapi"
	"github.com/xiaot623/zuvachat/internal/config"
	"github.com/xiaot623/zuvachat/internal/hub"
	"github.com/xiaot623/zuvachat/internal/policy"
	"github.com/xiaot623/zuvachat/internal/protocol"
	"github.com/xiaot623/zuvachat/internal/service"
	"github.com/xiaot623/zuvachat/internal/stream"
	"github.com/xiaot623/zuvachat/internal/testutil"
)

// gatedChatClient streams body once release is closed.
type gatedChatClient struct {
	body    string
	release chan struct{}
}

func (g *gatedChatClient) Open(ctx context.Context, _ *chatapi.Request) (*stream.Stream, error) {
	pr, pw := io.Pipe()
	go func() {
		select {
		case <-g.release:
			_, _ = io.Copy(pw, strings.NewReader(g.body))
			pw.Close()
		case <-ctx.Done():
			pw.CloseWithError(chatapi.Classify(ctx.Err()))
		}
	}()
	return stream.New(pr, stream.WithErrorMapper(chatapi.Classify)), nil
}

func newTestServer(t *testing.T, client chatapi.ChatClient) string {
	t.Helper()
	cfg := &config.Config{
		PingInterval:   time.Second,
		WriteTimeout:   time.Second,
		ReadTimeout:    5 * time.Second,
		MaxMessageSize: 65536,
	}

	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	svc := service.New(testutil.NewTestSQLiteStore(t), client, policyEngine, zerolog.Nop())

	h := hub.NewHub(cfg.WriteTimeout, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	e := echo.New()
	NewServer(cfg, h, svc, zerolog.Nop()).RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func hello(t *testing.T, conn *websocket.Conn, threadID string) {
	t.Helper()
	send(t, conn, map[string]string{"type": protocol.TypeHello, "thread_id": threadID})
	ack := read(t, conn)
	require.Equal(t, protocol.TypeHelloAck, ack["type"])
	require.Equal(t, threadID, ack["thread_id"])
}

func TestAskStreamsToAllThreadConnections(t *testing.T) {
	client := &gatedChatClient{
		body:    "{\"chunk\":\"Hello \"}\n{oops\n{\"chunk\":\"there\"}\n{\"done\":true}\n",
		release: make(chan struct{}),
	}
	url := newTestServer(t, client)

	asker := dial(t, url)
	watcher := dial(t, url)
	hello(t, asker, "thread_1")
	hello(t, watcher, "thread_1")

	send(t, asker, map[string]string{"type": protocol.TypeAsk, "question": "hi", "request_id": "req_1"})
	close(client.release)

	for _, conn := range []*websocket.Conn{asker, watcher} {
		var types []string
		var texts []string
		var done map[string]any
		for done == nil {
			msg := read(t, conn)
			types = append(types, msg["type"].(string))
			switch msg["type"] {
			case protocol.TypeDelta:
				texts = append(texts, msg["text"].(string))
			case protocol.TypeDone:
				done = msg
			}
		}
		assert.Equal(t, []string{
			protocol.TypeAccepted,
			protocol.TypeDelta,
			protocol.TypeDelta,
			protocol.TypeWarning,
			protocol.TypeDelta,
			protocol.TypeDone,
		}, types)
		assert.Equal(t, []string{"Hello ", stream.DiagnosticFor("{oops"), "there"}, texts)
		assert.Equal(t, "completed", done["status"])
		assert.Equal(t, "Streaming completed.", done["message"])
		assert.Equal(t, "req_1", done["request_id"])
		assert.NotEmpty(t, done["exchange_id"])
	}
}

func TestAskDeliversLongAnswerInFull(t *testing.T) {
	const chunks = 5000
	body := strings.Repeat("{\"chunk\":\"x\"}\n", chunks) + "{\"done\":true}\n"
	client := &gatedChatClient{body: body, release: make(chan struct{})}
	url := newTestServer(t, client)

	conn := dial(t, url)
	hello(t, conn, "thread_long")

	send(t, conn, map[string]string{"type": protocol.TypeAsk, "question": "long", "request_id": "req_long"})
	assert.Equal(t, protocol.TypeAccepted, read(t, conn)["type"])
	close(client.release)

	deltas := 0
	var done map[string]any
	for done == nil {
		msg := read(t, conn)
		switch msg["type"] {
		case protocol.TypeDelta:
			deltas++
		case protocol.TypeDone:
			done = msg
		default:
			t.Fatalf("unexpected message: %v", msg)
		}
	}
	assert.Equal(t, chunks, deltas)
	assert.Equal(t, "completed", done["status"])
	assert.EqualValues(t, chunks, done["fragment_count"])
}

func TestSecondAskWhileBusy(t *testing.T) {
	client := &gatedChatClient{body: "{\"done\":true}\n", release: make(chan struct{})}
	url := newTestServer(t, client)

	conn := dial(t, url)
	hello(t, conn, "thread_busy")

	send(t, conn, map[string]string{"type": protocol.TypeAsk, "question": "first"})
	assert.Equal(t, protocol.TypeAccepted, read(t, conn)["type"])

	send(t, conn, map[string]string{"type": protocol.TypeAsk, "question": "second", "request_id": "req_2"})
	msg := read(t, conn)
	assert.Equal(t, protocol.TypeError, msg["type"])
	assert.Equal(t, protocol.ErrorCodeBusy, msg["code"])
	assert.Equal(t, "req_2", msg["request_id"])

	close(client.release)
	done := read(t, conn)
	assert.Equal(t, protocol.TypeDone, done["type"])
	assert.Equal(t, "completed_empty", done["status"])
	assert.Equal(t, "Streaming completed, but there was no data to display.", done["message"])
}

func TestCancelAbandonsAsk(t *testing.T) {
	client := &gatedChatClient{body: "{\"done\":true}\n", release: make(chan struct{})}
	url := newTestServer(t, client)

	conn := dial(t, url)
	hello(t, conn, "thread_cancel")

	send(t, conn, map[string]string{"type": protocol.TypeAsk, "question": "slow"})
	assert.Equal(t, protocol.TypeAccepted, read(t, conn)["type"])

	send(t, conn, map[string]string{"type": protocol.TypeCancel})
	done := read(t, conn)
	assert.Equal(t, protocol.TypeDone, done["type"])
	assert.Equal(t, "failed", done["status"])
	assert.Equal(t, "request", done["failure_kind"])
}

func TestAskRequiresHello(t *testing.T) {
	url := newTestServer(t, &gatedChatClient{release: make(chan struct{})})

	conn := dial(t, url)
	send(t, conn, map[string]string{"type": protocol.TypeAsk, "question": "hi"})

	msg := read(t, conn)
	assert.Equal(t, protocol.TypeError, msg["type"])
	assert.Equal(t, protocol.ErrorCodeThreadRequired, msg["code"])
}

func TestUnknownMessageType(t *testing.T) {
	url := newTestServer(t, &gatedChatClient{release: make(chan struct{})})

	conn := dial(t, url)
	send(t, conn, map[string]string{"type": "nope"})

	msg := read(t, conn)
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, msg["code"])
}
