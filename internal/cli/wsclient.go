package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/zuvachat/internal/protocol"
)

// wsClient talks to the zuvachat WebSocket endpoint.
type wsClient struct {
	conn     *websocket.Conn
	threadID string

	incoming chan []byte
	waiting  atomic.Bool // frames are only queued while a reply is awaited
	readErr  error       // set before incoming is closed
}

func dialWS(ctx context.Context, addr string) (*wsClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	c := &wsClient{conn: conn, incoming: make(chan []byte, 64)}
	go c.readMessages()
	return c, nil
}

// readMessages reads the socket for the client's whole life so server pings
// get their pong even while the user is still typing.
func (c *wsClient) readMessages() {
	defer close(c.incoming)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.readErr = err
			return
		}
		if c.waiting.Load() {
			c.incoming <- data
		}
	}
}

func (c *wsClient) next() ([]byte, error) {
	data, ok := <-c.incoming
	if !ok {
		return nil, c.readErr
	}
	return data, nil
}

func (c *wsClient) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// hello binds the connection to threadID and waits for hello_ack.
func (c *wsClient) hello(threadID string) error {
	msg := protocol.HelloMessage{
		BaseMessage: protocol.NewBase(protocol.TypeHello, threadID),
		ClientMeta: map[string]string{
			"client": "zuvachat-cli",
		},
	}
	c.waiting.Store(true)
	defer c.waiting.Store(false)
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}

	data, err := c.next()
	if err != nil {
		return fmt.Errorf("read hello_ack: %w", err)
	}

	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return fmt.Errorf("unmarshal hello_ack: %w", err)
	}
	if base.Type == protocol.TypeError {
		return errorFrom(data)
	}
	if base.Type != protocol.TypeHelloAck {
		return fmt.Errorf("expected hello_ack, got: %s", base.Type)
	}

	c.threadID = base.ThreadID
	return nil
}

// ask sends a question and returns the request id used to follow the answer.
func (c *wsClient) ask(question string) (string, error) {
	msg := protocol.AskMessage{
		BaseMessage: protocol.NewBase(protocol.TypeAsk, c.threadID),
		Question:    question,
	}
	msg.RequestID = fmt.Sprintf("req_%d", time.Now().UnixNano())

	c.waiting.Store(true)
	if err := c.conn.WriteJSON(msg); err != nil {
		c.waiting.Store(false)
		return "", fmt.Errorf("write ask: %w", err)
	}
	return msg.RequestID, nil
}

// follow prints the answer for requestID as it arrives and returns its outcome.
// Events of other requests on the same thread are skipped.
func (c *wsClient) follow(requestID string, out, errOut io.Writer) (*result, error) {
	defer c.waiting.Store(false)
	for {
		data, err := c.next()
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}

		var base protocol.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		if base.RequestID != requestID {
			continue
		}

		switch base.Type {
		case protocol.TypeDelta:
			var msg protocol.DeltaMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return nil, fmt.Errorf("unmarshal delta: %w", err)
			}
			fmt.Fprint(out, msg.Text)
		case protocol.TypeWarning:
			var msg protocol.WarningMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return nil, fmt.Errorf("unmarshal warning: %w", err)
			}
			fmt.Fprintf(errOut, "warning: %s\n", msg.Message)
		case protocol.TypeDone:
			var msg protocol.DoneMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return nil, fmt.Errorf("unmarshal done: %w", err)
			}
			return &result{
				ExchangeID: msg.ExchangeID,
				Status:     msg.Status,
				Message:    msg.Message,
			}, nil
		case protocol.TypeError:
			return nil, errorFrom(data)
		}
	}
}

func errorFrom(data []byte) error {
	var msg protocol.ErrorMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("unmarshal error: %w", err)
	}
	if len(msg.Reasons) > 0 {
		return fmt.Errorf("%s: %s %v", msg.Code, msg.Message, msg.Reasons)
	}
	return fmt.Errorf("%s: %s", msg.Code, msg.Message)
}
