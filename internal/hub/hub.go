// Package hub provides connection management for WebSocket clients.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultSendTimeout bounds how long a send waits for room in a connection's buffer.
const DefaultSendTimeout = 10 * time.Second

var (
	// ErrSendTimeout is returned when the send buffer stays full for the whole send timeout.
	ErrSendTimeout = errors.New("send timed out")
	// ErrConnectionClosed is returned when sending to an unregistered connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNoReceivers is returned when no connection of a thread accepted a message.
	ErrNoReceivers = errors.New("no connection accepted the message")
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	threadID string
	busy     atomic.Bool
	cancel   context.CancelFunc

	mu        sync.Mutex // guards threadID and cancel
	writeMu   sync.Mutex
	sendMu    sync.Mutex // held for the whole send so messages keep their order
	closed    bool
	closing   chan struct{}
	closeOnce sync.Once
}

// Hub manages all WebSocket connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// threads maps thread_id to the set of bound connection IDs
	threads map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	done       chan struct{}

	// sendTimeout bounds the wait for a slow connection before it is dropped
	sendTimeout time.Duration

	logger zerolog.Logger
	mu     sync.RWMutex
}

// NewHub creates a new Hub. Sends wait up to sendTimeout for a connection to
// drain its buffer; DefaultSendTimeout is used when it is not positive.
func NewHub(sendTimeout time.Duration, logger zerolog.Logger) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Hub{
		connections: make(map[string]*Connection),
		threads:     make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
		sendTimeout: sendTimeout,
		logger:      logger.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, conn := range h.connections {
				conn.closeSend()
				delete(h.connections, id)
			}
			h.threads = make(map[string]map[string]bool)
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if threadID := conn.ThreadID(); threadID != "" {
				h.addToThread(threadID, conn.ID)
			}
			h.mu.Unlock()
			h.logger.Debug().Str("conn_id", conn.ID).Msg("connection registered")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				h.removeFromThread(conn.ThreadID(), conn.ID)
				conn.closeSend()
			}
			h.mu.Unlock()
			h.logger.Debug().Str("conn_id", conn.ID).Msg("connection unregistered")
		}
	}
}

func (h *Hub) addToThread(threadID, connID string) {
	if h.threads[threadID] == nil {
		h.threads[threadID] = make(map[string]bool)
	}
	h.threads[threadID][connID] = true
}

func (h *Hub) removeFromThread(threadID, connID string) {
	if threadID == "" || h.threads[threadID] == nil {
		return
	}
	delete(h.threads[threadID], connID)
	if len(h.threads[threadID]) == 0 {
		delete(h.threads, threadID)
	}
}

// NewConnection creates a new connection. It must be registered before use.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:      uuid.New().String(),
		Conn:    ws,
		Send:    make(chan []byte, 256),
		closing: make(chan struct{}),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		conn.closeSend()
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// BindThread binds a connection to a thread, leaving any previous thread.
func (h *Hub) BindThread(conn *Connection, threadID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.mu.Lock()
	previous := conn.threadID
	conn.threadID = threadID
	conn.mu.Unlock()

	h.removeFromThread(previous, conn.ID)
	if _, ok := h.connections[conn.ID]; ok {
		h.addToThread(threadID, conn.ID)
	}
}

// Broadcast sends a message to every connection of a thread and returns how
// many accepted it. It blocks while a connection's buffer is full, up to the
// hub's send timeout; a connection that stays full is unregistered.
// ErrNoReceivers is returned when nobody accepted the message.
func (h *Hub) Broadcast(ctx context.Context, threadID string, data []byte) (int, error) {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.threads[threadID]))
	for connID := range h.threads[threadID] {
		if conn, ok := h.connections[connID]; ok {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		err := conn.send(ctx, data, h.sendTimeout)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrSendTimeout):
			h.logger.Warn().Str("conn_id", conn.ID).Str("thread_id", threadID).Msg("connection too slow, closing")
			go h.Unregister(conn)
		case ctx.Err() != nil:
			return delivered, ctx.Err()
		}
	}
	if delivered == 0 {
		return 0, ErrNoReceivers
	}
	return delivered, nil
}

// BroadcastJSON sends a JSON message to all connections of a thread.
func (h *Hub) BroadcastJSON(ctx context.Context, threadID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = h.Broadcast(ctx, threadID, data)
	return err
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.send(context.Background(), data, h.sendTimeout)
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// ThreadCount returns the number of threads with at least one connection.
func (h *Hub) ThreadCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.threads)
}

// HasActiveConnections checks if a thread has any active connections.
func (h *Hub) HasActiveConnections(threadID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.threads[threadID]) > 0
}

// ThreadID returns the thread the connection is bound to.
func (c *Connection) ThreadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadID
}

// BeginAsk marks the connection busy. It returns false if an ask is already
// in flight. cancel is called by CancelAsk.
func (c *Connection) BeginAsk(cancel context.CancelFunc) bool {
	if !c.busy.CompareAndSwap(false, true) {
		return false
	}
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	return true
}

// EndAsk clears the in-flight ask.
func (c *Connection) EndAsk() {
	c.mu.Lock()
	c.cancel = nil
	c.mu.Unlock()
	c.busy.Store(false)
}

// CancelAsk abandons the in-flight ask, if any. It reports whether one was cancelled.
func (c *Connection) CancelAsk() bool {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// send queues data for the write pump, waiting up to timeout for buffer room.
func (c *Connection) send(ctx context.Context, data []byte, timeout time.Duration) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.Send <- data:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.Send <- data:
		return nil
	case <-c.closing:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrSendTimeout
	}
}

// closeSend closes Send. A sender blocked on a full buffer is released first.
func (c *Connection) closeSend() {
	c.closeOnce.Do(func() { close(c.closing) })
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
