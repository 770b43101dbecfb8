// Package ws provides WebSocket server functionality for client connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/zuvachat/internal/adapter/chatapi"
	"github.com/xiaot623/zuvachat/internal/config"
	"github.com/xiaot623/zuvachat/internal/domain"
	"github.com/xiaot623/zuvachat/internal/hub"
	"github.com/xiaot623/zuvachat/internal/protocol"
	"github.com/xiaot623/zuvachat/internal/service"
	"github.com/xiaot623/zuvachat/internal/stream"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	service  *service.Service
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, svc *service.Service, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		hub:     h,
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

// RegisterRoutes registers the upgrade endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", s.HandleWebSocket)
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade websocket")
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		conn.CancelAsk()
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("conn_id", conn.ID).Msg("websocket error")
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn().Err(err).Str("conn_id", conn.ID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch baseMsg.Type {
	case protocol.TypeHello:
		s.handleHello(conn, data)
	case protocol.TypeAsk:
		s.handleAsk(conn, data)
	case protocol.TypeCancel:
		s.handleCancel(conn, baseMsg)
	default:
		s.sendError(conn, baseMsg.RequestID, protocol.ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleHello binds the connection to a thread.
func (s *Server) handleHello(conn *hub.Connection, data []byte) {
	var msg protocol.HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid hello message")
		return
	}

	threadID := strings.TrimSpace(msg.ThreadID)
	if threadID == "" {
		s.sendError(conn, msg.RequestID, protocol.ErrorCodeThreadRequired, "thread_id is required")
		return
	}
	s.hub.BindThread(conn, threadID)

	ack := protocol.HelloAckMessage{BaseMessage: protocol.NewBase(protocol.TypeHelloAck, threadID)}
	ack.RequestID = msg.RequestID
	s.hub.SendJSONToConnection(conn, ack)

	s.logger.Debug().Str("conn_id", conn.ID).Str("thread_id", threadID).Msg("hello handshake completed")
}

// handleAsk starts streaming an answer. Every connection bound to the thread
// receives the events.
func (s *Server) handleAsk(conn *hub.Connection, data []byte) {
	var msg protocol.AskMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid ask message")
		return
	}

	threadID := conn.ThreadID()
	if msg.ThreadID != "" && msg.ThreadID != threadID {
		s.hub.BindThread(conn, msg.ThreadID)
		threadID = msg.ThreadID
	}
	if threadID == "" {
		s.sendError(conn, msg.RequestID, protocol.ErrorCodeThreadRequired, "must send hello first")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if !conn.BeginAsk(cancel) {
		cancel()
		s.sendError(conn, msg.RequestID, protocol.ErrorCodeBusy, "an ask is already in progress on this connection")
		return
	}

	accepted := protocol.AcceptedMessage{
		BaseMessage: protocol.NewBase(protocol.TypeAccepted, threadID),
		Question:    msg.Question,
	}
	accepted.RequestID = msg.RequestID
	if err := s.hub.BroadcastJSON(ctx, threadID, accepted); err != nil {
		s.logger.Warn().Err(err).Str("thread_id", threadID).Msg("failed to deliver accepted")
	}

	go func() {
		defer func() {
			cancel()
			conn.EndAsk()
		}()
		s.runAsk(ctx, conn, threadID, msg)
	}()
}

func (s *Server) runAsk(ctx context.Context, conn *hub.Connection, threadID string, msg protocol.AskMessage) {
	req := domain.AskRequest{Question: msg.Question, ThreadID: threadID}

	deliver := func(v any) error {
		err := s.hub.BroadcastJSON(ctx, threadID, v)
		if err != nil && ctx.Err() != nil {
			// Cancelled asks fail like an abandoned request.
			return chatapi.Classify(ctx.Err())
		}
		if err != nil {
			return fmt.Errorf("failed to deliver answer: %w", err)
		}
		return nil
	}

	exchange, err := s.service.Ask(ctx, req, func(exchangeID string, f stream.Fragment) error {
		delta := protocol.DeltaMessage{
			BaseMessage: s.base(protocol.TypeDelta, threadID, msg.RequestID, exchangeID),
			Text:        f.Text,
		}
		if err := deliver(delta); err != nil {
			return err
		}
		if f.Diagnostic {
			warning := protocol.WarningMessage{
				BaseMessage: s.base(protocol.TypeWarning, threadID, msg.RequestID, exchangeID),
				Message:     strings.TrimSuffix(f.Text, "\n"),
			}
			return deliver(warning)
		}
		return nil
	})

	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		s.sendErrorToThread(threadID, msg.RequestID, protocol.ErrorCodeInvalidRequest, "invalid ask", verr.Reasons)
		return
	case err != nil:
		s.logger.Error().Err(err).Str("thread_id", threadID).Msg("ask failed")
		s.sendErrorToThread(threadID, msg.RequestID, protocol.ErrorCodeInternalError, err.Error(), nil)
		return
	}

	done := protocol.DoneMessage{
		BaseMessage:     s.base(protocol.TypeDone, threadID, msg.RequestID, exchange.ExchangeID),
		Status:          string(exchange.Status),
		Message:         exchange.Summary(),
		FailureKind:     string(exchange.FailureKind),
		FragmentCount:   exchange.FragmentCount,
		DiagnosticCount: exchange.DiagnosticCount,
	}
	// The ask context may be cancelled by now; the outcome is still announced.
	if err := s.hub.BroadcastJSON(context.Background(), threadID, done); err != nil {
		s.logger.Warn().Err(err).Str("thread_id", threadID).Msg("failed to deliver done")
	}
}

// handleCancel abandons the connection's in-flight ask.
func (s *Server) handleCancel(conn *hub.Connection, msg protocol.BaseMessage) {
	if !conn.CancelAsk() {
		s.sendError(conn, msg.RequestID, protocol.ErrorCodeInvalidMessage, "no ask in progress")
	}
}

func (s *Server) base(msgType, threadID, requestID, exchangeID string) protocol.BaseMessage {
	b := protocol.NewBase(msgType, threadID)
	b.RequestID = requestID
	b.ExchangeID = exchangeID
	return b
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Connection, requestID, code, message string) {
	errMsg := protocol.ErrorMessage{
		BaseMessage: s.base(protocol.TypeError, conn.ThreadID(), requestID, ""),
		Code:        code,
		Message:     message,
	}
	if err := s.hub.SendJSONToConnection(conn, errMsg); err != nil {
		s.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("failed to send error")
	}
}

// sendErrorToThread sends an error message to all connections of a thread.
func (s *Server) sendErrorToThread(threadID, requestID, code, message string, reasons []string) {
	errMsg := protocol.ErrorMessage{
		BaseMessage: s.base(protocol.TypeError, threadID, requestID, ""),
		Code:        code,
		Message:     message,
		Reasons:     reasons,
	}
	if err := s.hub.BroadcastJSON(context.Background(), threadID, errMsg); err != nil {
		s.logger.Debug().Err(err).Str("thread_id", threadID).Msg("failed to send error")
	}
}
