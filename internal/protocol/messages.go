// Package protocol defines the WebSocket message protocol between clients and the server.
package protocol

import "time"

// Message types from client to server
const (
	TypeHello  = "hello"
	TypeAsk    = "ask"
	TypeCancel = "cancel"
)

// Message types from server to client
const (
	TypeHelloAck = "hello_ack"
	TypeAccepted = "accepted"
	TypeDelta    = "delta"
	TypeWarning  = "warning"
	TypeDone     = "done"
	TypeError    = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type       string `json:"type"`
	Ts         int64  `json:"ts"`
	RequestID  string `json:"request_id,omitempty"`
	ThreadID   string `json:"thread_id,omitempty"`
	ExchangeID string `json:"exchange_id,omitempty"`
}

// NewBase returns a BaseMessage stamped with the current time.
func NewBase(msgType, threadID string) BaseMessage {
	return BaseMessage{
		Type:     msgType,
		Ts:       time.Now().UnixMilli(),
		ThreadID: threadID,
	}
}

// HelloMessage binds a connection to a thread.
type HelloMessage struct {
	BaseMessage
	ClientMeta map[string]string `json:"client_meta,omitempty"`
}

// HelloAckMessage is sent after a successful hello.
type HelloAckMessage struct {
	BaseMessage
}

// AskMessage submits a question on the bound thread.
type AskMessage struct {
	BaseMessage
	Question string `json:"question"`
}

// CancelMessage abandons the connection's in-flight ask.
type CancelMessage struct {
	BaseMessage
}

// AcceptedMessage announces that an ask started streaming.
type AcceptedMessage struct {
	BaseMessage
	Question string `json:"question"`
}

// DeltaMessage carries one fragment of the answer.
type DeltaMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// WarningMessage carries a transient notice about a skipped line.
type WarningMessage struct {
	BaseMessage
	Message string `json:"message"`
}

// DoneMessage reports how an exchange finished.
type DoneMessage struct {
	BaseMessage
	Status          string `json:"status"`
	Message         string `json:"message"`
	FailureKind     string `json:"failure_kind,omitempty"`
	FragmentCount   int    `json:"fragment_count"`
	DiagnosticCount int    `json:"diagnostic_count"`
}

// ErrorMessage is sent when a client message cannot be served.
type ErrorMessage struct {
	BaseMessage
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Reasons []string `json:"reasons,omitempty"`
}

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeThreadRequired = "thread_required"
	ErrorCodeBusy           = "busy"
	ErrorCodeInternalError  = "internal_error"
)
