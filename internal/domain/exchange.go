package domain

import (
	"time"

	"github.com/xiaot623/zuvachat/internal/stream"
)

// User-facing outcome messages.
const (
	SummaryCompleted      = "Streaming completed."
	SummaryCompletedEmpty = "Streaming completed, but there was no data to display."
	SummaryStreaming      = "Streaming in progress."
)

// AskRequest is a user-submitted question.
type AskRequest struct {
	Question string `json:"question"`
	ThreadID string `json:"thread_id"`
}

// Exchange is one question and its streamed answer. A new Exchange is created
// for every request and is only written by the request that owns it.
type Exchange struct {
	ExchangeID      string         `json:"exchange_id"`
	ThreadID        string         `json:"thread_id"`
	Question        string         `json:"question"`
	Status          ExchangeStatus `json:"status"`
	ResponseText    string         `json:"response_text"`
	FragmentCount   int            `json:"fragment_count"`
	DiagnosticCount int            `json:"diagnostic_count"`
	FailureKind     FailureKind    `json:"failure_kind,omitempty"`
	FailureMessage  string         `json:"failure_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// NewExchange starts an exchange in the streaming status.
func NewExchange(id string, req AskRequest, now time.Time) *Exchange {
	return &Exchange{
		ExchangeID: id,
		ThreadID:   req.ThreadID,
		Question:   req.Question,
		Status:     ExchangeStatusStreaming,
		CreatedAt:  now,
	}
}

// Complete records a successfully finished stream.
func (e *Exchange) Complete(acc *stream.Accumulator, now time.Time) {
	e.ResponseText = acc.Text()
	e.FragmentCount = acc.Len()
	e.DiagnosticCount = acc.Diagnostics()
	e.FailureKind = FailureKindNone
	e.FailureMessage = ""
	if acc.Empty() {
		e.Status = ExchangeStatusCompletedEmpty
	} else {
		e.Status = ExchangeStatusCompleted
	}
	e.CompletedAt = &now
}

// Fail records a failed stream. Text received before the failure is dropped so
// it is never reported or exported as a successful result.
func (e *Exchange) Fail(kind FailureKind, message string, now time.Time) {
	if kind == FailureKindNone {
		kind = FailureKindUnexpected
	}
	e.Status = ExchangeStatusFailed
	e.FailureKind = kind
	e.FailureMessage = message
	e.ResponseText = ""
	e.CompletedAt = &now
}

// Summary returns the message shown to the user once the exchange is over.
func (e *Exchange) Summary() string {
	switch e.Status {
	case ExchangeStatusCompleted:
		return SummaryCompleted
	case ExchangeStatusCompletedEmpty:
		return SummaryCompletedEmpty
	case ExchangeStatusFailed:
		return e.FailureMessage
	default:
		return SummaryStreaming
	}
}

// ExportLines returns the rows handed to the tabular export: one line of text
// per row. Failed exchanges export their failure message.
func (e *Exchange) ExportLines() []string {
	switch e.Status {
	case ExchangeStatusCompleted, ExchangeStatusCompletedEmpty:
		return stream.SplitLines(e.ResponseText)
	case ExchangeStatusFailed:
		return stream.SplitLines(e.FailureMessage)
	default:
		return nil
	}
}
