// Package domain defines the core domain models for zuvachat.
package domain

// ExchangeStatus represents the status of an exchange.
type ExchangeStatus string

const (
	ExchangeStatusStreaming      ExchangeStatus = "streaming"
	ExchangeStatusCompleted      ExchangeStatus = "completed"
	ExchangeStatusCompletedEmpty ExchangeStatus = "completed_empty"
	ExchangeStatusFailed         ExchangeStatus = "failed"
)

// Finished reports whether the exchange reached a final status.
func (s ExchangeStatus) Finished() bool {
	return s != ExchangeStatusStreaming
}

// Succeeded reports whether the stream completed, with or without content.
func (s ExchangeStatus) Succeeded() bool {
	return s == ExchangeStatusCompleted || s == ExchangeStatusCompletedEmpty
}

// FailureKind classifies why an exchange failed.
type FailureKind string

const (
	FailureKindNone       FailureKind = ""
	FailureKindHTTPStatus FailureKind = "http_status"
	FailureKindConnection FailureKind = "connection"
	FailureKindTimeout    FailureKind = "timeout"
	FailureKindRequest    FailureKind = "request"
	FailureKindUnexpected FailureKind = "unexpected"
)
