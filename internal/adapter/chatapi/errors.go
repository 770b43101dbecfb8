package chatapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/xiaot623/zuvachat/internal/domain"
)

// ErrReadTimeout is reported when no bytes arrive within the read timeout.
var ErrReadTimeout = errors.New("read timed out")

// TransportError describes a failed call to the chat API.
type TransportError struct {
	Kind       domain.FailureKind
	StatusCode int
	Status     string
	URL        string
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case domain.FailureKindHTTPStatus:
		msg := fmt.Sprintf("HTTP error occurred: %s for url: %s", e.Status, e.URL)
		if e.Body != "" {
			msg += "\nError response body: " + e.Body
		}
		return msg
	case domain.FailureKindConnection:
		return fmt.Sprintf("Connection error occurred: %v", e.Err)
	case domain.FailureKindTimeout:
		return fmt.Sprintf("Timeout error occurred: %v", e.Err)
	case domain.FailureKindRequest:
		return fmt.Sprintf("API request error occurred: %v", e.Err)
	default:
		return fmt.Sprintf("Unexpected error occurred: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind carried by err, or unexpected when err did
// not come from the chat API client.
func KindOf(err error) domain.FailureKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return domain.FailureKindUnexpected
}

// Classify wraps err in a TransportError, keeping an existing classification.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Kind: kindFor(err), Err: err}
}

func kindFor(err error) domain.FailureKind {
	if errors.Is(err, ErrReadTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return domain.FailureKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.FailureKindTimeout
	}
	if errors.Is(err, bufio.ErrTooLong) {
		return domain.FailureKindUnexpected
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF):
		return domain.FailureKindConnection
	}
	return domain.FailureKindRequest
}
