// Package chatapi opens streaming requests against the remote chat API.
package chatapi

import (
	"context"

	"github.com/xiaot623/zuvachat/internal/stream"
)

// Request is the body posted to the chat API.
type Request struct {
	Question string `json:"question"`
	ThreadID string `json:"thread_id"`
}

// ChatClient defines the interface for the chat API.
type ChatClient interface {
	// Open sends the request and returns the response as a fragment stream.
	// Failures before the first line is read are returned as *TransportError.
	Open(ctx context.Context, req *Request) (*stream.Stream, error)
}

// Ensure both clients implement ChatClient.
var (
	_ ChatClient = (*Client)(nil)
	_ ChatClient = (*MockClient)(nil)
)
