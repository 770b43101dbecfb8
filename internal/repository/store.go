// Package store persists exchanges.
package store

import (
	"context"
	"errors"

	"github.com/xiaot623/zuvachat/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence operations for exchanges.
type Store interface {
	CreateExchange(ctx context.Context, exchange *domain.Exchange) error
	UpdateExchange(ctx context.Context, exchange *domain.Exchange) error
	GetExchange(ctx context.Context, exchangeID string) (*domain.Exchange, error)
	ListExchangesByThread(ctx context.Context, threadID string, limit int) ([]*domain.Exchange, error)
	Close() error
}
