package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xiaot623/zuvachat/internal/domain"
	"github.com/xiaot623/zuvachat/internal/repository"
)

const defaultListLimit = 20

// GetExchange returns a stored exchange.
func (s *Service) GetExchange(ctx context.Context, exchangeID string) (*domain.Exchange, error) {
	exchange, err := s.store.GetExchange(ctx, exchangeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrExchangeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange: %w", err)
	}
	return exchange, nil
}

// ListThread returns recent exchanges of a thread, newest first.
func (s *Service) ListThread(ctx context.Context, threadID string, limit int) ([]*domain.Exchange, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	exchanges, err := s.store.ListExchangesByThread(ctx, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	if exchanges == nil {
		exchanges = []*domain.Exchange{}
	}
	return exchanges, nil
}

// ExportLines returns the rows for the tabular export of an exchange.
func (s *Service) ExportLines(ctx context.Context, exchangeID string) ([]string, error) {
	exchange, err := s.GetExchange(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	lines := exchange.ExportLines()
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}
