// Package v1 provides the version 1 HTTP handlers.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/zuvachat/internal/service"
)

// StatsProvider reports live WebSocket usage for the health endpoint.
type StatsProvider interface {
	ConnectionCount() int
	ThreadCount() int
}

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	stats   StatsProvider
	logger  zerolog.Logger
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, stats StatsProvider, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		stats:   stats,
		logger:  logger.With().Str("component", "http").Logger(),
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/chat", h.Chat)

	e.GET("/v1/exchanges/:exchange_id", h.GetExchange)
	e.GET("/v1/exchanges/:exchange_id/export", h.ExportExchange)
	e.GET("/v1/threads/:thread_id/exchanges", h.ListThreadExchanges)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	resp := map[string]any{
		"status":  "healthy",
		"version": "0.1.0",
	}
	if h.stats != nil {
		resp["connections"] = h.stats.ConnectionCount()
		resp["threads"] = h.stats.ThreadCount()
	}
	return c.JSON(http.StatusOK, resp)
}
