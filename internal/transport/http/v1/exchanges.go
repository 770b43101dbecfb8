package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/zuvachat/internal/service"
)

// ExportColumn names the single column of an exported answer.
const ExportColumn = "response"

// GetExchange retrieves an exchange.
// GET /v1/exchanges/:exchange_id
func (h *Handler) GetExchange(c echo.Context) error {
	exchange, err := h.service.GetExchange(c.Request().Context(), c.Param("exchange_id"))
	if errors.Is(err, service.ErrExchangeNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "exchange not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, exchange)
}

// ExportExchange returns the answer as rows of a single-column table.
// GET /v1/exchanges/:exchange_id/export
func (h *Handler) ExportExchange(c echo.Context) error {
	rows, err := h.service.ExportLines(c.Request().Context(), c.Param("exchange_id"))
	if errors.Is(err, service.ErrExchangeNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "exchange not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"column": ExportColumn,
		"rows":   rows,
	})
}

// ListThreadExchanges lists recent exchanges of a thread.
// GET /v1/threads/:thread_id/exchanges
func (h *Handler) ListThreadExchanges(c echo.Context) error {
	limit := 20
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}

	exchanges, err := h.service.ListThread(c.Request().Context(), c.Param("thread_id"), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"exchanges": exchanges,
	})
}
