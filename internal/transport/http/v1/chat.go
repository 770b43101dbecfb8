package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/zuvachat/internal/domain"
	"github.com/xiaot623/zuvachat/internal/service"
	"github.com/xiaot623/zuvachat/internal/stream"
)

// SSE event names.
const (
	EventDelta   = "delta"
	EventWarning = "warning"
	EventDone    = "done"
)

// DeltaEvent carries one fragment of the answer.
type DeltaEvent struct {
	Text string `json:"text"`
}

// WarningEvent carries a transient notice about a skipped line.
type WarningEvent struct {
	Message string `json:"message"`
}

// DoneEvent closes the event stream with the exchange outcome.
type DoneEvent struct {
	ExchangeID      string                `json:"exchange_id"`
	Status          domain.ExchangeStatus `json:"status"`
	Message         string                `json:"message"`
	FailureKind     domain.FailureKind    `json:"failure_kind,omitempty"`
	FragmentCount   int                   `json:"fragment_count"`
	DiagnosticCount int                   `json:"diagnostic_count"`
}

// NewDoneEvent builds the final event for a finished exchange.
func NewDoneEvent(e *domain.Exchange) DoneEvent {
	return DoneEvent{
		ExchangeID:      e.ExchangeID,
		Status:          e.Status,
		Message:         e.Summary(),
		FailureKind:     e.FailureKind,
		FragmentCount:   e.FragmentCount,
		DiagnosticCount: e.DiagnosticCount,
	}
}

// sseWriter defers the event-stream headers until the first event so a
// rejected ask can still be answered with a plain JSON error.
type sseWriter struct {
	c       echo.Context
	started bool
}

func (w *sseWriter) start() {
	if w.started {
		return
	}
	w.started = true
	header := w.c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.c.Response().WriteHeader(http.StatusOK)
}

func (w *sseWriter) send(event string, payload any) error {
	w.start()
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.c.Response().Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if flusher, ok := w.c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// Chat asks a question and streams the answer as server-sent events.
// POST /v1/chat
func (h *Handler) Chat(c echo.Context) error {
	var req domain.AskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	w := &sseWriter{c: c}
	exchange, err := h.service.Ask(c.Request().Context(), req, func(_ string, f stream.Fragment) error {
		if err := w.send(EventDelta, DeltaEvent{Text: f.Text}); err != nil {
			return err
		}
		if f.Diagnostic {
			return w.send(EventWarning, WarningEvent{Message: strings.TrimSuffix(f.Text, "\n")})
		}
		return nil
	})

	var verr *service.ValidationError
	if errors.As(err, &verr) {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error":   "invalid request",
			"reasons": verr.Reasons,
		})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	if err := w.send(EventDone, NewDoneEvent(exchange)); err != nil {
		h.logger.Warn().Err(err).Str("exchange_id", exchange.ExchangeID).Msg("failed to write done event")
	}
	return nil
}
