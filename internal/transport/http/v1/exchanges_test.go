package v1

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/zuvachat/internal/domain"
)

func askOnce(t *testing.T, h *Handler) string {
	t.Helper()
	rec := postChat(t, h, `{"question":"list suppliers","thread_id":"thread_9"}`)
	events := parseSSE(t, rec.Body.String())
	var done DoneEvent
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].data), &done))
	return done.ExchangeID
}

func TestGetExchange(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, &stubChatClient{body: "{\"chunk\":\"ACME\"}\n{\"done\":true}\n"})
	id := askOnce(t, h)

	req := httptest.NewRequest(http.MethodGet, "/v1/exchanges/"+id, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("exchange_id")
	c.SetParamValues(id)

	require.NoError(t, h.GetExchange(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var exchange domain.Exchange
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exchange))
	assert.Equal(t, "ACME", exchange.ResponseText)
	assert.Equal(t, "thread_9", exchange.ThreadID)
}

func TestGetExchangeNotFound(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, &stubChatClient{})

	req := httptest.NewRequest(http.MethodGet, "/v1/exchanges/nope", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("exchange_id")
	c.SetParamValues("nope")

	if err := h.GetExchange(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestExportExchange(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, &stubChatClient{body: "{\"chunk\":\"ACME Corp\\nGlobex\"}\n{\"chunk\":\"\\nInitech\\n\"}\n{\"done\":true}\n"})
	id := askOnce(t, h)

	req := httptest.NewRequest(http.MethodGet, "/v1/exchanges/"+id+"/export", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("exchange_id")
	c.SetParamValues(id)

	require.NoError(t, h.ExportExchange(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Column string   `json:"column"`
		Rows   []string `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ExportColumn, resp.Column)
	assert.Equal(t, []string{"ACME Corp", "Globex", "Initech"}, resp.Rows)
}

func TestListThreadExchanges(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, &stubChatClient{body: "{\"done\":true}\n"})
	askOnce(t, h)
	askOnce(t, h)

	req := httptest.NewRequest(http.MethodGet, "/v1/threads/thread_9/exchanges?limit=1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("thread_id")
	c.SetParamValues("thread_9")

	require.NoError(t, h.ListThreadExchanges(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Exchanges []domain.Exchange `json:"exchanges"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Exchanges, 1)
	assert.Equal(t, domain.ExchangeStatusCompletedEmpty, resp.Exchanges[0].Status)
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, &stubChatClient{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Health(e.NewContext(req, rec)))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.EqualValues(t, 3, resp["connections"])
	assert.EqualValues(t, 2, resp["threads"])
}
