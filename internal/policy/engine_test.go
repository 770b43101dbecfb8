package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), DefaultPolicy)
	require.NoError(t, err)
	return engine
}

func TestEvaluateAdmitsValidAsk(t *testing.T) {
	engine := newTestEngine(t)

	reasons, err := engine.Evaluate(context.Background(), map[string]any{
		"question":  "Which companies hold heat dissipation technology usable in space?",
		"thread_id": "thread_123",
	})
	require.NoError(t, err)
	assert.Empty(t, reasons)
}

func TestEvaluateDeniesMissingFields(t *testing.T) {
	engine := newTestEngine(t)

	reasons, err := engine.Evaluate(context.Background(), map[string]any{
		"question":  "   ",
		"thread_id": "",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"question is required", "thread_id is required"}, reasons)
}

func TestEvaluateDeniesOversizedQuestion(t *testing.T) {
	engine := newTestEngine(t)

	reasons, err := engine.Evaluate(context.Background(), map[string]any{
		"question":  strings.Repeat("q", 8001),
		"thread_id": "t",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"question must be at most 8000 characters"}, reasons)
}

func TestNewEngineRejectsBadPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package broken\n deny contains if {")
	assert.Error(t, err)
}
