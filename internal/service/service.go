package service

import (
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/xiaot623/zuvachat/internal/adapter/chatapi"
	"github.com/xiaot623/zuvachat/internal/policy"
	"github.com/xiaot623/zuvachat/internal/repository"
)

var tracer = otel.Tracer("github.com/xiaot623/zuvachat/internal/service")

// ErrExchangeNotFound is returned when an exchange id is unknown.
var ErrExchangeNotFound = errors.New("exchange not found")

// ValidationError lists the reasons an ask was rejected before any call was made.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "invalid ask: " + strings.Join(e.Reasons, "; ")
}

type Service struct {
	store        store.Store
	chatClient   chatapi.ChatClient
	policyEngine *policy.Engine
	logger       zerolog.Logger
	now          func() time.Time
}

func New(store store.Store, chatClient chatapi.ChatClient, policyEngine *policy.Engine, logger zerolog.Logger) *Service {
	return &Service{
		store:        store,
		chatClient:   chatClient,
		policyEngine: policyEngine,
		logger:       logger.With().Str("component", "service").Logger(),
		now:          time.Now,
	}
}
