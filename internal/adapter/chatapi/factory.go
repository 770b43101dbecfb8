package chatapi

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/xiaot623/zuvachat/internal/config"
)

// NewChatClient creates the chat client selected by configuration.
// ZUVA_MODE=MOCK returns a MockClient; otherwise a real Client for CHAT_URL.
func NewChatClient(cfg *config.Config, logger zerolog.Logger) ChatClient {
	if cfg.Mock() {
		logger.Info().Msg("ZUVA_MODE=MOCK detected, using mock chat client")
		mock := NewMockClient(50 * time.Millisecond)
		mock.maxLineBytes = cfg.MaxLineBytes
		return mock
	}

	return NewClient(cfg.ChatURL, cfg.ChatConnectTimeout, cfg.ChatReadTimeout,
		WithMaxLineBytes(cfg.MaxLineBytes),
		WithLogger(logger),
	)
}
