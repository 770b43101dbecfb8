package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaot623/zuvachat/internal/adapter/chatapi"
	"github.com/xiaot623/zuvachat/internal/config"
	"github.com/xiaot623/zuvachat/internal/hub"
	"github.com/xiaot623/zuvachat/internal/logging"
	"github.com/xiaot623/zuvachat/internal/policy"
	"github.com/xiaot623/zuvachat/internal/repository"
	"github.com/xiaot623/zuvachat/internal/service"
	handler "github.com/xiaot623/zuvachat/internal/transport/http"
	"github.com/xiaot623/zuvachat/internal/transport/ws"
)

func main() {
	// Load configuration
	cfg := config.Load(".env")

	logger := logging.NewWithComponent(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	}, "server")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger.Info().
		Int("http_port", cfg.HTTPPort).
		Str("database", cfg.DatabaseURL).
		Str("chat_url", cfg.ChatURL).
		Str("mode", cfg.Mode).
		Dur("connect_timeout", cfg.ChatConnectTimeout).
		Dur("read_timeout", cfg.ChatReadTimeout).
		Msg("Starting zuvachat server")

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer db.Close()

	// Initialize policy engine
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize policy engine")
	}

	chatClient := chatapi.NewChatClient(cfg, logger)
	svc := service.New(db, chatClient, policyEngine, logger)

	// Initialize hub
	h := hub.NewHub(cfg.WriteTimeout, logger)
	go h.Run(ctx)

	e := handler.NewServer(svc, h, logger)
	ws.NewServer(cfg, h, svc, logger).RegisterRoutes(e)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	logger.Info().Int("port", cfg.HTTPPort).Msg("HTTP and WebSocket API started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down zuvachat server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server gracefully")
	}
	stop()

	logger.Info().Msg("zuvachat server stopped")
}
