// Package config provides configuration for zuvachat.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// ModeMock selects the in-process mock chat client.
	ModeMock = "MOCK"
)

// ErrChatURLMissing is returned by Validate when no chat endpoint is configured.
var ErrChatURLMissing = errors.New("CHAT_URL is not set")

// Config holds the zuvachat configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Chat API
	ChatURL            string
	ChatConnectTimeout time.Duration
	ChatReadTimeout    time.Duration
	MaxLineBytes       int
	Mode               string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel  string
	LogPretty bool
}

// Load reads an optional .env file and then configuration from environment variables.
// Variables already present in the environment win over .env values.
func Load(envFiles ...string) *Config {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load(envFiles...)

	return &Config{
		HTTPPort:           getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:        getEnv("DATABASE_URL", "file:zuvachat.db?cache=shared&mode=rwc"),
		ChatURL:            getEnv("CHAT_URL", ""),
		ChatConnectTimeout: time.Duration(getEnvInt("CHAT_CONNECT_TIMEOUT_MS", 30000)) * time.Millisecond,
		ChatReadTimeout:    time.Duration(getEnvInt("CHAT_READ_TIMEOUT_MS", 300000)) * time.Millisecond,
		MaxLineBytes:       getEnvInt("STREAM_MAX_LINE_BYTES", 1<<20),
		Mode:               strings.ToUpper(getEnv("ZUVA_MODE", "")),
		PingInterval:       time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:       time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:        time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:     int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogPretty:          getEnvBool("LOG_PRETTY", true),
	}
}

// Mock reports whether the mock chat client is selected.
func (c *Config) Mock() bool {
	return c.Mode == ModeMock
}

// Validate checks settings the server cannot start without.
func (c *Config) Validate() error {
	if c.ChatURL == "" && !c.Mock() {
		return ErrChatURLMissing
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
