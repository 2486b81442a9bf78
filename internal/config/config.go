// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration.
type Config struct {
	Addr      string
	DSN       string
	JWTSecret string
	RedisAddr string // empty = single instance, no fan-out
	TokenTTL  time.Duration
	Log       LogConfig
	Chat      ChatConfig
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string
	Format string // "json" or "console"
}

// ChatConfig controls chat turn processing.
type ChatConfig struct {
	HistoryLimit   int
	TurnTimeout    time.Duration
	RateLimit      int // messages per minute per connection
	HomeContextTTL time.Duration
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Addr:      getEnv("ADDR", ":8080"),
		DSN:       getEnv("DB_DSN", ""),
		JWTSecret: getEnv("JWT_SECRET", ""),
		RedisAddr: getEnv("REDIS_ADDR", ""),
		TokenTTL:  getEnvDuration("TOKEN_TTL", 24*time.Hour),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Chat: ChatConfig{
			HistoryLimit:   getEnvInt("CHAT_HISTORY_LIMIT", 20),
			TurnTimeout:    getEnvDuration("CHAT_TURN_TIMEOUT", 60*time.Second),
			RateLimit:      getEnvInt("CHAT_RATE_LIMIT", 20),
			HomeContextTTL: getEnvDuration("HOME_CONTEXT_TTL", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that required fields are set and numeric limits are sane.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("ADDR cannot be empty")
	}
	if c.DSN == "" {
		return fmt.Errorf("DB_DSN is not set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0")
	}
	if c.Chat.HistoryLimit <= 0 {
		return fmt.Errorf("CHAT_HISTORY_LIMIT must be > 0")
	}
	if c.Chat.TurnTimeout <= 0 {
		return fmt.Errorf("CHAT_TURN_TIMEOUT must be > 0")
	}
	if c.Chat.RateLimit <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT must be > 0")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// Distributed reports whether broadcasts fan out through Redis.
func (c *Config) Distributed() bool {
	return c.RedisAddr != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
