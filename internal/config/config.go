package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            int
	DatabaseURL     string
	LogLevel        string
	AnthropicAPIKey string
	AnthropicModel  string
	MaxTokens       int
	OpenAIAPIKey    string
	ImageModel      string
	NatsURL         string
	NatsToken       string
	RedisURL        string
	JWTSecret       string
	SlackBotToken   string
	SlackChannel    string
	TemplatesPath   string
	MockupPoll      time.Duration
	TurnTimeout     time.Duration
	SessionIdle     time.Duration
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first if present; real environment variables win.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}

	return Config{
		Port:            envInt("BRIEFSMITH_PORT", 8760),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("BRIEFSMITH_MODEL", "claude-sonnet-4-20250514"),
		MaxTokens:       envInt("BRIEFSMITH_MAX_TOKENS", 4096),
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		ImageModel:      envStr("BRIEFSMITH_IMAGE_MODEL", "dall-e-3"),
		NatsURL:         envStr("NATS_URL", ""),
		NatsToken:       envStr("NATS_TOKEN", ""),
		RedisURL:        envStr("REDIS_URL", ""),
		JWTSecret:       envStr("BRIEFSMITH_JWT_SECRET", ""),
		SlackBotToken:   envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:    envStr("SLACK_BRIEFS_CHANNEL", ""),
		TemplatesPath:   envStr("BRIEFSMITH_TEMPLATES", ""),
		MockupPoll:      envDuration("BRIEFSMITH_MOCKUP_POLL", 2*time.Second),
		TurnTimeout:     envDuration("BRIEFSMITH_TURN_TIMEOUT", 120*time.Second),
		SessionIdle:     envDuration("BRIEFSMITH_SESSION_IDLE", 30*time.Minute),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
