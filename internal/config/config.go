package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	NatsURL     string
	NatsToken   string
	DatabaseURL string // empty runs on the in-memory store
	LogLevel    string
	APIToken    string

	SlackBotToken string
	SlackChannel  string

	LLMProvider      string
	AnthropicAPIKey  string
	OpenAIAPIKey     string
	LLMBaseURL       string
	Model            string
	LLMRatePerMinute int
	LLMTimeout       time.Duration

	OrgConfigDir  string
	OrgConfigTTL  time.Duration
	MaxConcurrent int
	LockStale     time.Duration
	BatchLimit    int
}

func Load() Config {
	return Config{
		Port:        envInt("SIFT_PORT", 8760),
		NatsURL:     envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		APIToken:    envStr("SIFT_API_TOKEN", ""),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_ALERT_CHANNEL", ""),

		LLMProvider:      envStr("LLM_PROVIDER", "anthropic"),
		AnthropicAPIKey:  envStr("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:     envStr("OPENAI_API_KEY", ""),
		LLMBaseURL:       envStr("LLM_BASE_URL", ""),
		Model:            envStr("SIFT_MODEL", "claude-sonnet-4-20250514"),
		LLMRatePerMinute: envInt("LLM_RATE_PER_MINUTE", 60),
		LLMTimeout:       envDuration("LLM_TIMEOUT", 2*time.Minute),

		OrgConfigDir:  envStr("ORG_CONFIG_DIR", "/etc/sift/orgs"),
		OrgConfigTTL:  envDuration("ORG_CONFIG_TTL", 5*time.Minute),
		MaxConcurrent: envInt("SIFT_MAX_CONCURRENT", 4),
		LockStale:     envDuration("SIFT_LOCK_STALE_AFTER", 15*time.Minute),
		BatchLimit:    envInt("SIFT_BATCH_LIMIT", 200),
	}
}

// APIKey returns the key for the configured provider.
func (c Config) APIKey() string {
	if c.LLMProvider == "openai" {
		return c.OpenAIAPIKey
	}
	return c.AnthropicAPIKey
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
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
