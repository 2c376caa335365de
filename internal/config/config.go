package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port         string
	DatabasePath string // SQLite database file path
	RedisURL     string // optional; dedup + shared counters fall back to process-local when empty

	// Telegram transport
	TelegramBotToken      string
	TelegramWebhookSecret string

	// Generative model (OpenAI-compatible endpoint)
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	// Turn processing
	TurnDeadline       time.Duration // hard ceiling for one inbound update
	SourceTimeout      time.Duration // per-source budget in the context assembler
	ContextBudgetBytes int           // serialized ContextBundle hard cap

	// Flows and sessions
	FlowTTL            time.Duration // pending flow expiry
	SessionIdleTimeout time.Duration // idle gap that closes a session

	// Dedup
	DedupWindow   time.Duration // how long an update id is remembered
	DedupCapacity int           // recent ids kept per channel in the local fallback

	// Resilience
	RetryAttempts     int
	RetryBaseDelay    time.Duration
	BreakerThreshold  int           // consecutive failures before opening
	BreakerCooldown   time.Duration // open state duration before half-open probe
	ModelCallsPerHour int           // per-user token bucket on generative calls

	// Memory
	SalienceThreshold float64 // model-flagged salience above this creates a MemoryRecord
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "3001"),
		DatabasePath: getEnv("DATABASE_PATH", "aria.db"),
		RedisURL:     getEnv("REDIS_URL", ""),

		TelegramBotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramWebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),

		LLMBaseURL: getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:  getEnv("LLM_API_KEY", ""),
		LLMModel:   getEnv("LLM_MODEL", "gpt-4o-mini"),

		TurnDeadline:       getDurationEnv("TURN_DEADLINE", 10*time.Second),
		SourceTimeout:      getDurationEnv("CONTEXT_SOURCE_TIMEOUT", 300*time.Millisecond),
		ContextBudgetBytes: getIntEnv("CONTEXT_BUDGET_BYTES", 12000),

		FlowTTL:            getDurationEnv("FLOW_TTL", 15*time.Minute),
		SessionIdleTimeout: getDurationEnv("SESSION_IDLE_TIMEOUT", 30*time.Minute),

		DedupWindow:   getDurationEnv("DEDUP_WINDOW", 24*time.Hour),
		DedupCapacity: getIntEnv("DEDUP_CAPACITY", 500),

		RetryAttempts:     getIntEnv("RETRY_ATTEMPTS", 3),
		RetryBaseDelay:    getDurationEnv("RETRY_BASE_DELAY", 250*time.Millisecond),
		BreakerThreshold:  getIntEnv("BREAKER_THRESHOLD", 5),
		BreakerCooldown:   getDurationEnv("BREAKER_COOLDOWN", 30*time.Second),
		ModelCallsPerHour: getIntEnv("MODEL_CALLS_PER_HOUR", 100),

		SalienceThreshold: getFloatEnv("MEMORY_SALIENCE_THRESHOLD", 0.7),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
