package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	GeminiAPIKey  string
	GeminiModelID string

	OpenAIAPIKey     string
	EmbeddingModelID string

	LLMTimeout       time.Duration
	LLMMaxTokens     int
	LLMTemperature   float64
	RateLimitMax     int
	RateLimitWindow  time.Duration
	ContextTTL       time.Duration
	HistoryWindow    int
	AvailabilityDays int

	HTTPRateLimit float64
	HTTPRateBurst int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModelID: getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		EmbeddingModelID: getEnv("EMBEDDING_MODEL_ID", "text-embedding-3-small"),

		LLMTimeout:       getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
		LLMMaxTokens:     getEnvAsInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature:   getEnvAsFloat("LLM_TEMPERATURE", 0.7),
		RateLimitMax:     getEnvAsInt("LLM_RATE_LIMIT_MAX", 20),
		RateLimitWindow:  getEnvAsDuration("LLM_RATE_LIMIT_WINDOW", time.Minute),
		ContextTTL:       getEnvAsDuration("CONTEXT_TTL", 24*time.Hour),
		HistoryWindow:    getEnvAsInt("HISTORY_WINDOW", 5),
		AvailabilityDays: getEnvAsInt("AVAILABILITY_DAYS", 14),

		HTTPRateLimit: getEnvAsFloat("HTTP_RATE_LIMIT", 5),
		HTTPRateBurst: getEnvAsInt("HTTP_RATE_BURST", 10),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
