package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("GEMINI_MODEL_ID", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.GeminiModelID != "gemini-2.5-flash" {
		t.Fatalf("expected default gemini model, got %s", cfg.GeminiModelID)
	}
	if cfg.LLMTimeout != 60*time.Second {
		t.Fatalf("expected default llm timeout, got %s", cfg.LLMTimeout)
	}
	if cfg.LLMTemperature != 0.7 {
		t.Fatalf("expected default temperature, got %f", cfg.LLMTemperature)
	}
	if cfg.ContextTTL != 24*time.Hour {
		t.Fatalf("expected default context ttl, got %s", cfg.ContextTTL)
	}
	if cfg.HistoryWindow != 5 {
		t.Fatalf("expected default history window, got %d", cfg.HistoryWindow)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("REDIS_ADDR", "localhost:6380")
	t.Setenv("LLM_RATE_LIMIT_MAX", "5")
	t.Setenv("LLM_RATE_LIMIT_WINDOW", "30s")
	t.Setenv("AVAILABILITY_DAYS", "7")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.RedisAddr != "localhost:6380" {
		t.Fatalf("expected redis override, got %s", cfg.RedisAddr)
	}
	if cfg.RateLimitMax != 5 {
		t.Fatalf("expected rate limit override, got %d", cfg.RateLimitMax)
	}
	if cfg.RateLimitWindow != 30*time.Second {
		t.Fatalf("expected rate window override, got %s", cfg.RateLimitWindow)
	}
	if cfg.AvailabilityDays != 7 {
		t.Fatalf("expected availability override, got %d", cfg.AvailabilityDays)
	}
}
