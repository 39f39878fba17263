package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "voice"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.HasPrefix(err.Error(), "config errors:") {
		t.Fatalf("expected aggregated errors, got %v", err)
	}
}

func TestValidate_ProductionRequiresSSLModeAndLiveKit(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
	if !strings.Contains(err.Error(), "DB_SSLMODE") || !strings.Contains(err.Error(), "LIVEKIT_URL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_LocalAppliesDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Calls.NoAnswerTimeout != 60*time.Second {
		t.Fatalf("expected 60s no-answer default, got %v", c.Calls.NoAnswerTimeout)
	}
	if c.Resemble.CacheTTL != 5*time.Minute {
		t.Fatalf("expected 5m voice cache default, got %v", c.Resemble.CacheTTL)
	}
	if c.Calls.QueueBackend != "redis" {
		t.Fatalf("expected redis queue default, got %q", c.Calls.QueueBackend)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_NAME", "voice")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("CALL_NO_ANSWER_TIMEOUT", "45s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Port != 9000 || c.HTTPAddr() != ":9000" {
		t.Fatalf("unexpected port: %d", c.App.Port)
	}
	if c.Calls.NoAnswerTimeout != 45*time.Second {
		t.Fatalf("unexpected timeout: %v", c.Calls.NoAnswerTimeout)
	}
	if len(c.CORS.AllowedOrigins) != 2 || c.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", c.CORS.AllowedOrigins)
	}
	if c.RedisAddr() != "redis:6379" {
		t.Fatalf("unexpected redis addr: %s", c.RedisAddr())
	}
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_NAME", "voice")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("CALL_NO_ANSWER_TIMEOUT", "soon")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "CALL_NO_ANSWER_TIMEOUT") {
		t.Fatalf("expected duration error, got %v", err)
	}
}
