package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_PUBLIC_BASE_URL", "https://example.ngrok.io")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.TelegramMode != "webhook" {
		t.Fatalf("TelegramMode = %q, want %q", cfg.TelegramMode, "webhook")
	}
	if cfg.RateLimitMessages != 3 {
		t.Fatalf("RateLimitMessages = %d, want 3", cfg.RateLimitMessages)
	}
	if cfg.RateLimitWindow != 10*time.Second {
		t.Fatalf("RateLimitWindow = %v, want 10s", cfg.RateLimitWindow)
	}
}

func TestLoadWebhookModeRequiresPublicBaseURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TELEGRAM_MODE", "webhook")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for missing APP_PUBLIC_BASE_URL")
	}
}

func TestLoadPollingModeNeedsNoPublicBaseURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TELEGRAM_MODE", "polling")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PublicBaseURL != "" {
		t.Fatalf("PublicBaseURL = %q, want empty", cfg.PublicBaseURL)
	}
}

func TestLoadRejectsInvalidTelegramMode(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TELEGRAM_MODE", "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for invalid TELEGRAM_MODE")
	}
}

func TestLoadParsesRateLimitOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TELEGRAM_MODE", "polling")
	t.Setenv("RATE_LIMIT_MESSAGES", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RateLimitMessages != 5 {
		t.Fatalf("RateLimitMessages = %d, want 5", cfg.RateLimitMessages)
	}
	if cfg.RateLimitWindow != 30*time.Second {
		t.Fatalf("RateLimitWindow = %v, want 30s", cfg.RateLimitWindow)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_STOP_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_PUBLIC_BASE_URL",
		"DATABASE_URL",
		"SQLITE_PATH",
		"TELEGRAM_MODE",
		"TELEGRAM_API_BASE_URL",
		"COMPLETION_MODE",
		"COMPLETION_MODEL",
		"COMPLETION_BASE_URL",
		"COMPLETION_HISTORY_LIMIT",
		"RATE_LIMIT_MESSAGES",
		"RATE_LIMIT_WINDOW",
		"AUTOMATION_COMMAND",
		"AUTOMATION_ARGS",
		"AUTOMATION_READY_TIMEOUT",
		"AUTOMATION_GRACE_PERIOD",
		"HANDOFF_TTL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
