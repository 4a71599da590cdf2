package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the bot lifecycle service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// PublicBaseURL is the externally reachable address registered with
	// messaging platforms as the webhook callback base (e.g. an ngrok URL).
	PublicBaseURL string

	DatabaseURL string
	SQLitePath  string

	TelegramMode       string // "webhook" or "polling"
	TelegramAPIBaseURL string

	CompletionMode    string // "openai" or "mock"
	CompletionModel   string
	CompletionBaseURL string
	HistoryLimit      int

	RateLimitMessages int
	RateLimitWindow   time.Duration

	// StopTimeout bounds transport teardown during Manager.Stop.
	StopTimeout time.Duration

	AutomationCommand      string
	AutomationArgs         []string
	AutomationReadyTimeout time.Duration
	AutomationGracePeriod  time.Duration
	HandoffTTL             time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:               envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:       envOrDefault("APP_METRICS_NAMESPACE", "botfleet"),
		AllowAnyOrigin:         false,
		PublicBaseURL:          stringsTrimSpace("APP_PUBLIC_BASE_URL"),
		DatabaseURL:            stringsTrimSpace("DATABASE_URL"),
		SQLitePath:             stringsTrimSpace("SQLITE_PATH"),
		TelegramMode:           envOrDefault("TELEGRAM_MODE", "webhook"),
		TelegramAPIBaseURL:     stringsTrimSpace("TELEGRAM_API_BASE_URL"),
		CompletionMode:         envOrDefault("COMPLETION_MODE", "openai"),
		CompletionModel:        envOrDefault("COMPLETION_MODEL", "gpt-4o-mini"),
		CompletionBaseURL:      stringsTrimSpace("COMPLETION_BASE_URL"),
		AutomationCommand:      stringsTrimSpace("AUTOMATION_COMMAND"),
		HistoryLimit:           50,
		RateLimitMessages:      3,
		RateLimitWindow:        10 * time.Second,
		ShutdownTimeout:        15 * time.Second,
		StopTimeout:            5 * time.Second,
		AutomationReadyTimeout: 15 * time.Second,
		AutomationGracePeriod:  700 * time.Millisecond,
		HandoffTTL:             10 * time.Minute,
	}
	if raw := stringsTrimSpace("AUTOMATION_ARGS"); raw != "" {
		cfg.AutomationArgs = strings.Fields(raw)
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StopTimeout, err = durationFromEnv("APP_STOP_TIMEOUT", cfg.StopTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitWindow, err = durationFromEnv("RATE_LIMIT_WINDOW", cfg.RateLimitWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitMessages, err = intFromEnv("RATE_LIMIT_MESSAGES", cfg.RateLimitMessages)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("COMPLETION_HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AutomationReadyTimeout, err = durationFromEnv("AUTOMATION_READY_TIMEOUT", cfg.AutomationReadyTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AutomationGracePeriod, err = durationFromEnv("AUTOMATION_GRACE_PERIOD", cfg.AutomationGracePeriod)
	if err != nil {
		return Config{}, err
	}
	cfg.HandoffTTL, err = durationFromEnv("HANDOFF_TTL", cfg.HandoffTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.TelegramMode)) {
	case "webhook", "polling":
	default:
		return Config{}, fmt.Errorf("TELEGRAM_MODE must be webhook or polling")
	}
	if cfg.TelegramMode == "webhook" && cfg.PublicBaseURL == "" {
		return Config{}, fmt.Errorf("APP_PUBLIC_BASE_URL is required in webhook mode")
	}
	if cfg.RateLimitMessages <= 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_MESSAGES must be positive")
	}
	if cfg.RateLimitWindow < time.Second {
		return Config{}, fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1s")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("COMPLETION_HISTORY_LIMIT must be positive")
	}
	if cfg.StopTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_STOP_TIMEOUT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
