package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the overseer service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	ContextInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	AgentLinkURL       string
	AgentLinkToken     string
	AgentLinkAutoStart bool

	EventHistoryLimit int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "overseer"),
		AllowAnyOrigin:   false,
		// Default assumes a locally running agent gateway.
		AgentLinkURL:             envOrDefault("AGENT_LINK_URL", "ws://127.0.0.1:18790/hooks"),
		AgentLinkToken:           stringsTrimSpace("AGENT_LINK_TOKEN"),
		AgentLinkAutoStart:       true,
		EventHistoryLimit:        512,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		ContextInactivityTimeout: 30 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextInactivityTimeout, err = durationFromEnv("APP_CONTEXT_INACTIVITY_TIMEOUT", cfg.ContextInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EventHistoryLimit, err = intFromEnv("APP_EVENT_HISTORY_LIMIT", cfg.EventHistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentLinkAutoStart, err = boolFromEnv("AGENT_LINK_AUTOSTART", cfg.AgentLinkAutoStart)
	if err != nil {
		return Config{}, err
	}

	if cfg.ContextInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_CONTEXT_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.EventHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("APP_EVENT_HISTORY_LIMIT must be positive")
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
