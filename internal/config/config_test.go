package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.AgentLinkURL != "ws://127.0.0.1:18790/hooks" {
		t.Fatalf("AgentLinkURL = %q, want local default", cfg.AgentLinkURL)
	}
	if !cfg.AgentLinkAutoStart {
		t.Fatalf("AgentLinkAutoStart = false, want true default")
	}
	if cfg.EventHistoryLimit != 512 {
		t.Fatalf("EventHistoryLimit = %d, want 512", cfg.EventHistoryLimit)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadUsesExplicitAgentLinkURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("AGENT_LINK_URL", "wss://gateway.local:7777/hooks")
	t.Setenv("AGENT_LINK_AUTOSTART", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AgentLinkURL != "wss://gateway.local:7777/hooks" {
		t.Fatalf("AgentLinkURL = %q, want explicit value", cfg.AgentLinkURL)
	}
	if cfg.AgentLinkAutoStart {
		t.Fatalf("AgentLinkAutoStart = true, want false")
	}
}

func TestLoadRejectsTinyInactivityTimeout(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_CONTEXT_INACTIVITY_TIMEOUT", "1s")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want rejection of sub-5s timeout")
	}
}

func TestLoadParsesDurations(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_SHUTDOWN_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("ShutdownTimeout = %v, want 3s", cfg.ShutdownTimeout)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_CONTEXT_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_EVENT_HISTORY_LIMIT",
		"AGENT_LINK_URL",
		"AGENT_LINK_TOKEN",
		"AGENT_LINK_AUTOSTART",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
