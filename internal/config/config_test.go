package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.Janitor.Schedule != "@every 5m" {
		t.Errorf("expected default janitor schedule, got %q", cfg.Janitor.Schedule)
	}
}

func TestLoadBridgeRequiresServerURL(t *testing.T) {
	t.Setenv("MAILBOX_SERVER_URL", "")
	t.Setenv("MAILBOX_API_KEY", "amb_test")
	t.Setenv("OPENCLAW_GATEWAY_URL", "http://localhost:9000")
	if _, err := LoadBridge(); err == nil {
		t.Error("expected validation error for missing MAILBOX_SERVER_URL")
	}
}

func TestLoadBridgeDefaults(t *testing.T) {
	t.Setenv("MAILBOX_SERVER_URL", "ws://localhost:8080/ws")
	t.Setenv("MAILBOX_API_KEY", "amb_test")
	t.Setenv("OPENCLAW_GATEWAY_URL", "http://localhost:9000")
	t.Setenv("TRUSTED_AGENTS", "Alice, BOB")

	cfg, err := LoadBridge()
	if err != nil {
		t.Fatalf("LoadBridge failed: %v", err)
	}
	if cfg.AgentReplyTimeout != 300*time.Second {
		t.Errorf("expected default reply timeout 300s, got %v", cfg.AgentReplyTimeout)
	}
	if !cfg.IsTrusted("alice") || !cfg.IsTrusted("Bob") {
		t.Error("expected TRUSTED_AGENTS entries to be matched case-insensitively")
	}
	if cfg.IsTrusted("carol") {
		t.Error("did not expect carol to be trusted")
	}
}

func TestLoadBridgeAgentReplyTimeoutAsSeconds(t *testing.T) {
	t.Setenv("MAILBOX_SERVER_URL", "ws://localhost:8080/ws")
	t.Setenv("MAILBOX_API_KEY", "amb_test")
	t.Setenv("OPENCLAW_GATEWAY_URL", "http://localhost:9000")
	t.Setenv("AGENT_REPLY_TIMEOUT", "60")

	cfg, err := LoadBridge()
	if err != nil {
		t.Fatalf("LoadBridge failed: %v", err)
	}
	if cfg.AgentReplyTimeout != 60*time.Second {
		t.Errorf("expected 60s, got %v", cfg.AgentReplyTimeout)
	}
}
