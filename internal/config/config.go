// Package config provides application configuration.
//
// Configuration is loaded from environment variables with sensible defaults.
// Two entrypoints load from this package: the relay server (Load) and the
// bridge daemon (LoadBridge).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// JanitorConfig controls the pending-connection expiry sweep.
type JanitorConfig struct {
	Schedule    string        // cron schedule, e.g. "@every 5m"
	ExpiryGrace time.Duration // extra time kept after expiry before purge
}

// RetryConfig holds database retry configuration.
type RetryConfig struct {
	DatabaseMaxRetries     int
	DatabaseRetryBaseDelay time.Duration
}

// Config holds relay server configuration.
type Config struct {
	Port            string
	DBPath          string
	EncryptionKey   string // base64 or hex chacha20poly1305 key; empty disables at-rest encryption
	AllowedOrigin   string // push endpoint CORS/websocket origin, "*" for any
	Janitor         JanitorConfig
	Retry           RetryConfig
}

// Load reads relay server configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DBPath:        getEnv("DB_PATH", "./data/mailbox.db"),
		EncryptionKey: getEnv("MAILBOX_ENCRYPTION_KEY", ""),
		AllowedOrigin: getEnv("MAILBOX_ALLOWED_ORIGIN", "*"),
		Janitor: JanitorConfig{
			Schedule:    getEnv("MAILBOX_JANITOR_SCHEDULE", "@every 5m"),
			ExpiryGrace: getEnvDuration("MAILBOX_JANITOR_GRACE", time.Hour),
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     getEnvInt("MAILBOX_DB_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay: getEnvDuration("MAILBOX_DB_RETRY_BASE_DELAY", 50*time.Millisecond),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Janitor.Schedule == "" {
		return fmt.Errorf("MAILBOX_JANITOR_SCHEDULE cannot be empty")
	}
	return nil
}

// BridgeConfig holds bridge daemon configuration.
type BridgeConfig struct {
	ServerURL          string        // MAILBOX_SERVER_URL, e.g. ws(s)://host/ws
	APIKey             string        // MAILBOX_API_KEY
	GatewayURL         string        // OPENCLAW_GATEWAY_URL
	GatewayToken       string        // OPENCLAW_GATEWAY_TOKEN
	HookURL            string        // optional, wake-hook base URL
	HookToken          string        // optional, wake-hook auth token
	TrustedAgents      []string      // case-folded TRUSTED_AGENTS allowlist
	AgentReplyTimeout  time.Duration // AGENT_REPLY_TIMEOUT, default 300s
	HeartbeatInterval  time.Duration
	PingInterval       time.Duration
	PongTimeout        time.Duration
	ReconnectMinDelay  time.Duration
	ReconnectMaxDelay  time.Duration
}

// LoadBridge reads bridge daemon configuration from environment variables.
func LoadBridge() (*BridgeConfig, error) {
	cfg := &BridgeConfig{
		ServerURL:         getEnv("MAILBOX_SERVER_URL", ""),
		APIKey:            getEnv("MAILBOX_API_KEY", ""),
		GatewayURL:        getEnv("OPENCLAW_GATEWAY_URL", ""),
		GatewayToken:      getEnv("OPENCLAW_GATEWAY_TOKEN", ""),
		HookURL:           getEnv("OPENCLAW_HOOK_URL", ""),
		HookToken:         getEnv("OPENCLAW_HOOK_TOKEN", ""),
		TrustedAgents:     splitAndFold(getEnv("TRUSTED_AGENTS", "")),
		AgentReplyTimeout: getEnvDuration("AGENT_REPLY_TIMEOUT", 300*time.Second),
		HeartbeatInterval: 5 * time.Second,
		PingInterval:      5 * time.Second,
		PongTimeout:       10 * time.Second,
		ReconnectMinDelay: time.Second,
		ReconnectMaxDelay: 30 * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required bridge configuration fields are set.
func (c *BridgeConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("MAILBOX_SERVER_URL cannot be empty")
	}
	if c.APIKey == "" {
		return fmt.Errorf("MAILBOX_API_KEY cannot be empty")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("OPENCLAW_GATEWAY_URL cannot be empty")
	}
	return nil
}

// IsTrusted reports whether name appears in the case-folded TRUSTED_AGENTS
// allowlist.
func (c *BridgeConfig) IsTrusted(name string) bool {
	folded := strings.ToLower(strings.TrimSpace(name))
	for _, trusted := range c.TrustedAgents {
		if trusted == folded {
			return true
		}
	}
	return false
}

func splitAndFold(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
