package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"zero database timeout", func(c *Config) { c.Database.Timeout = 0 }},
		{"port too high", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"zero session TTL", func(c *Config) { c.Policy.SessionTTL = 0 }},
		{"code too short", func(c *Config) { c.Policy.CodeLength = 3 }},
		{"zero retries", func(c *Config) { c.Policy.CodeRetries = 0 }},
		{"zero freshness", func(c *Config) { c.Policy.AliasFreshness = 0 }},
		{"zero heartbeat", func(c *Config) { c.Policy.HeartbeatInterval = 0 }},
		{"zero presence timeout", func(c *Config) { c.Policy.PresenceTimeout = 0 }},
		{"zero sweep interval", func(c *Config) { c.Policy.SweepInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MATHLIVE_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("MATHLIVE_HTTP_PORT", "9999")
	t.Setenv("MATHLIVE_SESSION_TTL", "45m")
	t.Setenv("MATHLIVE_ALIAS_FRESHNESS", "90s")
	t.Setenv("MATHLIVE_LOG_LEVEL", "debug")

	cfg := LoadFromEnv()

	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.HTTP.Port != 9999 {
		t.Errorf("HTTP.Port = %d", cfg.HTTP.Port)
	}
	if cfg.Policy.SessionTTL != 45*time.Minute {
		t.Errorf("SessionTTL = %v", cfg.Policy.SessionTTL)
	}
	if cfg.Policy.AliasFreshness != 90*time.Second {
		t.Errorf("AliasFreshness = %v", cfg.Policy.AliasFreshness)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoadFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("MATHLIVE_HTTP_PORT", "not-a-number")
	t.Setenv("MATHLIVE_SESSION_TTL", "ninety minutes")

	cfg := LoadFromEnv()
	defaults := DefaultConfig()

	if cfg.HTTP.Port != defaults.HTTP.Port {
		t.Errorf("malformed port should keep default, got %d", cfg.HTTP.Port)
	}
	if cfg.Policy.SessionTTL != defaults.Policy.SessionTTL {
		t.Errorf("malformed TTL should keep default, got %v", cfg.Policy.SessionTTL)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"database": {"path": "/tmp/file.db", "timeout": "10s"},
		"http": {"port": 8888},
		"policy": {"session_ttl": "30m", "code_length": 8},
		"log": {"level": "warn"}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Database.Path != "/tmp/file.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Database.Timeout != 10*time.Second {
		t.Errorf("Database.Timeout = %v", cfg.Database.Timeout)
	}
	if cfg.HTTP.Port != 8888 {
		t.Errorf("HTTP.Port = %d", cfg.HTTP.Port)
	}
	if cfg.Policy.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %v", cfg.Policy.SessionTTL)
	}
	if cfg.Policy.CodeLength != 8 {
		t.Errorf("CodeLength = %d", cfg.Policy.CodeLength)
	}
	// Untouched fields keep defaults.
	if cfg.Policy.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.Policy.HeartbeatInterval)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/config.json"); err == nil {
		t.Error("missing file should error")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("malformed JSON should error")
	}
}

func TestLoadPrecedence(t *testing.T) {
	t.Setenv("MATHLIVE_HTTP_PORT", "9999")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"http": {"port": 7777}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	if cfg := Load(path); cfg.HTTP.Port != 7777 {
		t.Errorf("file should win over env, got port %d", cfg.HTTP.Port)
	}
	if cfg := Load(""); cfg.HTTP.Port != 9999 {
		t.Errorf("env should win over defaults, got port %d", cfg.HTTP.Port)
	}
}
