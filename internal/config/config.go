package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the system-wide settings coordinator.
type Config struct {
	Database *DatabaseConfig `json:"database"`
	HTTP     *HTTPConfig     `json:"http"`
	Policy   *PolicyConfig   `json:"policy"`
	Log      *LogConfig      `json:"log"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// PolicyConfig holds the live-session tuning knobs. The concrete values are
// policy, not correctness requirements, so they are configurable.
type PolicyConfig struct {
	// SessionTTL is the expiry horizon set at session creation.
	SessionTTL time.Duration `json:"session_ttl"`
	// CodeLength is the generated session code length.
	CodeLength int `json:"code_length"`
	// CodeRetries bounds collision retries during code generation.
	CodeRetries int `json:"code_retries"`
	// AliasFreshness is the window within which an alias with a different
	// client token is considered squatted rather than reusable.
	AliasFreshness time.Duration `json:"alias_freshness"`
	// HeartbeatInterval is the participant touch cadence.
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	// PollInterval is the session re-validation cadence while joined.
	PollInterval time.Duration `json:"poll_interval"`
	// PresenceTimeout is how long a room may be silent before the teacher
	// view marks it closed.
	PresenceTimeout time.Duration `json:"presence_timeout"`
	// SweepInterval is the cadence of the expired-session sweep.
	SweepInterval time.Duration `json:"sweep_interval"`
	// KeepAliveInterval is the SSE keep-alive comment cadence.
	KeepAliveInterval time.Duration `json:"keepalive_interval"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// DefaultConfig returns production-ready defaults matching classroom scale.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./mathlive.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // streaming endpoints must not be cut off
		},
		Policy: &PolicyConfig{
			SessionTTL:        90 * time.Minute,
			CodeLength:        6,
			CodeRetries:       5,
			AliasFreshness:    2 * time.Minute,
			HeartbeatInterval: 30 * time.Second,
			PollInterval:      30 * time.Second,
			PresenceTimeout:   20 * time.Second,
			SweepInterval:     5 * time.Minute,
			KeepAliveInterval: 20 * time.Second,
		},
		Log: &LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database == nil || c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.Policy == nil {
		return fmt.Errorf("policy configuration is required")
	}
	p := c.Policy
	if p.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if p.CodeLength < 4 {
		return fmt.Errorf("code length must be at least 4")
	}
	if p.CodeRetries < 1 {
		return fmt.Errorf("code retries must be at least 1")
	}
	if p.AliasFreshness <= 0 {
		return fmt.Errorf("alias freshness window must be positive")
	}
	if p.HeartbeatInterval <= 0 || p.PollInterval <= 0 {
		return fmt.Errorf("heartbeat and poll intervals must be positive")
	}
	if p.PresenceTimeout <= 0 {
		return fmt.Errorf("presence timeout must be positive")
	}
	if p.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if p.KeepAliveInterval <= 0 {
		return fmt.Errorf("keep-alive interval must be positive")
	}
	return nil
}

// LoadFromEnv loads configuration from the environment, reading a .env file
// first when one is present. Environment variables override defaults.
func LoadFromEnv() *Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if v := os.Getenv("MATHLIVE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if d, ok := envDuration("MATHLIVE_DATABASE_TIMEOUT"); ok {
		cfg.Database.Timeout = d
	}
	if v := os.Getenv("MATHLIVE_HTTP_HOST"); v != "" {
		cfg.HTTP.Host = v
	}
	if v := os.Getenv("MATHLIVE_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if d, ok := envDuration("MATHLIVE_HTTP_READ_TIMEOUT"); ok {
		cfg.HTTP.ReadTimeout = d
	}
	if d, ok := envDuration("MATHLIVE_SESSION_TTL"); ok {
		cfg.Policy.SessionTTL = d
	}
	if v := os.Getenv("MATHLIVE_CODE_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Policy.CodeLength = n
		}
	}
	if d, ok := envDuration("MATHLIVE_ALIAS_FRESHNESS"); ok {
		cfg.Policy.AliasFreshness = d
	}
	if d, ok := envDuration("MATHLIVE_HEARTBEAT_INTERVAL"); ok {
		cfg.Policy.HeartbeatInterval = d
	}
	if d, ok := envDuration("MATHLIVE_POLL_INTERVAL"); ok {
		cfg.Policy.PollInterval = d
	}
	if d, ok := envDuration("MATHLIVE_PRESENCE_TIMEOUT"); ok {
		cfg.Policy.PresenceTimeout = d
	}
	if d, ok := envDuration("MATHLIVE_SWEEP_INTERVAL"); ok {
		cfg.Policy.SweepInterval = d
	}
	if d, ok := envDuration("MATHLIVE_KEEPALIVE_INTERVAL"); ok {
		cfg.Policy.KeepAliveInterval = d
	}
	if v := os.Getenv("MATHLIVE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MATHLIVE_LOG_DEVELOPMENT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.Development = b
		}
	}

	return cfg
}

// configFile mirrors Config with string durations for JSON parsing.
type configFile struct {
	Database *struct {
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"database"`
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	Policy *struct {
		SessionTTL        string `json:"session_ttl"`
		CodeLength        int    `json:"code_length"`
		CodeRetries       int    `json:"code_retries"`
		AliasFreshness    string `json:"alias_freshness"`
		HeartbeatInterval string `json:"heartbeat_interval"`
		PollInterval      string `json:"poll_interval"`
		PresenceTimeout   string `json:"presence_timeout"`
		SweepInterval     string `json:"sweep_interval"`
		KeepAliveInterval string `json:"keepalive_interval"`
	} `json:"policy"`
	Log *struct {
		Level       string `json:"level"`
		Development bool   `json:"development"`
	} `json:"log"`
}

// LoadFromFile loads configuration from a JSON file on top of defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if file.Database != nil {
		if file.Database.Path != "" {
			cfg.Database.Path = file.Database.Path
		}
		applyDuration(&cfg.Database.Timeout, file.Database.Timeout)
	}
	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			cfg.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			cfg.HTTP.Port = file.HTTP.Port
		}
		applyDuration(&cfg.HTTP.ReadTimeout, file.HTTP.ReadTimeout)
		applyDuration(&cfg.HTTP.WriteTimeout, file.HTTP.WriteTimeout)
	}
	if file.Policy != nil {
		applyDuration(&cfg.Policy.SessionTTL, file.Policy.SessionTTL)
		if file.Policy.CodeLength > 0 {
			cfg.Policy.CodeLength = file.Policy.CodeLength
		}
		if file.Policy.CodeRetries > 0 {
			cfg.Policy.CodeRetries = file.Policy.CodeRetries
		}
		applyDuration(&cfg.Policy.AliasFreshness, file.Policy.AliasFreshness)
		applyDuration(&cfg.Policy.HeartbeatInterval, file.Policy.HeartbeatInterval)
		applyDuration(&cfg.Policy.PollInterval, file.Policy.PollInterval)
		applyDuration(&cfg.Policy.PresenceTimeout, file.Policy.PresenceTimeout)
		applyDuration(&cfg.Policy.SweepInterval, file.Policy.SweepInterval)
		applyDuration(&cfg.Policy.KeepAliveInterval, file.Policy.KeepAliveInterval)
	}
	if file.Log != nil {
		if file.Log.Level != "" {
			cfg.Log.Level = file.Log.Level
		}
		cfg.Log.Development = file.Log.Development
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Load resolves configuration with precedence: file > environment > defaults.
func Load(path string) *Config {
	cfg := LoadFromEnv()
	if path != "" {
		if fileCfg, err := LoadFromFile(path); err == nil {
			cfg = fileCfg
		}
	}
	return cfg
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

func applyDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}
