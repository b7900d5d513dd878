// Package config loads and validates the monitor configuration.
//
// DESIGN: Defaults match the documented behaviour (1s threshold, 10 day alert
// window, local file reports in /tmp). A YAML file is decoded on top of the
// defaults, then WPM_* environment variables override individual settings.
// Validate rejects malformed values; Normalize repairs incomplete channel
// settings the way operators expect (disable the channel, keep a fallback).
//
// FILES:
//   - config.go:     Root Config struct, Load(), Validate(), Normalize()
//   - env.go:        WPM_* environment overrides
//   - channels.go:   Channel, cache and profiling config re-exports
//   - monitoring.go: Logging, journal and metrics settings
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the performance monitor.
type Config struct {
	Monitor   MonitorConfig   `yaml:"monitor"`   // Threshold, window and dispatch policy
	Channels  ChannelsConfig  `yaml:"channels"`  // Notification channels
	Cache     CacheConfig     `yaml:"cache"`     // Alert dedup cache
	Profiling ProfilingConfig `yaml:"profiling"` // Optional CPU profile summaries
	Logging   LoggingConfig   `yaml:"logging"`   // zerolog settings
	Journal   JournalConfig   `yaml:"journal"`   // JSONL alert journal
	Metrics   MetricsConfig   `yaml:"metrics"`   // Prometheus exporter
	Server    ServerConfig    `yaml:"server"`    // perfmon serve demo/admin server
}

// MonitorConfig contains detection and dispatch settings.
type MonitorConfig struct {
	Enabled                   bool          `yaml:"enabled"`                      // Initial monitoring state
	Threshold                 time.Duration `yaml:"threshold"`                    // Slow if duration > threshold
	AlertWindow               time.Duration `yaml:"alert_window"`                 // One alert per fingerprint per window
	MaxPerformanceOverhead    float64       `yaml:"max_performance_overhead"`     // Warn above this overhead ratio
	SuppressOnFailedDelivery  bool          `yaml:"suppress_on_failed_delivery"`  // Keep the window when no channel delivered
	RequireAllChannelsHealthy bool          `yaml:"require_all_channels_healthy"` // Self-test needs every channel
	RecentAlertsLimit         int           `yaml:"recent_alerts_limit"`          // Bound of the recent-alerts log
	SendTimeout               time.Duration `yaml:"send_timeout"`                 // Per-channel delivery bound
}

// ServerConfig contains HTTP server settings for perfmon serve.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // Port to listen on
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Max time to read request
	WriteTimeout time.Duration `yaml:"write_timeout"` // Max time to write response
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Monitor: MonitorConfig{
			Enabled:                  true,
			Threshold:                time.Second,
			AlertWindow:              10 * 24 * time.Hour,
			MaxPerformanceOverhead:   0.05,
			SuppressOnFailedDelivery: true,
			RecentAlertsLimit:        100,
			SendTimeout:              2 * time.Minute,
		},
		Channels: ChannelsConfig{
			LocalFile: LocalFileConfig{Enabled: true, OutputDir: "/tmp"},
			Mattermost: MattermostConfig{
				MaxRetries: 3,
				Timeout:    10 * time.Second,
				RetryDelay: time.Second,
			},
			WebSocket: WebSocketConfig{Path: "/ws/alerts", WriteTimeout: 5 * time.Second, BufferSize: 16},
		},
		Cache: CacheConfig{
			Backend:       "memory",
			MaxEntries:    10000,
			SweepInterval: time.Hour,
			Redis:         RedisConfig{Prefix: "wpm:alert:", Timeout: 250 * time.Millisecond},
		},
		Profiling: ProfilingConfig{TopN: 10},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Metrics:   MetricsConfig{Enabled: true, Namespace: "wpm", Path: "/metrics"},
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands environment variables with support for default values.
// Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes on top of Default().
// Supports ${VAR:-default} expansion, WPM_* overrides, validation and normalization.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()

	expanded := expandEnvWithDefaults(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return finish(cfg)
}

// FromEnv builds the configuration from defaults and WPM_* variables only.
func FromEnv() (*Config, error) {
	return finish(Default())
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.applyEnvOverrides(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Validate checks that values are well formed.
func (c *Config) Validate() error {
	m := c.Monitor
	if m.Threshold <= 0 {
		return fmt.Errorf("monitor.threshold must be positive, got %s", m.Threshold)
	}
	if m.AlertWindow <= 0 {
		return fmt.Errorf("monitor.alert_window must be positive, got %s", m.AlertWindow)
	}
	if m.MaxPerformanceOverhead <= 0 || m.MaxPerformanceOverhead > 1 {
		return fmt.Errorf("monitor.max_performance_overhead must be in (0, 1], got %v", m.MaxPerformanceOverhead)
	}
	if m.RecentAlertsLimit < 0 {
		return fmt.Errorf("monitor.recent_alerts_limit must not be negative, got %d", m.RecentAlertsLimit)
	}

	if c.Channels.Mattermost.MaxRetries < 0 {
		return fmt.Errorf("channels.mattermost.max_retries must not be negative, got %d", c.Channels.Mattermost.MaxRetries)
	}
	if c.Channels.Mattermost.RateLimit < 0 {
		return fmt.Errorf("channels.mattermost.rate_limit must not be negative, got %v", c.Channels.Mattermost.RateLimit)
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid cache.backend: %q (must be memory or redis)", c.Cache.Backend)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative, got %d", c.Cache.MaxEntries)
	}

	if c.Logging.Level != "" {
		if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
		}
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid logging.format: %q (must be json or console)", c.Logging.Format)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}
	return nil
}

// Normalize disables channels whose required settings are missing and enables
// the local file channel when nothing else is enabled. It returns the warnings
// it logged.
func (c *Config) Normalize() []string {
	var warnings []string
	warn := func(msg string, fields map[string]any) {
		warnings = append(warnings, msg)
		log.Warn().Fields(fields).Msg(msg)
	}

	ch := &c.Channels
	if ch.LocalFile.Enabled && ch.LocalFile.OutputDir == "" {
		ch.LocalFile.OutputDir = "/tmp"
		warn("local file output dir empty, using /tmp", nil)
	}
	if ch.Mattermost.Enabled {
		if missing := ch.Mattermost.Missing(); len(missing) > 0 {
			ch.Mattermost.Enabled = false
			warn("mattermost configuration incomplete, channel disabled", map[string]any{"missing": missing})
		}
	}
	if ch.S3.Enabled && ch.S3.Bucket == "" {
		ch.S3.Enabled = false
		warn("s3 bucket not set, channel disabled", nil)
	}
	if !ch.AnyEnabled() {
		ch.LocalFile.Enabled = true
		if ch.LocalFile.OutputDir == "" {
			ch.LocalFile.OutputDir = "/tmp"
		}
		warn("no notification channel enabled, enabling local file", map[string]any{"dir": ch.LocalFile.OutputDir})
	}
	return warnings
}

// Effective returns a copy safe to print: secrets are redacted.
func (c *Config) Effective() *Config {
	cp := *c
	cp.Channels.Mattermost.Token = redact(c.Channels.Mattermost.Token, 8)
	cp.Channels.S3.AccessKeyID = redact(c.Channels.S3.AccessKeyID, 4)
	cp.Channels.S3.SecretAccessKey = redact(c.Channels.S3.SecretAccessKey, 0)
	cp.Cache.Redis.Password = redact(c.Cache.Redis.Password, 0)
	return &cp
}

// redact keeps the first keep characters of a secret followed by ***.
func redact(s string, keep int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keep {
		return "***"
	}
	return s[:keep] + "***"
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
