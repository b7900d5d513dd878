// Monitoring configuration - logging, journal and metrics settings.
//
// DESIGN: Separates logging (zerolog) from the alert journal (JSONL file).
// Logging is for operators, the journal is an append-only dispatch record.
package config

import "github.com/compresr/web-performance-monitor/internal/monitoring"

// LoggingConfig is an alias for monitoring.LoggerConfig.
type LoggingConfig = monitoring.LoggerConfig

// JournalConfig is an alias for monitoring.JournalConfig.
type JournalConfig = monitoring.JournalConfig

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`   // Register collectors
	Namespace string `yaml:"namespace"` // Metric name prefix
	Path      string `yaml:"path"`      // Exposition path on the serve command
}
