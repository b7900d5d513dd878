// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by the monitor, alerting, notify and store packages.
// Defined here ONCE to avoid duplication and circular imports.
//
// TYPES:
//   - PerformanceEvent: one measured execution (request or function call)
//   - Config types:     LoggerConfig, JournalConfig
package monitoring

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// PerformanceEvent captures one measured execution. Treat it as immutable once
// it has been handed to Record.
type PerformanceEvent struct {
	Endpoint  string         `json:"endpoint"`
	Method    string         `json:"method,omitempty"`
	URL       string         `json:"url,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
	Status    int            `json:"status,omitempty"` // HTTP status, 0 when unknown
	Error     string         `json:"error,omitempty"`  // set when a measured function failed
	RequestID string         `json:"request_id,omitempty"`
	Profile   string         `json:"profile,omitempty"` // optional profiling summary
}

// DurationSeconds returns the duration as fractional seconds.
func (e *PerformanceEvent) DurationSeconds() float64 {
	return e.Duration.Seconds()
}

// IsSlow reports whether the event exceeded threshold.
func (e *PerformanceEvent) IsSlow(threshold time.Duration) bool {
	return e.Duration > threshold
}

// Fingerprint returns the deduplication key for the event.
//
// Only the endpoint, the method and the params take part; timestamp, duration,
// status and URL do not. Params are visited in sorted key order and each value is
// coerced through JSON, falling back to a type placeholder, so the result is
// stable and the call never panics.
func (e *PerformanceEvent) Fingerprint() string {
	keys := make([]string, 0, len(e.Params))
	for k := range e.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Components are encoded as a JSON string array so separators inside
	// keys or values cannot make two different events collide.
	parts := make([]string, 0, 2+2*len(keys))
	parts = append(parts, e.Endpoint, strings.ToUpper(e.Method))
	for _, k := range keys {
		parts = append(parts, k, normalizeValue(e.Params[k]))
	}
	data, _ := json.Marshal(parts)

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// normalizeValue renders v canonically. encoding/json sorts map keys, which keeps
// nested maps stable.
func normalizeValue(v any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("<%T>", v)
		}
	}()
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%T>", v)
	}
	return string(data)
}

// Summary returns a one-line description used in chat messages and logs.
func (e *PerformanceEvent) Summary() string {
	var b strings.Builder
	if e.Method != "" {
		b.WriteString(e.Method)
		b.WriteByte(' ')
	}
	b.WriteString(e.Endpoint)
	fmt.Fprintf(&b, " took %.3fs", e.DurationSeconds())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " (error: %s)", e.Error)
	}
	fmt.Fprintf(&b, " at %s", e.Timestamp.Format(time.RFC3339))
	return b.String()
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// JournalConfig controls the JSONL alert journal.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	LogToStdout bool   `yaml:"log_to_stdout"`
}
