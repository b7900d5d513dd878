// Package notify delivers slow-request alerts to external destinations.
//
// DESIGN: Every destination implements Channel. The dispatcher calls Send on
// each enabled channel concurrently and turns a returned error (or a panic) into
// a failed outcome, so one broken channel never affects the others.
//
// CHANNELS:
//   - LocalFile:  HTML report written to a directory
//   - Mattermost: report uploaded and posted to a chat channel
//   - S3:         report archived to an S3 bucket
//   - WebSocket:  JSON summary pushed to live subscribers
package notify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/compresr/web-performance-monitor/internal/monitoring"
)

// Sentinel errors.
var (
	ErrChannelDisabled = errors.New("channel disabled")
	ErrNoSubscribers   = errors.New("no websocket subscribers")
)

// Channel is a notification destination.
type Channel interface {
	// Name identifies the channel in outcomes, logs and metrics.
	Name() string
	// Enabled reports whether the dispatcher should invoke the channel.
	Enabled() bool
	// Send delivers one alert. report is the rendered HTML report.
	Send(ctx context.Context, ev *monitoring.PerformanceEvent, report []byte) error
	// TestConnection checks the destination is reachable without sending an alert.
	TestConnection(ctx context.Context) error
}

// ChannelsConfig groups the per-channel settings.
type ChannelsConfig struct {
	LocalFile  LocalFileConfig  `yaml:"local_file"`
	Mattermost MattermostConfig `yaml:"mattermost"`
	S3         S3Config         `yaml:"s3"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
}

// AnyEnabled reports whether at least one channel is switched on.
func (c ChannelsConfig) AnyEnabled() bool {
	return c.LocalFile.Enabled || c.Mattermost.Enabled || c.S3.Enabled || c.WebSocket.Enabled
}

// LocalFileConfig configures the local report directory.
type LocalFileConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
}

// MattermostConfig configures the chat channel.
type MattermostConfig struct {
	Enabled    bool          `yaml:"enabled"`
	ServerURL  string        `yaml:"server_url"`
	Token      string        `yaml:"token"`
	ChannelID  string        `yaml:"channel_id"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`     // per HTTP call
	RetryDelay time.Duration `yaml:"retry_delay"` // base of the quadratic backoff
	RateLimit  float64       `yaml:"rate_limit"`  // posts per second, 0 = unlimited
}

// Missing lists the settings required to deliver.
func (c MattermostConfig) Missing() []string {
	var missing []string
	if c.ServerURL == "" {
		missing = append(missing, "server_url")
	}
	if c.Token == "" {
		missing = append(missing, "token")
	}
	if c.ChannelID == "" {
		missing = append(missing, "channel_id")
	}
	return missing
}

// S3Config configures the report archive.
type S3Config struct {
	Enabled  bool   `yaml:"enabled"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // custom endpoint, e.g. MinIO
	// Static credentials; empty uses the default AWS credential chain.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// WebSocketConfig configures the live alert feed.
type WebSocketConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Path         string        `yaml:"path"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	BufferSize   int           `yaml:"buffer_size"` // per-subscriber queue
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ReportName builds a unique, filesystem-safe report name (without extension)
// for ev: perf_alert_<YYYYmmdd_HHMMSS>_<endpoint>_<fp8>.
func ReportName(ev *monitoring.PerformanceEvent) string {
	slug := strings.Trim(unsafeChars.ReplaceAllString(ev.Endpoint, "_"), "_.")
	if slug == "" {
		slug = "root"
	}
	if len(slug) > 60 {
		slug = slug[:60]
	}
	fp := ev.Fingerprint()
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("perf_alert_%s_%s_%s", ts.UTC().Format("20060102_150405"), slug, fp[:8])
}
