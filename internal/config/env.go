package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// lookupFunc matches os.LookupEnv.
type lookupFunc func(key string) (string, bool)

// applyEnvOverrides applies WPM_* environment variables to the config.
// Numeric settings keep the units operators know: seconds for the threshold,
// days for the alert window.
func (c *Config) applyEnvOverrides(lookup lookupFunc) error {
	o := envOverrides{lookup: lookup}

	o.setSeconds("WPM_THRESHOLD_SECONDS", &c.Monitor.Threshold)
	o.setDays("WPM_ALERT_WINDOW_DAYS", &c.Monitor.AlertWindow)
	o.setFloat("WPM_MAX_PERFORMANCE_OVERHEAD", &c.Monitor.MaxPerformanceOverhead)
	o.setBool("WPM_ENABLED", &c.Monitor.Enabled)
	o.setBool("WPM_SUPPRESS_ON_FAILED_DELIVERY", &c.Monitor.SuppressOnFailedDelivery)

	o.setBool("WPM_ENABLE_LOCAL_FILE", &c.Channels.LocalFile.Enabled)
	o.setString("WPM_LOCAL_OUTPUT_DIR", &c.Channels.LocalFile.OutputDir)

	o.setBool("WPM_ENABLE_MATTERMOST", &c.Channels.Mattermost.Enabled)
	o.setString("WPM_MATTERMOST_SERVER_URL", &c.Channels.Mattermost.ServerURL)
	o.setString("WPM_MATTERMOST_TOKEN", &c.Channels.Mattermost.Token)
	o.setString("WPM_MATTERMOST_CHANNEL_ID", &c.Channels.Mattermost.ChannelID)
	o.setInt("WPM_MATTERMOST_MAX_RETRIES", &c.Channels.Mattermost.MaxRetries)

	o.setBool("WPM_ENABLE_S3", &c.Channels.S3.Enabled)
	o.setString("WPM_S3_BUCKET", &c.Channels.S3.Bucket)
	o.setString("WPM_S3_PREFIX", &c.Channels.S3.Prefix)
	o.setString("WPM_S3_REGION", &c.Channels.S3.Region)
	o.setString("WPM_S3_ENDPOINT", &c.Channels.S3.Endpoint)

	o.setBool("WPM_ENABLE_WEBSOCKET", &c.Channels.WebSocket.Enabled)

	o.setString("WPM_CACHE_BACKEND", &c.Cache.Backend)
	o.setString("WPM_REDIS_ADDR", &c.Cache.Redis.Addr)
	o.setString("WPM_REDIS_PASSWORD", &c.Cache.Redis.Password)

	o.setBool("WPM_ENABLE_PROFILING", &c.Profiling.Enabled)

	if v, ok := o.get("WPM_LOG_LEVEL"); ok {
		c.Logging.Level = strings.ToLower(v)
	}
	o.setString("WPM_LOG_FORMAT", &c.Logging.Format)
	o.setString("WPM_JOURNAL_PATH", &c.Journal.Path)
	if _, ok := o.get("WPM_JOURNAL_PATH"); ok {
		c.Journal.Enabled = true
	}
	o.setInt("WPM_SERVER_PORT", &c.Server.Port)

	return o.err
}

// envOverrides collects the first parse error.
type envOverrides struct {
	lookup lookupFunc
	err    error
}

func (o *envOverrides) get(key string) (string, bool) {
	v, ok := o.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (o *envOverrides) fail(key, v string, err error) {
	if o.err == nil {
		o.err = fmt.Errorf("%s=%q: %w", key, v, err)
	}
}

func (o *envOverrides) setString(key string, dst *string) {
	if v, ok := o.get(key); ok {
		*dst = v
	}
}

func (o *envOverrides) setBool(key string, dst *bool) {
	v, ok := o.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		o.fail(key, v, err)
		return
	}
	*dst = b
}

func (o *envOverrides) setInt(key string, dst *int) {
	v, ok := o.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		o.fail(key, v, err)
		return
	}
	*dst = n
}

func (o *envOverrides) setFloat(key string, dst *float64) {
	v, ok := o.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		o.fail(key, v, err)
		return
	}
	*dst = f
}

func (o *envOverrides) setSeconds(key string, dst *time.Duration) {
	var f float64
	o.setFloat(key, &f)
	if _, ok := o.get(key); ok && o.err == nil {
		*dst = time.Duration(f * float64(time.Second))
	}
}

func (o *envOverrides) setDays(key string, dst *time.Duration) {
	n := -1
	o.setInt(key, &n)
	if _, ok := o.get(key); ok && o.err == nil {
		*dst = time.Duration(n) * 24 * time.Hour
	}
}
