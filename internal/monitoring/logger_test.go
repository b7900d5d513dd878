package monitoring_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/web-performance-monitor/internal/monitoring"
)

// TestRequestLogger_EventFields verifies slow-request lines carry the event's identifying fields.
func TestRequestLogger_EventFields(t *testing.T) {
	var buf bytes.Buffer
	logger := monitoring.NewWithWriter(&buf, "debug").Component("monitor")
	rl := monitoring.NewRequestLogger(logger)

	rl.LogSlow(&monitoring.PerformanceEvent{
		Endpoint:  "/api/orders",
		Method:    "POST",
		RequestID: "req-1",
		Duration:  2 * time.Second,
		Error:     "timeout",
	}, time.Second)

	line := strings.TrimSpace(buf.String())
	require.True(t, gjson.Valid(line), line)
	assert.Equal(t, "perfmon", gjson.Get(line, "service").String())
	assert.Equal(t, "monitor", gjson.Get(line, "component").String())
	assert.Equal(t, "/api/orders", gjson.Get(line, "endpoint").String())
	assert.Equal(t, "POST", gjson.Get(line, "method").String())
	assert.Equal(t, "req-1", gjson.Get(line, "request_id").String())
	assert.Equal(t, "timeout", gjson.Get(line, "error").String())
	assert.Equal(t, "slow_request", gjson.Get(line, "message").String())
}

// TestLogger_LevelFiltering verifies the configured level drops lower lines.
func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	rl := monitoring.NewRequestLogger(monitoring.NewWithWriter(&buf, "warn"))

	rl.LogMeasured(&monitoring.PerformanceEvent{Endpoint: "/fast"})
	assert.Empty(t, buf.String())

	rl.LogSlow(&monitoring.PerformanceEvent{Endpoint: "/slow"}, time.Millisecond)
	assert.NotEmpty(t, buf.String())
	assert.False(t, gjson.Get(strings.TrimSpace(buf.String()), "method").Exists())
}

// TestRequestIDContext verifies the request ID round trip through a context.
func TestRequestIDContext(t *testing.T) {
	assert.Empty(t, monitoring.RequestIDFromContext(context.Background()))
	ctx := monitoring.WithRequestIDContext(context.Background(), "abc")
	assert.Equal(t, "abc", monitoring.RequestIDFromContext(ctx))
}
