package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/web-performance-monitor/internal/alerting"
	"github.com/compresr/web-performance-monitor/internal/config"
	"github.com/compresr/web-performance-monitor/internal/monitor"
	"github.com/compresr/web-performance-monitor/internal/tui"
)

// TestEmbeddedDefaultConfig verifies the embedded default config loads and validates.
func TestEmbeddedDefaultConfig(t *testing.T) {
	data, err := getEmbeddedConfig("default")
	require.NoError(t, err)

	cfg, err := config.LoadFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Monitor.Threshold)
	assert.Equal(t, 240*time.Hour, cfg.Monitor.AlertWindow)
	assert.True(t, cfg.Channels.LocalFile.Enabled)
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

// TestResolveConfig_UserPath verifies an explicit --config path wins.
func TestResolveConfig_UserPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("monitor:\n  threshold: 2s\n"), 0600))

	data, source, err := resolveConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, source)
	assert.Contains(t, string(data), "threshold: 2s")

	_, _, err = resolveConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestRouter verifies instrumented routes and admin endpoints on the demo router.
func TestRouter(t *testing.T) {
	cfg := config.Default()
	cfg.Monitor.Threshold = 50 * time.Millisecond
	cfg.Channels.LocalFile.OutputDir = t.TempDir()
	cfg.Channels.WebSocket.Enabled = true

	mon, err := monitor.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mon.Cleanup() })

	srv := httptest.NewServer(newRouter(cfg, mon))
	t.Cleanup(srv.Close)

	get := func(path string) *http.Response {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}
	post := func(path string) *http.Response {
		resp, err := http.Post(srv.URL+path, "application/json", nil)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusOK, get("/api/fast").StatusCode)
	assert.Equal(t, http.StatusOK, get("/api/slow?delay=0.1").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get("/api/slow?delay=abc").StatusCode)

	stats := mon.Stats()
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.SlowRequests)
	assert.Equal(t, int64(1), stats.AlertsSent)

	alerts := mon.AlertStats(t.Context())
	require.Len(t, alerts.RecentAlerts, 1)
	assert.Equal(t, "/api/slow", alerts.RecentAlerts[0].Endpoint)

	assert.Equal(t, http.StatusOK, post("/admin/disable").StatusCode)
	assert.False(t, mon.IsMonitoringEnabled())
	assert.Equal(t, http.StatusOK, post("/admin/enable").StatusCode)
	assert.True(t, mon.IsMonitoringEnabled())

	assert.Equal(t, http.StatusOK, post("/admin/reset-stats").StatusCode)
	assert.Equal(t, http.StatusOK, post("/admin/clear-alerts").StatusCode)
	assert.Equal(t, http.StatusOK, post("/admin/test").StatusCode)
	assert.Equal(t, http.StatusOK, get("/admin/stats").StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, get("/admin/test").StatusCode)

	resp := get("/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
}

// TestRouteTemplate verifies the endpoint name and params come from the mux route.
func TestRouteTemplate(t *testing.T) {
	cfg := config.Default()
	cfg.Monitor.Threshold = time.Nanosecond
	cfg.Channels.LocalFile.OutputDir = t.TempDir()

	mon, err := monitor.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mon.Cleanup() })

	srv := httptest.NewServer(newRouter(cfg, mon))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/items/42?verbose=1")
	require.NoError(t, err)
	resp.Body.Close()

	alerts := mon.AlertStats(t.Context())
	require.Len(t, alerts.RecentAlerts, 1)
	assert.Equal(t, "/api/items/{id}", alerts.RecentAlerts[0].Endpoint)
}

// TestDemoDelay verifies parsing and capping of the delay parameter.
func TestDemoDelay(t *testing.T) {
	tests := []struct {
		query   string
		want    time.Duration
		wantErr bool
	}{
		{"", time.Second, false},
		{"delay=0.25", 250 * time.Millisecond, false},
		{"delay=999", maxDemoDelay, false},
		{"delay=-1", 0, true},
		{"delay=soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/slow?"+tt.query, nil)
			got, err := demoDelay(r, time.Second)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestPrintCheck verifies the human-readable check output.
func TestPrintCheck(t *testing.T) {
	var buf bytes.Buffer
	printCheck(tui.Plain(&buf), alerting.SelfTestResult{
		Success:         false,
		NotifierResults: map[string]bool{"mattermost": false},
		Errors:          map[string]string{"mattermost": "connection refused"},
		Message:         "0 of 1 channels healthy",
	}, time.Second)

	out := buf.String()
	assert.Contains(t, out, "[ERROR] mattermost: connection refused")
	assert.Contains(t, out, "[ERROR] 0 of 1 channels healthy")
}
