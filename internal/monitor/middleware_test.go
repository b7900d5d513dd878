package monitor_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/web-performance-monitor/internal/config"
	"github.com/compresr/web-performance-monitor/internal/monitor"
	"github.com/compresr/web-performance-monitor/internal/monitoring"
)

func sleepy(d time.Duration, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(d)
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ok"))
	})
}

// TestMiddleware_SlowRequest verifies a slow handler produces an alert carrying request details.
func TestMiddleware_SlowRequest(t *testing.T) {
	m, ch := newMonitor(t, nil)
	h := m.Middleware(sleepy(80*time.Millisecond, http.StatusAccepted))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders?limit=5&tag=a&tag=b", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(monitor.HeaderRequestID))

	ev := ch.last()
	require.NotNil(t, ev)
	assert.Equal(t, "/api/orders", ev.Endpoint)
	assert.Equal(t, http.MethodPost, ev.Method)
	assert.Equal(t, http.StatusAccepted, ev.Status)
	assert.Equal(t, "5", ev.Params["limit"])
	assert.Equal(t, []string{"a", "b"}, ev.Params["tag"])
	assert.Equal(t, rec.Header().Get(monitor.HeaderRequestID), ev.RequestID)
	assert.GreaterOrEqual(t, ev.Duration, 80*time.Millisecond)
}

// TestMiddleware_FastRequest verifies a fast handler is counted without alerting.
func TestMiddleware_FastRequest(t *testing.T) {
	m, ch := newMonitor(t, nil)
	h := m.Middleware(sleepy(0, http.StatusOK))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, int64(1), m.Stats().TotalRequests)
	assert.Equal(t, int64(0), ch.sends.Load())
	assert.Equal(t, int64(1), m.Stats().OverheadStats.SampleCount)
}

// TestMiddleware_RequestIDPropagation verifies an incoming request ID is kept and visible to the handler.
func TestMiddleware_RequestIDPropagation(t *testing.T) {
	m, _ := newMonitor(t, nil)

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = monitoring.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(monitor.HeaderRequestID, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get(monitor.HeaderRequestID))
}

// TestMiddleware_Options verifies resolver, params extractor and threshold options.
func TestMiddleware_Options(t *testing.T) {
	m, ch := newMonitor(t, nil)
	h := m.MiddlewareFunc(
		monitor.WithEndpointResolver(func(*http.Request) string { return "/users/{id}" }),
		monitor.WithParamsExtractor(func(r *http.Request) map[string]any {
			return map[string]any{"tenant": r.Header.Get("X-Tenant")}
		}),
		monitor.WithThreshold(10*time.Millisecond),
	)(sleepy(20*time.Millisecond, http.StatusOK))

	req := httptest.NewRequest(http.MethodGet, "/users/42", nil)
	req.Header.Set("X-Tenant", "acme")
	h.ServeHTTP(httptest.NewRecorder(), req)

	ev := ch.last()
	require.NotNil(t, ev)
	assert.Equal(t, "/users/{id}", ev.Endpoint)
	assert.Equal(t, map[string]any{"tenant": "acme"}, ev.Params)
}

// TestMiddleware_ResolverPanic verifies a broken resolver falls back to the URL path.
func TestMiddleware_ResolverPanic(t *testing.T) {
	m, ch := newMonitor(t, nil)
	h := m.Middleware(sleepy(60*time.Millisecond, http.StatusOK),
		monitor.WithEndpointResolver(func(*http.Request) string { panic("boom") }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fallback", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	ev := ch.last()
	require.NotNil(t, ev)
	assert.Equal(t, "/fallback", ev.Endpoint)
}

// TestMiddleware_HandlerPanic verifies the handler's panic is recorded and re-raised unchanged.
func TestMiddleware_HandlerPanic(t *testing.T) {
	m, ch := newMonitor(t, func(c *config.Config) { c.Monitor.Threshold = time.Nanosecond })
	sentinel := errors.New("handler failed")
	h := m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(sentinel)
	}))

	assert.PanicsWithError(t, sentinel.Error(), func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/explode", nil))
	})

	ev := ch.last()
	require.NotNil(t, ev)
	assert.Equal(t, http.StatusInternalServerError, ev.Status)
	assert.Contains(t, ev.Error, "handler failed")
}

// TestMiddleware_Disabled verifies a disabled monitor passes requests straight through.
func TestMiddleware_Disabled(t *testing.T) {
	m, _ := newMonitor(t, nil)
	m.DisableMonitoring()

	rec := httptest.NewRecorder()
	m.Middleware(sleepy(0, http.StatusTeapot)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get(monitor.HeaderRequestID))
	assert.Equal(t, int64(0), m.Stats().TotalRequests)
}

// TestMiddleware_Async verifies async recording returns before delivery and Cleanup waits for it.
func TestMiddleware_Async(t *testing.T) {
	cfg := config.Default()
	cfg.Monitor.Threshold = time.Nanosecond
	ch := &recordingChannel{delay: 100 * time.Millisecond}
	m, err := monitor.New(cfg, monitor.WithChannels(ch))
	require.NoError(t, err)

	h := m.Middleware(sleepy(0, http.StatusOK), monitor.WithAsyncRecord())

	start := time.Now()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/async", nil))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.NoError(t, m.Cleanup())
	assert.Equal(t, int64(1), ch.sends.Load())
}

// TestQueryParams verifies the default params extractor.
func TestQueryParams(t *testing.T) {
	assert.Nil(t, monitor.QueryParams(httptest.NewRequest(http.MethodGet, "/", nil)))

	got := monitor.QueryParams(httptest.NewRequest(http.MethodGet, "/?a=1&b=2&b=3", nil))
	assert.Equal(t, map[string]any{"a": "1", "b": []string{"2", "3"}}, got)
}

