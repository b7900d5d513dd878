// HTTP instrumentation for net/http handlers.
//
// DESIGN: Middleware wraps a handler and, after it returns:
//  1. captures the status code via responseWriter
//  2. builds a PerformanceEvent (endpoint, method, URL, query params, status)
//  3. records it and feeds the self-measured overhead back to the monitor
//
// A panic in the handler is recorded as a 500 with the panic text, then
// re-raised unchanged so the application's own recovery still sees it.
package monitor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/compresr/web-performance-monitor/internal/monitoring"
)

// HeaderRequestID carries the request ID in and out.
const HeaderRequestID = "X-Request-ID"

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (w *responseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.status = http.StatusOK
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher to support streaming responses.
func (w *responseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker so websocket upgrades pass through.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

type middlewareConfig struct {
	endpoint  func(*http.Request) string
	params    func(*http.Request) map[string]any
	threshold time.Duration
	async     bool
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithEndpointResolver names the endpoint of a request, e.g. from a router's
// route template. An empty result falls back to the URL path.
func WithEndpointResolver(fn func(*http.Request) string) MiddlewareOption {
	return func(c *middlewareConfig) { c.endpoint = fn }
}

// WithParamsExtractor chooses the params that take part in the fingerprint.
// The default uses the query string.
func WithParamsExtractor(fn func(*http.Request) map[string]any) MiddlewareOption {
	return func(c *middlewareConfig) { c.params = fn }
}

// WithThreshold overrides the monitor's threshold for this handler.
func WithThreshold(d time.Duration) MiddlewareOption {
	return func(c *middlewareConfig) { c.threshold = d }
}

// WithAsyncRecord records after the response on a separate goroutine, so slow
// notification channels never delay the handler's return.
func WithAsyncRecord() MiddlewareOption {
	return func(c *middlewareConfig) { c.async = true }
}

// QueryParams returns the query string as params: single values as strings,
// repeated keys as string slices.
func QueryParams(r *http.Request) map[string]any {
	q := r.URL.Query()
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]any, len(q))
	for k, v := range q {
		if len(v) == 1 {
			out[k] = v[0]
		} else {
			out[k] = v
		}
	}
	return out
}

// Middleware instruments next.
func (m *Monitor) Middleware(next http.Handler, opts ...MiddlewareOption) http.Handler {
	cfg := middlewareConfig{params: QueryParams}
	for _, opt := range opts {
		opt(&cfg)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.IsMonitoringEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, requestID)
		r = r.WithContext(monitoring.WithRequestIDContext(r.Context(), requestID))

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		stopProfile := m.profiler.Start()
		start := time.Now()

		defer func() {
			elapsed := time.Since(start)
			p := recover()

			ev := m.requestEvent(r, &cfg, wrapped.status, elapsed, requestID)
			if p != nil {
				ev.Status = http.StatusInternalServerError
				ev.Error = fmt.Sprintf("panic: %v", p)
			}
			ev.Profile = stopProfile()

			m.finish(r.Context(), ev, cfg.threshold, cfg.async, elapsed)
			if p != nil {
				panic(p)
			}
		}()

		next.ServeHTTP(wrapped, r)
	})
}

// MiddlewareFunc adapts Middleware to routers that take func(http.Handler) http.Handler.
func (m *Monitor) MiddlewareFunc(opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return m.Middleware(next, opts...) }
}

func (m *Monitor) requestEvent(r *http.Request, cfg *middlewareConfig, status int, elapsed time.Duration, requestID string) (ev *monitoring.PerformanceEvent) {
	ev = &monitoring.PerformanceEvent{
		Method:    r.Method,
		URL:       r.URL.String(),
		Duration:  elapsed,
		Timestamp: time.Now(),
		Status:    status,
		RequestID: requestID,
	}
	// Resolvers are application code; a failing one must not break the request.
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error().Interface("panic", p).Msg("monitor: endpoint or params resolver failed")
			if ev.Endpoint == "" {
				ev.Endpoint = r.URL.Path
			}
		}
	}()
	if cfg.endpoint != nil {
		ev.Endpoint = cfg.endpoint(r)
	}
	if ev.Endpoint == "" {
		ev.Endpoint = r.URL.Path
	}
	if cfg.params != nil {
		ev.Params = cfg.params(r)
	}
	return ev
}

// finish records ev and feeds the time spent recording back as overhead.
func (m *Monitor) finish(ctx context.Context, ev *monitoring.PerformanceEvent, threshold time.Duration, async bool, elapsed time.Duration) {
	recordStart := time.Now()
	if async {
		m.recordAsync(ctx, ev, threshold)
	} else {
		m.Record(ctx, ev, threshold)
	}
	overhead := time.Since(recordStart)
	m.RecordOverhead(overhead, elapsed+overhead)
}
