// Package monitoring - logger.go provides structured logging via zerolog.
//
// DESIGN: Every line the monitor writes carries service=perfmon and a
// component (monitor, alerting, ...). Lines about one measured execution are
// written through ForEvent, which pins endpoint, method and request_id so
// measurement, slow-request and alert lines can be joined on those fields.
package monitoring

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Context keys for request tracking.
type contextKey string

const RequestIDKey contextKey = "request_id"

// Logger wraps zerolog.Logger.
type Logger struct {
	zl zerolog.Logger
}

// New creates a Logger from the logging config. An unusable output file falls
// back to stdout.
func New(cfg LoggerConfig) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var writer io.Writer = os.Stdout
	switch cfg.Output {
	case "stdout", "":
	case "stderr":
		writer = os.Stderr
	default:
		if f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600); err == nil {
			writer = f
		}
	}
	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}
	}
	return NewWithWriter(writer, cfg.Level)
}

// NewWithWriter creates a JSON Logger on w. An empty or unknown level means info.
func NewWithWriter(w io.Writer, level string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "perfmon").Logger()
	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Global installs the logger described by cfg as the zerolog global, which
// background code (cache, channels, profiler) logs through.
func Global(cfg LoggerConfig) {
	log.Logger = New(cfg).zl
}

// Component returns a child logger tagged with component=name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

// ForEvent returns a child logger carrying the identifying fields of ev.
func (l *Logger) ForEvent(ev *PerformanceEvent) *Logger {
	if ev == nil {
		return l
	}
	c := l.zl.With().Str("endpoint", ev.Endpoint)
	if ev.Method != "" {
		c = c.Str("method", ev.Method)
	}
	if ev.RequestID != "" {
		c = c.Str("request_id", ev.RequestID)
	}
	return &Logger{zl: c.Logger()}
}

// Debug returns a debug event.
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }

// Info returns an info event.
func (l *Logger) Info() *zerolog.Event { return l.zl.Info() }

// Warn returns a warn event.
func (l *Logger) Warn() *zerolog.Event { return l.zl.Warn() }

// Error returns an error event.
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// RequestIDFromContext retrieves the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestIDContext returns a new context with the request ID.
func WithRequestIDContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}
