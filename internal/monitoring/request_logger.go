// Package monitoring - request_logger.go logs measured executions.
//
// DESIGN: Structured logging for request tracing:
//   - LogMeasured:  every recorded event (DEBUG)
//   - LogSlow:      an event over threshold (WARN)
//   - LogDuplicate: a slow event suppressed by the alert window (DEBUG)
package monitoring

import "time"

// RequestLogger logs request lifecycle events.
type RequestLogger struct {
	logger *Logger
}

// NewRequestLogger creates a new request logger.
func NewRequestLogger(logger *Logger) *RequestLogger {
	return &RequestLogger{logger: logger}
}

// LogMeasured logs a recorded event.
func (rl *RequestLogger) LogMeasured(ev *PerformanceEvent) {
	rl.logger.ForEvent(ev).Debug().
		Int("status", ev.Status).
		Dur("latency", ev.Duration).
		Msg("measured")
}

// LogSlow logs an event that exceeded threshold.
func (rl *RequestLogger) LogSlow(ev *PerformanceEvent, threshold time.Duration) {
	event := rl.logger.ForEvent(ev).Warn().
		Dur("latency", ev.Duration).
		Dur("threshold", threshold)
	if ev.Error != "" {
		event = event.Str("error", ev.Error)
	}
	event.Msg("slow_request")
}

// LogDuplicate logs a suppressed repeat alert.
func (rl *RequestLogger) LogDuplicate(ev *PerformanceEvent, fingerprint string) {
	rl.logger.ForEvent(ev).Debug().
		Str("fingerprint", fingerprint).
		Msg("alert_suppressed")
}
