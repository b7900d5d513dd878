package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/compresr/web-performance-monitor/internal/monitoring"
)

// Measure runs fn and records its duration under endpoint. fn's error is
// returned unchanged and a panic in fn is re-raised after recording. With a nil
// or disabled monitor fn simply runs.
func (m *Monitor) Measure(ctx context.Context, endpoint string, params map[string]any, fn func() error) error {
	_, err := MeasureValue(ctx, m, endpoint, params, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// MeasureValue is Measure for functions that return a value.
func MeasureValue[T any](ctx context.Context, m *Monitor, endpoint string, params map[string]any, fn func() (T, error)) (result T, err error) {
	if !m.IsMonitoringEnabled() {
		return fn()
	}

	stopProfile := m.profiler.Start()
	start := time.Now()

	defer func() {
		elapsed := time.Since(start)
		p := recover()

		ev := &monitoring.PerformanceEvent{
			Endpoint:  endpoint,
			Params:    params,
			Duration:  elapsed,
			Timestamp: time.Now(),
			RequestID: monitoring.RequestIDFromContext(ctx),
			Profile:   stopProfile(),
		}
		switch {
		case p != nil:
			ev.Error = fmt.Sprintf("panic: %v", p)
		case err != nil:
			ev.Error = err.Error()
		}

		m.finish(ctx, ev, 0, false, elapsed)
		if p != nil {
			panic(p)
		}
	}()

	return fn()
}
