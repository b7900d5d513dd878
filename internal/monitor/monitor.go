// Package monitor is the entry point applications hold on to.
//
// DESIGN: A Monitor owns the statistics, the alert dispatcher (with its cache
// and channels) and the optional profiler. Instrumentation (Middleware,
// Measure) builds a PerformanceEvent and hands it to Record, which never fails
// and never panics: monitoring problems are logged, the monitored code is
// never affected.
//
// There is no package-level instance. Construct one at startup with New and
// call Cleanup at shutdown.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/compresr/web-performance-monitor/internal/alerting"
	"github.com/compresr/web-performance-monitor/internal/config"
	"github.com/compresr/web-performance-monitor/internal/monitoring"
	"github.com/compresr/web-performance-monitor/internal/notify"
	"github.com/compresr/web-performance-monitor/internal/profiling"
	"github.com/compresr/web-performance-monitor/internal/report"
	"github.com/compresr/web-performance-monitor/internal/store"
)

// Stats is the facade's statistics snapshot.
type Stats struct {
	TotalRequests     int64                    `json:"total_requests"`
	SlowRequests      int64                    `json:"slow_requests"`
	AlertsSent        int64                    `json:"alerts_sent"`
	SlowRequestRate   float64                  `json:"slow_request_rate"`
	OverheadStats     monitoring.OverheadStats `json:"overhead_stats"`
	MonitoringEnabled bool                     `json:"monitoring_enabled"`
}

// Monitor measures, detects and alerts on slow executions.
type Monitor struct {
	cfg        config.MonitorConfig
	logger     *monitoring.Logger
	reqLog     *monitoring.RequestLogger
	stats      *monitoring.Statistics
	metrics    *monitoring.Metrics
	dispatcher *alerting.Dispatcher
	profiler   *profiling.Profiler
	hub        *notify.WebSocket

	enabled        atomic.Bool
	overheadWarned atomic.Bool

	// mu guards closed against in-flight async records.
	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup

	cleanupOnce sync.Once
	cleanupErr  error
}

type options struct {
	logger   *monitoring.Logger
	registry *prometheus.Registry
	cache    store.AlertCache
	channels []notify.Channel
	version  string
}

// Option customises New.
type Option func(*options)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *monitoring.Logger) Option { return func(o *options) { o.logger = l } }

// WithRegistry registers metrics in reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option { return func(o *options) { o.registry = reg } }

// WithCache replaces the cache built from configuration.
func WithCache(c store.AlertCache) Option { return func(o *options) { o.cache = c } }

// WithChannels replaces the channels built from configuration.
func WithChannels(chs ...notify.Channel) Option {
	return func(o *options) { o.channels = chs }
}

// WithVersion sets the version shown in reports.
func WithVersion(v string) Option { return func(o *options) { o.version = v } }

// New builds a Monitor from configuration. A nil cfg uses config.Default().
func New(cfg *config.Config, opts ...Option) (*Monitor, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := options{logger: monitoring.Nop(), version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	cache := o.cache
	if cache == nil {
		var err error
		cache, err = store.New(cfg.Cache, cfg.Monitor.AlertWindow)
		if err != nil {
			return nil, fmt.Errorf("alert cache: %w", err)
		}
	}

	channels := o.channels
	if channels == nil {
		channels = notify.Build(context.Background(), cfg.Channels)
	}

	journal, err := monitoring.NewJournal(cfg.Journal)
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("alert journal: %w", err)
	}

	renderer, err := report.New(cfg.Monitor.Threshold, o.version)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	var metrics *monitoring.Metrics
	if cfg.Metrics.Enabled {
		metrics = monitoring.NewMetrics(cfg.Metrics.Namespace, o.registry)
	}

	logger := o.logger.Component("monitor")
	m := &Monitor{
		cfg:      cfg.Monitor,
		logger:   logger,
		reqLog:   monitoring.NewRequestLogger(logger),
		stats:    monitoring.NewStatistics(),
		metrics:  metrics,
		profiler: profiling.New(cfg.Profiling),
		dispatcher: alerting.New(cache, channels,
			alerting.WithRenderer(renderer),
			alerting.WithLogger(o.logger.Component("alerting")),
			alerting.WithMetrics(metrics),
			alerting.WithJournal(journal),
			alerting.WithSuppressOnFailedDelivery(cfg.Monitor.SuppressOnFailedDelivery),
			alerting.WithRequireAllHealthy(cfg.Monitor.RequireAllChannelsHealthy),
			alerting.WithSendTimeout(cfg.Monitor.SendTimeout),
			alerting.WithRecentLimit(cfg.Monitor.RecentAlertsLimit),
		),
	}
	for _, ch := range channels {
		if hub, ok := ch.(*notify.WebSocket); ok {
			m.hub = hub
		}
	}
	m.enabled.Store(cfg.Monitor.Enabled)

	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		if ch.Enabled() {
			names = append(names, ch.Name())
		}
	}
	m.logger.Info().
		Dur("threshold", cfg.Monitor.Threshold).
		Dur("alert_window", cfg.Monitor.AlertWindow).
		Strs("channels", names).
		Str("cache", cache.Stats(context.Background()).Backend).
		Bool("enabled", cfg.Monitor.Enabled).
		Msg("monitor initialized")
	return m, nil
}

// Threshold returns the configured slow threshold.
func (m *Monitor) Threshold() time.Duration { return m.cfg.Threshold }

// Record counts ev and, when it is slower than threshold, hands it to the
// dispatcher. A non-positive threshold uses the configured one. Returns true
// when an alert was delivered. Record never panics and ignores cancellation of
// ctx so a finished request cannot abort its own alert.
func (m *Monitor) Record(ctx context.Context, ev *monitoring.PerformanceEvent, threshold time.Duration) bool {
	if m == nil || ev == nil || !m.IsMonitoringEnabled() {
		return false
	}
	return m.record(ctx, ev, threshold)
}

// record does the work of Record without the enablement check.
func (m *Monitor) record(ctx context.Context, ev *monitoring.PerformanceEvent, threshold time.Duration) (alerted bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("endpoint", ev.Endpoint).Msg("monitor: record failed")
			alerted = false
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)
	if threshold <= 0 {
		threshold = m.cfg.Threshold
	}

	m.stats.RecordRequest()
	slow := ev.IsSlow(threshold)
	m.metrics.ObserveRequest(ev.Duration, slow)
	m.reqLog.LogMeasured(ev)
	if !slow {
		return false
	}

	m.stats.RecordSlow()
	m.reqLog.LogSlow(ev, threshold)
	if m.dispatcher.MaybeAlert(ctx, ev) {
		m.stats.RecordAlert()
		return true
	}
	return false
}

// recordAsync runs Record on its own goroutine. Cleanup waits for it.
func (m *Monitor) recordAsync(ctx context.Context, ev *monitoring.PerformanceEvent, threshold time.Duration) {
	if ev == nil || !m.IsMonitoringEnabled() {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.record(ctx, ev, threshold)
	}()
}

// RecordOverhead adds the monitor's own cost for one measurement. A running
// average above max_performance_overhead is logged once until it recovers.
func (m *Monitor) RecordOverhead(overhead, total time.Duration) {
	if m == nil || total <= 0 || overhead < 0 {
		return
	}
	avg := m.stats.RecordOverhead(float64(overhead) / float64(total))
	limit := m.cfg.MaxPerformanceOverhead
	if limit <= 0 {
		return
	}
	if avg > limit {
		if !m.overheadWarned.Swap(true) {
			m.logger.Warn().Float64("average_overhead", avg).Float64("max_overhead", limit).
				Msg("monitor: performance overhead above limit")
		}
	} else {
		m.overheadWarned.Store(false)
	}
}

// Stats returns a snapshot of the counters.
func (m *Monitor) Stats() Stats {
	snap := m.stats.Snapshot()
	return Stats{
		TotalRequests:     snap.TotalRequests,
		SlowRequests:      snap.SlowRequests,
		AlertsSent:        snap.AlertsSent,
		SlowRequestRate:   snap.SlowRequestRate(),
		OverheadStats:     snap.Overhead,
		MonitoringEnabled: m.IsMonitoringEnabled(),
	}
}

// ResetStats zeroes counters and overhead samples. Alert state is kept.
func (m *Monitor) ResetStats() {
	m.stats.Reset()
	m.overheadWarned.Store(false)
	m.logger.Info().Msg("monitor: statistics reset")
}

// EnableMonitoring turns recording on. It has no effect after Cleanup.
func (m *Monitor) EnableMonitoring() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.enabled.Store(true)
	m.logger.Info().Msg("monitor: enabled")
}

// DisableMonitoring turns recording off; measured code still runs normally.
func (m *Monitor) DisableMonitoring() {
	m.enabled.Store(false)
	m.logger.Info().Msg("monitor: disabled")
}

// IsMonitoringEnabled reports whether Record counts events.
func (m *Monitor) IsMonitoringEnabled() bool {
	return m != nil && m.enabled.Load()
}

// TestAlertSystem probes every enabled channel.
func (m *Monitor) TestAlertSystem(ctx context.Context) alerting.SelfTestResult {
	return m.dispatcher.TestAlertSystem(ctx)
}

// AlertStats returns recent dispatch activity.
func (m *Monitor) AlertStats(ctx context.Context) alerting.AlertStats {
	return m.dispatcher.AlertStats(ctx)
}

// ClearAlerts forgets alert state so every fingerprint may alert again.
func (m *Monitor) ClearAlerts(ctx context.Context) {
	m.dispatcher.ClearAlerts(ctx)
	m.logger.Info().Msg("monitor: alert state cleared")
}

// Metrics returns the Prometheus collectors, or nil when disabled.
func (m *Monitor) Metrics() *monitoring.Metrics { return m.metrics }

// WebSocketHub returns the live alert feed, or nil when none is configured.
func (m *Monitor) WebSocketHub() *notify.WebSocket { return m.hub }

// Cleanup stops recording, waits for in-flight async records and releases the
// dispatcher's resources. Safe to call more than once.
func (m *Monitor) Cleanup() error {
	m.cleanupOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		m.enabled.Store(false)
		m.inflight.Wait()
		m.cleanupErr = m.dispatcher.Close()

		snap := m.stats.Snapshot()
		m.logger.Info().
			Int64("total_requests", snap.TotalRequests).
			Int64("slow_requests", snap.SlowRequests).
			Int64("alerts_sent", snap.AlertsSent).
			Msg("monitor: cleaned up")
	})
	return m.cleanupErr
}
