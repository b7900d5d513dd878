// Package alerting decides whether a slow event alerts and fans it out.
//
// DESIGN: Dispatcher.MaybeAlert runs for every slow event:
//  1. fingerprint the event and ask the alert cache (atomic check-and-set)
//  2. duplicate inside the window: count it and return false, no channel is touched
//  3. novel: render the report once, send to every enabled channel concurrently,
//     each isolated by panic recovery, and collect per-channel outcomes
//  4. remember the dispatch in a bounded recent-alerts log and the optional journal
//
// The return value is true iff at least one channel delivered.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/compresr/web-performance-monitor/internal/monitoring"
	"github.com/compresr/web-performance-monitor/internal/notify"
	"github.com/compresr/web-performance-monitor/internal/report"
	"github.com/compresr/web-performance-monitor/internal/store"
)

const (
	// DefaultRecentLimit bounds the recent-alerts log.
	DefaultRecentLimit = 100

	// DefaultSendTimeout bounds one channel's delivery, retries included.
	DefaultSendTimeout = 2 * time.Minute
)

// Renderer turns an event into the report attached to notifications.
type Renderer interface {
	Render(ev *monitoring.PerformanceEvent) ([]byte, error)
}

// NotificationOutcome is the result of one channel's delivery.
type NotificationOutcome struct {
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// AlertRecord describes one novel dispatch.
type AlertRecord struct {
	ID                 string                         `json:"id"`
	Fingerprint        string                         `json:"fingerprint"`
	Endpoint           string                         `json:"endpoint"`
	Method             string                         `json:"method,omitempty"`
	DurationSeconds    float64                        `json:"duration_seconds"`
	Timestamp          time.Time                      `json:"timestamp"`
	NotificationStatus map[string]NotificationOutcome `json:"notification_status"`
	Sent               bool                           `json:"sent"`
}

// SelfTestResult is the outcome of TestAlertSystem.
type SelfTestResult struct {
	Success         bool              `json:"success"`
	NotifierResults map[string]bool   `json:"notifier_results"`
	Errors          map[string]string `json:"errors,omitempty"`
	Message         string            `json:"message,omitempty"`
}

// AlertStats summarises recent dispatch activity.
type AlertStats struct {
	RecentAlertsCount int              `json:"recent_alerts_count"`
	RecentAlerts      []AlertRecord    `json:"recent_alerts"`
	EnabledNotifiers  []string         `json:"enabled_notifiers"`
	CacheStats        store.CacheStats `json:"cache_stats"`
}

// Dispatcher owns the alert cache and the notification channels.
type Dispatcher struct {
	cache    store.AlertCache
	channels []notify.Channel
	labels   []string // unique per channel, parallel to channels
	renderer Renderer
	logger   *monitoring.Logger
	reqLog   *monitoring.RequestLogger
	metrics  *monitoring.Metrics
	journal  *monitoring.Journal

	suppressOnFailure bool
	requireAllHealthy bool
	sendTimeout       time.Duration
	recentLimit       int

	mu     sync.Mutex
	recent []AlertRecord

	closeOnce sync.Once
	closeErr  error
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithRenderer sets the report renderer. Without one the plain-text body is sent.
func WithRenderer(r Renderer) Option { return func(d *Dispatcher) { d.renderer = r } }

// WithLogger sets the logger.
func WithLogger(l *monitoring.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithMetrics enables Prometheus counters.
func WithMetrics(m *monitoring.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithJournal records every dispatch to a JSONL journal.
func WithJournal(j *monitoring.Journal) Option { return func(d *Dispatcher) { d.journal = j } }

// WithSuppressOnFailedDelivery controls whether an alert nobody received still
// occupies the window. true keeps the entry; false releases it so the next
// occurrence retries.
func WithSuppressOnFailedDelivery(v bool) Option {
	return func(d *Dispatcher) { d.suppressOnFailure = v }
}

// WithRequireAllHealthy makes TestAlertSystem succeed only when every enabled
// channel passes.
func WithRequireAllHealthy(v bool) Option {
	return func(d *Dispatcher) { d.requireAllHealthy = v }
}

// WithSendTimeout bounds each channel's delivery. Zero or less means no bound.
func WithSendTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.sendTimeout = t } }

// WithRecentLimit bounds the recent-alerts log.
func WithRecentLimit(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.recentLimit = n
		}
	}
}

// New creates a dispatcher. Channels are used in the given order for listings;
// delivery is concurrent.
func New(cache store.AlertCache, channels []notify.Channel, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cache:             cache,
		channels:          channels,
		logger:            monitoring.Nop(),
		suppressOnFailure: true,
		sendTimeout:       DefaultSendTimeout,
		recentLimit:       DefaultRecentLimit,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.reqLog = monitoring.NewRequestLogger(d.logger)
	d.labels = uniqueLabels(channels)
	return d
}

// uniqueLabels names each channel for outcomes and metrics. A repeated name
// gets a #N suffix so two channels never share an outcome slot.
func uniqueLabels(channels []notify.Channel) []string {
	labels := make([]string, len(channels))
	seen := make(map[string]int, len(channels))
	taken := make(map[string]bool, len(channels))
	for i, ch := range channels {
		if ch == nil {
			continue
		}
		name := ch.Name()
		label := name
		for taken[label] {
			seen[name]++
			label = fmt.Sprintf("%s#%d", name, seen[name]+1)
		}
		seen[name] = max(seen[name], 1)
		taken[label] = true
		labels[i] = label
	}
	return labels
}

// namedChannel is an enabled channel with its unique label.
type namedChannel struct {
	name string
	ch   notify.Channel
}

// MaybeAlert dispatches ev unless an alert for the same fingerprint went out
// within the window. Returns true iff at least one channel delivered.
func (d *Dispatcher) MaybeAlert(ctx context.Context, ev *monitoring.PerformanceEvent) bool {
	fp := ev.Fingerprint()
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	if !d.cache.ShouldAlert(ctx, fp, at) {
		d.metrics.ObserveDeduplicated()
		d.reqLog.LogDuplicate(ev, fp)
		return false
	}

	body := d.render(ev)
	status, sent := d.fanOut(ctx, ev, body)
	for name, outcome := range status {
		d.metrics.ObserveNotification(name, outcome.Success)
	}

	if sent {
		d.metrics.ObserveAlertSent()
		d.logger.ForEvent(ev).Info().Str("fingerprint", fp[:12]).
			Int("channels", len(status)).Msg("alert_sent")
	} else {
		d.logger.ForEvent(ev).Warn().Str("fingerprint", fp[:12]).
			Int("channels", len(status)).Msg("alert_not_delivered")
		if !d.suppressOnFailure {
			d.cache.Release(ctx, fp)
		}
	}

	rec := AlertRecord{
		ID:                 uuid.New().String(),
		Fingerprint:        fp,
		Endpoint:           ev.Endpoint,
		Method:             ev.Method,
		DurationSeconds:    ev.DurationSeconds(),
		Timestamp:          at,
		NotificationStatus: status,
		Sent:               sent,
	}
	d.remember(rec)
	d.journal.Record(fp, rec)
	return sent
}

// render produces the report, falling back to plain text.
func (d *Dispatcher) render(ev *monitoring.PerformanceEvent) (body []byte) {
	if d.renderer == nil {
		return report.PlainText(ev)
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("endpoint", ev.Endpoint).Msg("report_render_panic")
			body = report.PlainText(ev)
		}
	}()
	out, err := d.renderer.Render(ev)
	if err != nil {
		d.logger.Warn().Err(err).Str("endpoint", ev.Endpoint).Msg("report_render_failed")
		return report.PlainText(ev)
	}
	return out
}

// fanOut sends to every enabled channel concurrently. sent is true when any
// channel delivered.
func (d *Dispatcher) fanOut(ctx context.Context, ev *monitoring.PerformanceEvent, body []byte) (status map[string]NotificationOutcome, sent bool) {
	status = make(map[string]NotificationOutcome)
	var mu sync.Mutex

	var g errgroup.Group
	for _, nc := range d.enabled() {
		g.Go(func() error {
			start := time.Now()
			err := d.send(ctx, nc.ch, ev, body)
			outcome := NotificationOutcome{Success: err == nil, Duration: time.Since(start)}
			if err != nil {
				outcome.Error = err.Error()
				d.logger.ForEvent(ev).Warn().Err(err).Str("channel", nc.name).
					Msg("notification_failed")
			}
			mu.Lock()
			status[nc.name] = outcome
			sent = sent || outcome.Success
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return status, sent
}

// send calls one channel, turning a panic into an error.
func (d *Dispatcher) send(ctx context.Context, ch notify.Channel, ev *monitoring.PerformanceEvent, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s channel: %v", ch.Name(), r)
		}
	}()
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}
	return ch.Send(ctx, ev, body)
}

func (d *Dispatcher) enabled() []namedChannel {
	out := make([]namedChannel, 0, len(d.channels))
	for i, ch := range d.channels {
		if ch != nil && ch.Enabled() {
			out = append(out, namedChannel{name: d.labels[i], ch: ch})
		}
	}
	return out
}

func (d *Dispatcher) remember(rec AlertRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recent = append(d.recent, rec)
	if over := len(d.recent) - d.recentLimit; over > 0 {
		d.recent = append(d.recent[:0:0], d.recent[over:]...)
	}
}

// TestAlertSystem probes every enabled channel without sending an alert.
func (d *Dispatcher) TestAlertSystem(ctx context.Context) SelfTestResult {
	res := SelfTestResult{
		NotifierResults: make(map[string]bool),
		Errors:          make(map[string]string),
	}
	channels := d.enabled()
	if len(channels) == 0 {
		res.Message = "no notification channels enabled"
		return res
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, nc := range channels {
		g.Go(func() error {
			err := d.probe(ctx, nc.ch)
			mu.Lock()
			defer mu.Unlock()
			res.NotifierResults[nc.name] = err == nil
			if err != nil {
				res.Errors[nc.name] = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	healthy := 0
	for _, ok := range res.NotifierResults {
		if ok {
			healthy++
		}
	}
	if d.requireAllHealthy {
		res.Success = healthy == len(channels)
	} else {
		res.Success = healthy > 0
	}
	res.Message = fmt.Sprintf("%d of %d channels healthy", healthy, len(channels))
	d.logger.Info().Bool("success", res.Success).Int("healthy", healthy).Int("enabled", len(channels)).
		Msg("alert_system_tested")
	return res
}

func (d *Dispatcher) probe(ctx context.Context, ch notify.Channel) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s channel: %v", ch.Name(), r)
		}
	}()
	return ch.TestConnection(ctx)
}

// AlertStats returns recent dispatches (oldest first), enabled channel names and
// cache occupancy.
func (d *Dispatcher) AlertStats(ctx context.Context) AlertStats {
	d.mu.Lock()
	recent := make([]AlertRecord, len(d.recent))
	copy(recent, d.recent)
	d.mu.Unlock()

	names := make([]string, 0, len(d.channels))
	for _, nc := range d.enabled() {
		names = append(names, nc.name)
	}
	return AlertStats{
		RecentAlertsCount: len(recent),
		RecentAlerts:      recent,
		EnabledNotifiers:  names,
		CacheStats:        d.cache.Stats(ctx),
	}
}

// ClearAlerts forgets every alert: cache entries and the recent log.
func (d *Dispatcher) ClearAlerts(ctx context.Context) {
	d.cache.Reset(ctx)
	d.mu.Lock()
	d.recent = nil
	d.mu.Unlock()
}

// Channels returns the configured channels.
func (d *Dispatcher) Channels() []notify.Channel { return d.channels }

// Close releases channels, the cache and the journal. Safe to call twice.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		var errs []error
		for _, ch := range d.channels {
			if c, ok := ch.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, fmt.Errorf("close %s: %w", ch.Name(), err))
				}
			}
		}
		if err := d.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close alert cache: %w", err))
		}
		if err := d.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}
