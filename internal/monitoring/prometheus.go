// Package monitoring - prometheus.go exports monitor activity to Prometheus.
package monitoring

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

// Metrics holds the Prometheus collectors for one monitor.
type Metrics struct {
	registry *prometheus.Registry

	requests      prometheus.Counter
	slowRequests  prometheus.Counter
	alertsSent    prometheus.Counter
	deduplicated  prometheus.Counter
	notifications *prometheus.CounterVec
	duration      prometheus.Histogram
}

// NewMetrics creates collectors under namespace and registers them with reg.
// A nil reg gets a private registry so several monitors can coexist in one process.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "wpm"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Count of measured requests and function calls",
		}),
		slowRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_requests_total",
			Help:      "Count of measured executions over the threshold",
		}),
		alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_sent_total",
			Help:      "Alerts delivered by at least one channel",
		}),
		deduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_deduplicated_total",
			Help:      "Slow events suppressed by the alert window",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Per-channel notification outcomes",
		}, []string{"channel", "outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of measured executions",
			Buckets:   durationBuckets,
		}),
	}

	m.requests = register(reg, m.requests)
	m.slowRequests = register(reg, m.slowRequests)
	m.alertsSent = register(reg, m.alertsSent)
	m.deduplicated = register(reg, m.deduplicated)
	m.notifications = register(reg, m.notifications)
	m.duration = register(reg, m.duration)
	return m
}

// register adds c to reg, reusing the collector already registered under the same name.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one measured execution.
func (m *Metrics) ObserveRequest(d time.Duration, slow bool) {
	if m == nil {
		return
	}
	m.requests.Inc()
	m.duration.Observe(d.Seconds())
	if slow {
		m.slowRequests.Inc()
	}
}

// ObserveAlertSent counts a delivered alert.
func (m *Metrics) ObserveAlertSent() {
	if m == nil {
		return
	}
	m.alertsSent.Inc()
}

// ObserveDeduplicated counts a suppressed duplicate.
func (m *Metrics) ObserveDeduplicated() {
	if m == nil {
		return
	}
	m.deduplicated.Inc()
}

// ObserveNotification counts one channel outcome.
func (m *Metrics) ObserveNotification(channel string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.notifications.WithLabelValues(channel, outcome).Inc()
}
