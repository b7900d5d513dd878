// Package monitoring - metrics.go provides the in-process statistics.
//
// DESIGN: Lightweight in-memory counters for the monitor facade:
//   - total/slow requests: every recorded event, and those over threshold
//   - alerts sent:         dispatches where at least one channel succeeded
//   - overhead:            running count/average/min/max of self-measured overhead ratios
//
// Prometheus export lives in prometheus.go; these counters back get_stats().
package monitoring

import (
	"math"
	"sync"
	"sync/atomic"
)

// OverheadStats summarises the overhead samples seen so far.
type OverheadStats struct {
	SampleCount int64   `json:"sample_count"`
	Average     float64 `json:"average_overhead"`
	Min         float64 `json:"min_overhead"`
	Max         float64 `json:"max_overhead"`
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	TotalRequests int64         `json:"total_requests"`
	SlowRequests  int64         `json:"slow_requests"`
	AlertsSent    int64         `json:"alerts_sent"`
	Overhead      OverheadStats `json:"overhead_stats"`
}

// SlowRequestRate returns slow/total, or 0 before the first request.
func (s StatsSnapshot) SlowRequestRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SlowRequests) / float64(s.TotalRequests)
}

// Statistics collects monitor counters. Safe for concurrent use.
type Statistics struct {
	totalRequests atomic.Int64
	slowRequests  atomic.Int64
	alertsSent    atomic.Int64

	mu       sync.Mutex
	samples  int64
	sum      float64
	min, max float64
}

// NewStatistics creates an empty statistics collector.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// RecordRequest counts a measured event.
func (s *Statistics) RecordRequest() { s.totalRequests.Add(1) }

// RecordSlow counts an event over threshold.
func (s *Statistics) RecordSlow() { s.slowRequests.Add(1) }

// RecordAlert counts a delivered alert.
func (s *Statistics) RecordAlert() { s.alertsSent.Add(1) }

// RecordOverhead adds one overhead ratio sample and returns the new running average.
// Negative and NaN samples are ignored.
func (s *Statistics) RecordOverhead(ratio float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ratio < 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return s.averageLocked()
	}
	if s.samples == 0 || ratio < s.min {
		s.min = ratio
	}
	if s.samples == 0 || ratio > s.max {
		s.max = ratio
	}
	s.samples++
	s.sum += ratio
	return s.averageLocked()
}

func (s *Statistics) averageLocked() float64 {
	if s.samples == 0 {
		return 0
	}
	return s.sum / float64(s.samples)
}

// Snapshot returns current counters.
func (s *Statistics) Snapshot() StatsSnapshot {
	s.mu.Lock()
	overhead := OverheadStats{
		SampleCount: s.samples,
		Average:     s.averageLocked(),
		Min:         s.min,
		Max:         s.max,
	}
	s.mu.Unlock()

	return StatsSnapshot{
		TotalRequests: s.totalRequests.Load(),
		SlowRequests:  s.slowRequests.Load(),
		AlertsSent:    s.alertsSent.Load(),
		Overhead:      overhead,
	}
}

// Reset zeroes counters and overhead samples.
func (s *Statistics) Reset() {
	s.totalRequests.Store(0)
	s.slowRequests.Store(0)
	s.alertsSent.Store(0)

	s.mu.Lock()
	s.samples, s.sum, s.min, s.max = 0, 0, 0, 0
	s.mu.Unlock()
}
