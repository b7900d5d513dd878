package monitoring_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/web-performance-monitor/internal/monitoring"
)

// TestFingerprint_IgnoresTimingFields verifies that only endpoint, method and
// params take part in the fingerprint.
func TestFingerprint_IgnoresTimingFields(t *testing.T) {
	a := &monitoring.PerformanceEvent{
		Endpoint:  "/api/orders",
		Method:    "GET",
		Params:    map[string]any{"page": 1},
		Duration:  2 * time.Second,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:    200,
		URL:       "http://a/api/orders?page=1",
	}
	b := &monitoring.PerformanceEvent{
		Endpoint:  "/api/orders",
		Method:    "get",
		Params:    map[string]any{"page": 1},
		Duration:  7 * time.Second,
		Timestamp: time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC),
		Status:    500,
		URL:       "http://b/api/orders?page=1",
	}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)
}

// TestFingerprint_ParamOrderIndependent verifies map iteration order has no effect.
func TestFingerprint_ParamOrderIndependent(t *testing.T) {
	params := map[string]any{}
	for _, k := range []string{"z", "a", "m", "b", "q"} {
		params[k] = strings.Repeat(k, 3)
	}
	want := (&monitoring.PerformanceEvent{Endpoint: "/x", Params: params}).Fingerprint()

	for i := 0; i < 20; i++ {
		copied := map[string]any{}
		for k, v := range params {
			copied[k] = v
		}
		got := (&monitoring.PerformanceEvent{Endpoint: "/x", Params: copied}).Fingerprint()
		require.Equal(t, want, got)
	}
}

// TestFingerprint_Distinguishes verifies differing inputs give differing keys.
func TestFingerprint_Distinguishes(t *testing.T) {
	base := monitoring.PerformanceEvent{Endpoint: "/api/users", Method: "GET", Params: map[string]any{"id": 1}}

	tests := []struct {
		name   string
		mutate func(*monitoring.PerformanceEvent)
	}{
		{"endpoint", func(e *monitoring.PerformanceEvent) { e.Endpoint = "/api/orders" }},
		{"method", func(e *monitoring.PerformanceEvent) { e.Method = "POST" }},
		{"param value", func(e *monitoring.PerformanceEvent) { e.Params = map[string]any{"id": 2} }},
		{"param key", func(e *monitoring.PerformanceEvent) { e.Params = map[string]any{"uid": 1} }},
		{"no params", func(e *monitoring.PerformanceEvent) { e.Params = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := base
			tt.mutate(&ev)
			assert.NotEqual(t, base.Fingerprint(), ev.Fingerprint())
		})
	}
}

// TestFingerprint_SeparatorsInComponents verifies separator characters inside
// keys, values or the endpoint cannot make distinct events collide.
func TestFingerprint_SeparatorsInComponents(t *testing.T) {
	pairs := []struct {
		name string
		a, b monitoring.PerformanceEvent
	}{
		{
			"key contains pair",
			monitoring.PerformanceEvent{Endpoint: "/x", Params: map[string]any{"a=1|b": 2}},
			monitoring.PerformanceEvent{Endpoint: "/x", Params: map[string]any{"a": 1, "b": 2}},
		},
		{
			"endpoint absorbs method",
			monitoring.PerformanceEvent{Endpoint: "/x|GET", Method: ""},
			monitoring.PerformanceEvent{Endpoint: "/x", Method: "GET|"},
		},
		{
			"value contains next key",
			monitoring.PerformanceEvent{Endpoint: "/x", Params: map[string]any{"a": `1"|b="2`}},
			monitoring.PerformanceEvent{Endpoint: "/x", Params: map[string]any{"a": "1", "b": "2"}},
		},
	}

	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, tt.a.Fingerprint(), tt.b.Fingerprint())
		})
	}
}

type panicky struct{}

func (panicky) MarshalJSON() ([]byte, error) { panic("boom") }

// TestFingerprint_MalformedParams verifies unsupported values never panic.
func TestFingerprint_MalformedParams(t *testing.T) {
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	ev := &monitoring.PerformanceEvent{
		Endpoint: "/weird",
		Params: map[string]any{
			"ch":     make(chan int),
			"fn":     func() {},
			"nan":    math.NaN(),
			"panics": panicky{},
			"cyclic": cyclic,
		},
	}

	var fp string
	require.NotPanics(t, func() { fp = ev.Fingerprint() })
	assert.Equal(t, fp, ev.Fingerprint())
}

// TestPerformanceEvent_IsSlow verifies the strict threshold comparison.
func TestPerformanceEvent_IsSlow(t *testing.T) {
	ev := &monitoring.PerformanceEvent{Duration: time.Second}
	assert.False(t, ev.IsSlow(time.Second))
	assert.True(t, ev.IsSlow(999*time.Millisecond))
	assert.InDelta(t, 1.0, ev.DurationSeconds(), 1e-9)
}

// TestPerformanceEvent_Summary verifies optional parts are included when set.
func TestPerformanceEvent_Summary(t *testing.T) {
	ev := &monitoring.PerformanceEvent{
		Endpoint:  "/api/slow",
		Method:    "POST",
		Duration:  1500 * time.Millisecond,
		Timestamp: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		Status:    503,
		Error:     "upstream timeout",
	}

	s := ev.Summary()
	assert.Contains(t, s, "POST /api/slow took 1.500s")
	assert.Contains(t, s, "status 503")
	assert.Contains(t, s, "upstream timeout")
	assert.Contains(t, s, "2026-05-01T10:00:00Z")
}
