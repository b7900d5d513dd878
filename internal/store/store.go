// Package store provides the alert cache used for deduplication.
//
// DESIGN: An entry per fingerprint remembers when the fingerprint last alerted.
// While now - firstAlertedAt < window the entry is live and further slow events
// only bump its counter; once the window has elapsed the next ShouldAlert call
// reuses the entry, resets it and reports a new alert.
//
// Expiry is checked lazily on lookup. The periodic sweep only reclaims memory.
//
// MemoryCache serves a single process. For multi-instance deployments use
// RedisCache (redis.go), which keeps the same contract across instances.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Defaults used when the config leaves values empty.
const (
	DefaultWindow        = 10 * 24 * time.Hour
	DefaultMaxEntries    = 10000
	DefaultSweepInterval = time.Hour
)

// AlertCache decides whether a fingerprint may alert.
type AlertCache interface {
	// ShouldAlert returns true and marks fingerprint as alerted when no live entry
	// exists; otherwise it increments the entry's occurrence counter and returns
	// false. The check and the mark happen atomically.
	ShouldAlert(ctx context.Context, fingerprint string, now time.Time) bool

	// Release drops the entry for fingerprint so its next event alerts again.
	Release(ctx context.Context, fingerprint string)

	// Reset clears every entry.
	Reset(ctx context.Context)

	// Stats reports entry counts for observability.
	Stats(ctx context.Context) CacheStats

	// Close stops background work and releases resources.
	Close() error
}

// CacheStats describes cache occupancy.
type CacheStats struct {
	Backend      string        `json:"backend"`
	LiveEntries  int           `json:"live_entries"`
	TotalEntries int           `json:"total_entries"`
	Window       time.Duration `json:"window"`
	Degraded     bool          `json:"degraded,omitempty"` // redis unreachable, local fallback in use
	// EvictedLive counts entries dropped inside their window to respect
	// max_entries. Each one lets its fingerprint alert again early.
	EvictedLive int64 `json:"evicted_live,omitempty"`
}

// EntryInfo is a read-only view of one cache entry.
type EntryInfo struct {
	Fingerprint    string    `json:"fingerprint"`
	FirstAlertedAt time.Time `json:"first_alerted_at"`
	AlertCount     int       `json:"alert_count"`
}

// Config contains alert cache settings.
type Config struct {
	Backend       string        `yaml:"backend"`        // memory or redis
	MaxEntries    int           `yaml:"max_entries"`    // memory backend bound
	SweepInterval time.Duration `yaml:"sweep_interval"` // 0 disables the sweep
	Redis         RedisConfig   `yaml:"redis"`
}

// MemoryCache is an in-process AlertCache.
type MemoryCache struct {
	entries    map[string]*entry
	mu         sync.Mutex
	window     time.Duration
	maxEntries int
	evicted    int64 // live entries dropped by evictLocked
	now        func() time.Time
	stopChan   chan struct{}
	stopped    bool
}

type entry struct {
	firstAlertedAt time.Time
	alertCount     int
}

// live reports whether the entry still suppresses alerts at now.
func (e *entry) live(now time.Time, window time.Duration) bool {
	return now.Sub(e.firstAlertedAt) < window
}

// MemoryOption customises a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock overrides the wall clock used by Stats and the sweep.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) { c.now = now }
}

// WithMaxEntries bounds the number of entries kept.
func WithMaxEntries(n int) MemoryOption {
	return func(c *MemoryCache) { c.maxEntries = n }
}

// NewMemoryCache creates an in-memory cache. A positive sweepInterval starts a
// goroutine that drops expired entries; Close stops it.
func NewMemoryCache(window, sweepInterval time.Duration, opts ...MemoryOption) *MemoryCache {
	if window <= 0 {
		window = DefaultWindow
	}
	c := &MemoryCache{
		entries:    make(map[string]*entry),
		window:     window,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if sweepInterval > 0 {
		go c.cleanup(sweepInterval)
	}
	return c
}

// ShouldAlert implements AlertCache.
func (c *MemoryCache) ShouldAlert(_ context.Context, fingerprint string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return false
	}

	e, exists := c.entries[fingerprint]
	if exists && e.live(now, c.window) {
		e.alertCount++
		return false
	}
	if exists {
		e.firstAlertedAt = now
		e.alertCount = 1
		return true
	}

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[fingerprint] = &entry{firstAlertedAt: now, alertCount: 1}
	return true
}

// evictLocked makes room for one entry: expired entries go first, otherwise the
// oldest one. Called with lock held.
func (c *MemoryCache) evictLocked(now time.Time) {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, e := range c.entries {
		if !e.live(now, c.window) {
			delete(c.entries, k)
			continue
		}
		if first || e.firstAlertedAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.firstAlertedAt
			first = false
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evicted++
		ev := log.Debug()
		if c.evicted == 1 || c.evicted%1000 == 0 {
			ev = log.Warn()
		}
		ev.Int("max_entries", c.maxEntries).
			Int64("evicted_live", c.evicted).
			Time("first_alerted_at", oldestTime).
			Msg("alert cache full, evicted a live entry; its fingerprint may alert again within the window")
	}
}

// Release implements AlertCache.
func (c *MemoryCache) Release(_ context.Context, fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, fingerprint)
}

// Reset implements AlertCache.
func (c *MemoryCache) Reset(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.entries = make(map[string]*entry)
}

// Stats implements AlertCache.
func (c *MemoryCache) Stats(_ context.Context) CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	live := 0
	for _, e := range c.entries {
		if e.live(now, c.window) {
			live++
		}
	}
	return CacheStats{
		Backend:      "memory",
		LiveEntries:  live,
		TotalEntries: len(c.entries),
		Window:       c.window,
		EvictedLive:  c.evicted,
	}
}

// Entry returns the entry for fingerprint, if any.
func (c *MemoryCache) Entry(fingerprint string) (EntryInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		return EntryInfo{}, false
	}
	return EntryInfo{Fingerprint: fingerprint, FirstAlertedAt: e.firstAlertedAt, AlertCount: e.alertCount}, true
}

// Sweep drops entries whose window has lapsed and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return 0
	}
	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if !e.live(now, c.window) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Close stops the cleanup goroutine and clears data.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stopped {
		c.stopped = true
		close(c.stopChan)
		c.entries = make(map[string]*entry)
	}
	return nil
}

// cleanup periodically removes expired entries.
func (c *MemoryCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Ensure MemoryCache implements AlertCache
var _ AlertCache = (*MemoryCache)(nil)
