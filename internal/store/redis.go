package store

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisConfig configures the shared Redis alert cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	Timeout  time.Duration `yaml:"timeout"` // per-operation timeout
}

const (
	defaultRedisPrefix  = "wpm:alert:"
	defaultRedisTimeout = 250 * time.Millisecond
)

// shouldAlertScript performs the check-and-set in one round trip.
// KEYS[1] entry key, ARGV[1] now (unix ms), ARGV[2] window (ms).
// Returns 1 when the caller should alert, 0 when the entry is still live.
var shouldAlertScript = redis.NewScript(`
local first = redis.call('HGET', KEYS[1], 'first_alerted_at')
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
if first and (now - tonumber(first)) < window then
  redis.call('HINCRBY', KEYS[1], 'alert_count', 1)
  return 0
end
redis.call('HSET', KEYS[1], 'first_alerted_at', ARGV[1], 'alert_count', 1)
redis.call('PEXPIRE', KEYS[1], window)
return 1
`)

// RedisCache shares alert state between monitor instances through Redis.
//
// Any Redis failure is logged and the call is answered by a process-local
// MemoryCache so deduplication keeps holding within the instance.
type RedisCache struct {
	client   *redis.Client
	prefix   string
	timeout  time.Duration
	window   time.Duration
	fallback *MemoryCache
	degraded atomic.Bool
	closed   atomic.Bool
}

// NewRedisCache connects to Redis and verifies the connection with PING.
func NewRedisCache(cfg RedisConfig, window time.Duration) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis cache: addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: 2,
	})
	c, err := NewRedisCacheFromClient(client, cfg, window)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return c, nil
}

// NewRedisCacheFromClient wraps an existing client. The client is closed by Close.
func NewRedisCacheFromClient(client *redis.Client, cfg RedisConfig, window time.Duration) (*RedisCache, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping %s: %w", client.Options().Addr, err)
	}

	return &RedisCache{
		client:   client,
		prefix:   prefix,
		timeout:  timeout,
		window:   window,
		fallback: NewMemoryCache(window, DefaultSweepInterval),
	}, nil
}

func (c *RedisCache) key(fingerprint string) string {
	return c.prefix + fingerprint
}

// opContext bounds a Redis call. Cancellation of the parent is ignored so a
// caller giving up does not turn into a spurious fallback.
func (c *RedisCache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
}

func (c *RedisCache) logRedisError(op string, err error) {
	if !c.degraded.Swap(true) {
		log.Warn().Err(err).Str("op", op).Msg("alert cache: redis unavailable, using local fallback")
		return
	}
	log.Debug().Err(err).Str("op", op).Msg("alert cache: redis error")
}

// ShouldAlert implements AlertCache.
func (c *RedisCache) ShouldAlert(ctx context.Context, fingerprint string, now time.Time) bool {
	if c.closed.Load() {
		return false
	}
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	res, err := shouldAlertScript.Run(opCtx, c.client,
		[]string{c.key(fingerprint)},
		now.UnixMilli(), c.window.Milliseconds(),
	).Int()
	if err != nil {
		c.logRedisError("should_alert", err)
		return c.fallback.ShouldAlert(ctx, fingerprint, now)
	}
	if c.degraded.Swap(false) {
		log.Info().Msg("alert cache: redis recovered")
	}
	return res == 1
}

// Release implements AlertCache.
func (c *RedisCache) Release(ctx context.Context, fingerprint string) {
	c.fallback.Release(ctx, fingerprint)
	opCtx, cancel := c.opContext(ctx)
	defer cancel()
	if err := c.client.Del(opCtx, c.key(fingerprint)).Err(); err != nil {
		c.logRedisError("release", err)
	}
}

// Reset implements AlertCache. Only keys under the configured prefix are removed.
func (c *RedisCache) Reset(ctx context.Context) {
	c.fallback.Reset(ctx)
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	keys, err := c.scanKeys(opCtx)
	if err != nil {
		c.logRedisError("reset", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(opCtx, keys...).Err(); err != nil {
		c.logRedisError("reset", err)
	}
}

func (c *RedisCache) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Stats implements AlertCache. Redis expires entries itself, so every key found
// is live.
func (c *RedisCache) Stats(ctx context.Context) CacheStats {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	keys, err := c.scanKeys(opCtx)
	if err != nil {
		c.logRedisError("stats", err)
		st := c.fallback.Stats(ctx)
		st.Backend = "redis"
		st.Degraded = true
		return st
	}
	return CacheStats{
		Backend:      "redis",
		LiveEntries:  len(keys),
		TotalEntries: len(keys),
		Window:       c.window,
		Degraded:     c.degraded.Load(),
	}
}

// Entry reads one entry back from Redis.
func (c *RedisCache) Entry(ctx context.Context, fingerprint string) (EntryInfo, bool) {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	vals, err := c.client.HGetAll(opCtx, c.key(fingerprint)).Result()
	if err != nil || len(vals) == 0 {
		return EntryInfo{}, false
	}
	first, err := strconv.ParseInt(vals["first_alerted_at"], 10, 64)
	if err != nil {
		log.Debug().Err(err).Str("fingerprint", fingerprint).Msg("alert cache: malformed redis entry")
		return EntryInfo{}, false
	}
	count, err := strconv.Atoi(vals["alert_count"])
	if err != nil {
		log.Debug().Err(err).Str("fingerprint", fingerprint).Msg("alert cache: malformed redis entry")
		return EntryInfo{}, false
	}
	return EntryInfo{
		Fingerprint:    fingerprint,
		FirstAlertedAt: time.UnixMilli(first),
		AlertCount:     count,
	}, true
}

// Close releases the client and the fallback cache. Safe to call twice.
func (c *RedisCache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	_ = c.fallback.Close()
	return c.client.Close()
}

// New builds the cache selected by cfg.Backend.
func New(cfg Config, window time.Duration) (AlertCache, error) {
	switch cfg.Backend {
	case "", "memory":
		maxEntries := cfg.MaxEntries
		if maxEntries <= 0 {
			maxEntries = DefaultMaxEntries
		}
		return NewMemoryCache(window, cfg.SweepInterval, WithMaxEntries(maxEntries)), nil
	case "redis":
		return NewRedisCache(cfg.Redis, window)
	default:
		return nil, fmt.Errorf("unknown alert cache backend %q", cfg.Backend)
	}
}

var _ AlertCache = (*RedisCache)(nil)
