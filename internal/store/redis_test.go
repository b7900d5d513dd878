package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/web-performance-monitor/internal/store"
)

func newRedisCache(t *testing.T, window time.Duration) (*store.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := store.NewRedisCache(store.RedisConfig{Addr: mr.Addr(), Prefix: "test:"}, window)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCache_Window(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t, time.Hour)

	assert.True(t, c.ShouldAlert(ctx, "fp", t0))
	assert.False(t, c.ShouldAlert(ctx, "fp", t0.Add(30*time.Minute)))

	e, ok := c.Entry(ctx, "fp")
	require.True(t, ok)
	assert.Equal(t, 2, e.AlertCount)
	assert.Equal(t, t0.UnixMilli(), e.FirstAlertedAt.UnixMilli())

	assert.True(t, mr.Exists("test:fp"))
	assert.Equal(t, time.Hour, mr.TTL("test:fp"))

	// The script compares timestamps itself, so a late caller re-alerts even
	// before Redis has expired the key.
	assert.True(t, c.ShouldAlert(ctx, "fp", t0.Add(time.Hour)))
}

func TestRedisCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t, time.Minute)

	require.True(t, c.ShouldAlert(ctx, "fp", t0))
	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("test:fp"))
	assert.True(t, c.ShouldAlert(ctx, "fp", t0.Add(10*time.Second)))
}

func TestRedisCache_ReleaseResetStats(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t, time.Hour)
	require.NoError(t, mr.Set("other:key", "untouched"))

	c.ShouldAlert(ctx, "a", t0)
	c.ShouldAlert(ctx, "b", t0)

	st := c.Stats(ctx)
	assert.Equal(t, "redis", st.Backend)
	assert.Equal(t, 2, st.LiveEntries)
	assert.False(t, st.Degraded)

	c.Release(ctx, "a")
	assert.True(t, c.ShouldAlert(ctx, "a", t0))

	c.Reset(ctx)
	assert.Equal(t, 0, c.Stats(ctx).TotalEntries)
	assert.True(t, mr.Exists("other:key"))
}

// TestRedisCache_Fallback verifies dedup keeps holding locally while Redis is down.
func TestRedisCache_Fallback(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t, time.Hour)

	mr.SetError("LOADING server is loading")

	assert.True(t, c.ShouldAlert(ctx, "fp", t0))
	assert.False(t, c.ShouldAlert(ctx, "fp", t0.Add(time.Minute)))

	st := c.Stats(ctx)
	assert.True(t, st.Degraded)
	assert.Equal(t, 1, st.TotalEntries)

	mr.SetError("")
	assert.True(t, c.ShouldAlert(ctx, "fp", t0.Add(2*time.Minute)), "redis has no entry for fp yet")
	assert.False(t, c.Stats(ctx).Degraded)
}

// TestRedisCache_SharedAcrossInstances verifies two monitors on one Redis dedup together.
func TestRedisCache_SharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	a, mr := newRedisCache(t, time.Hour)
	b, err := store.NewRedisCache(store.RedisConfig{Addr: mr.Addr(), Prefix: "test:"}, time.Hour)
	require.NoError(t, err)
	defer b.Close()

	var alerts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := a
			if i%2 == 1 {
				c = b
			}
			if c.ShouldAlert(ctx, "shared", t0) {
				alerts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), alerts.Load())
}

// TestRedisCache_ResetDuringShouldAlert verifies Reset and Stats are safe while
// ShouldAlert runs concurrently against Redis.
func TestRedisCache_ResetDuringShouldAlert(t *testing.T) {
	c, _ := newRedisCache(t, time.Hour)

	assert.NotPanics(t, func() {
		resetUnderLoad(t, c, 8, 50, nil)
	})
	assert.False(t, c.Stats(context.Background()).Degraded)
}

// TestRedisCache_EntryMalformed verifies a corrupt hash is reported as missing.
func TestRedisCache_EntryMalformed(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t, time.Hour)

	mr.HSet("test:bad-ts", "first_alerted_at", "yesterday", "alert_count", "1")
	mr.HSet("test:bad-count", "first_alerted_at", "1700000000000", "alert_count", "many")
	mr.HSet("test:partial", "alert_count", "3")

	for _, fp := range []string{"bad-ts", "bad-count", "partial"} {
		_, ok := c.Entry(ctx, fp)
		assert.False(t, ok, fp)
	}

	require.True(t, c.ShouldAlert(ctx, "good", t0))
	e, ok := c.Entry(ctx, "good")
	require.True(t, ok)
	assert.Equal(t, 1, e.AlertCount)
}

func TestRedisCache_ConnectError(t *testing.T) {
	_, err := store.NewRedisCache(store.RedisConfig{Addr: "127.0.0.1:1"}, time.Hour)
	assert.Error(t, err)
}

func TestRedisCache_CloseIdempotent(t *testing.T) {
	c, _ := newRedisCache(t, time.Hour)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.ShouldAlert(context.Background(), "x", t0))
}
