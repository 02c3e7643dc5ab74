package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/loan-engine/cache"
)

type summary struct {
	Loans       int    `json:"loans"`
	Outstanding string `json:"outstanding"`
}

var t0 = time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)

func newMemoryCache(ttl time.Duration) (*cache.Cache, *cache.ManualClock, *cache.MemoryBackend) {
	clock := cache.NewManualClock(t0)
	backend := cache.NewMemoryBackend(clock)
	return cache.New(backend, ttl, nil), clock, backend
}

func TestCache_TTLExpiry(t *testing.T) {
	// GIVEN: A 30s TTL
	// WHEN: The clock moves to 29s, then to 30s
	// THEN: Hit, then miss
	c, clock, _ := newMemoryCache(30 * time.Second)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "portfolio:admin", summary{Loans: 3, Outstanding: "2550"}))

	var got summary
	clock.Advance(29 * time.Second)
	hit, err := c.GetJSON(ctx, "portfolio:admin", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, summary{Loans: 3, Outstanding: "2550"}, got)

	clock.Advance(time.Second)
	hit, err = c.GetJSON(ctx, "portfolio:admin", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCache_Invalidate(t *testing.T) {
	c, _, _ := newMemoryCache(time.Minute)
	ctx := context.Background()

	for _, k := range []string{"portfolio:a", "portfolio:b", "hierarchy:a"} {
		require.NoError(t, c.SetJSON(ctx, k, summary{Loans: 1}))
	}

	require.NoError(t, c.InvalidatePrefix(ctx, "portfolio:"))

	var got summary
	for _, k := range []string{"portfolio:a", "portfolio:b"} {
		hit, err := c.GetJSON(ctx, k, &got)
		require.NoError(t, err)
		assert.False(t, hit, k)
	}
	hit, err := c.GetJSON(ctx, "hierarchy:a", &got)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	c, clock, backend := newMemoryCache(0)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "k", summary{Loans: 1}))
	clock.Advance(365 * 24 * time.Hour)
	assert.Equal(t, 1, backend.Purge())
}

func TestCache_UndecodableEntryIsAMiss(t *testing.T) {
	c, _, backend := newMemoryCache(time.Minute)
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "k", []byte("{not json"), time.Minute))

	var got summary
	hit, err := c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 0, backend.Purge())
}

func TestMemoryBackend_PurgeDropsExpired(t *testing.T) {
	clock := cache.NewManualClock(t0)
	backend := cache.NewMemoryBackend(clock)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, backend.Set(ctx, "long", []byte("2"), time.Hour))
	clock.Advance(time.Minute)

	assert.Equal(t, 1, backend.Purge())
	_, found, err := backend.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemoryBackend_PurgeEvery(t *testing.T) {
	// GIVEN: One expired and one live entry
	clock := cache.NewManualClock(t0)
	backend := cache.NewMemoryBackend(clock)
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "as_of:2025-01-01", []byte("1"), time.Second))
	require.NoError(t, backend.Set(ctx, "as_of:2025-01-15", []byte("2"), time.Hour))
	clock.Advance(time.Minute)

	// WHEN: The background sweep runs
	core, logs := observer.New(zapcore.DebugLevel)
	stop := backend.PurgeEvery(time.Millisecond, zap.New(core))

	// THEN: Only the live entry remains
	require.Eventually(t, func() bool { return logs.FilterMessage("cache purged").Len() > 0 }, time.Second, time.Millisecond)
	stop()
	stop()

	entry := logs.FilterMessage("cache purged").All()[0]
	assert.Equal(t, int64(1), entry.ContextMap()["remaining"])
}

// TestRedisBackend runs against a live server when REDIS_ADDR is set.
func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := cache.DialRedis(ctx, addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	prefix := "loan-engine-test:" + uuid.NewString() + ":"
	backend := cache.NewRedisBackend(client, prefix)
	t.Cleanup(func() { backend.DeletePrefix(ctx, "") })
	c := cache.New(backend, time.Minute, nil)

	require.NoError(t, c.SetJSON(ctx, "portfolio:a", summary{Loans: 2}))
	require.NoError(t, c.SetJSON(ctx, "portfolio:b", summary{Loans: 3}))

	var got summary
	hit, err := c.GetJSON(ctx, "portfolio:a", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 2, got.Loans)

	require.NoError(t, c.InvalidatePrefix(ctx, "portfolio:"))
	hit, err = c.GetJSON(ctx, "portfolio:b", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}
