package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuemby/stash/pkg/migrate"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCacheWithClient(client, "stash:", ttl), mr
}

func TestRedisCache_ReportGet(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t, time.Hour)

	want := migrate.Progress{
		JobID:       "job-1",
		TenantID:    "acme",
		Backend:     "s3",
		Status:      migrate.StatusStarted,
		Percentage:  50,
		StepsDone:   2,
		StepCount:   4,
		FilesCopied: 10,
		BytesCopied: 4096,
		QueuedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, cache.Report(ctx, want))

	assert.True(t, mr.Exists("stash:migration:acme"))
	assert.Equal(t, time.Hour, mr.TTL("stash:migration:acme"))

	got, err := cache.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// A newer snapshot replaces the old one
	want.Status = migrate.StatusDone
	want.Percentage = 100
	want.IsCompleted = true
	require.NoError(t, cache.Report(ctx, want))

	got, err = cache.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, migrate.StatusDone, got.Status)
	assert.True(t, got.IsCompleted)
}

func TestRedisCache_Missing(t *testing.T) {
	cache, _ := newTestCache(t, 0)

	_, err := cache.Get(context.Background(), "nobody")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedisCache_Delete(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t, 0)

	require.NoError(t, cache.Report(ctx, migrate.Progress{TenantID: "acme"}))
	assert.Equal(t, DefaultTTL, mr.TTL("stash:migration:acme"))

	require.NoError(t, cache.Delete(ctx, "acme"))
	assert.False(t, mr.Exists("stash:migration:acme"))
}

func TestRedisCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t, time.Minute)

	require.NoError(t, cache.Report(ctx, migrate.Progress{TenantID: "acme"}))
	mr.FastForward(2 * time.Minute)

	_, err := cache.Get(ctx, "acme")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisCache_CorruptValue(t *testing.T) {
	cache, mr := newTestCache(t, 0)
	require.NoError(t, mr.Set("stash:migration:acme", "{not json"))

	_, err := cache.Get(context.Background(), "acme")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestRedisCache_ServerDown(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t, 0)
	mr.Close()

	assert.Error(t, cache.Ping(ctx))
	assert.Error(t, cache.Report(ctx, migrate.Progress{TenantID: "acme"}))
}

func TestNewRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cache, err := NewRedisCache(context.Background(), Config{Addr: mr.Addr(), Prefix: "p:"})
	require.NoError(t, err)
	defer cache.Close()
	assert.NoError(t, cache.Ping(context.Background()))

	_, err = NewRedisCache(context.Background(), Config{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
