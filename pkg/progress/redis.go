package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/stash/pkg/migrate"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no progress is stored for a tenant
var ErrNotFound = errors.New("no migration progress recorded")

// DefaultTTL is how long a snapshot survives without updates
const DefaultTTL = 24 * time.Hour

// RedisClient is the subset of the go-redis client the cache uses
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Config configures the Redis connection
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisCache stores migration progress snapshots in Redis so processes
// other than the one running a job can read them
type RedisCache struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection with PING
func NewRedisCache(ctx context.Context, cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: ping failed: %w", cfg.Addr, err)
	}
	return NewRedisCacheWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client RedisClient, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(tenantID string) string {
	return c.prefix + "migration:" + tenantID
}

// Report stores the snapshot as the tenant's latest progress
func (c *RedisCache) Report(ctx context.Context, p migrate.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	if err := c.client.Set(ctx, c.key(p.TenantID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store progress for %s: %w", p.TenantID, err)
	}
	return nil
}

// Get returns the latest snapshot recorded for a tenant
func (c *RedisCache) Get(ctx context.Context, tenantID string) (migrate.Progress, error) {
	data, err := c.client.Get(ctx, c.key(tenantID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return migrate.Progress{}, fmt.Errorf("%w: %s", ErrNotFound, tenantID)
		}
		return migrate.Progress{}, fmt.Errorf("failed to read progress for %s: %w", tenantID, err)
	}

	var p migrate.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return migrate.Progress{}, fmt.Errorf("failed to decode progress for %s: %w", tenantID, err)
	}
	return p, nil
}

// Delete removes a tenant's snapshot
func (c *RedisCache) Delete(ctx context.Context, tenantID string) error {
	return c.client.Del(ctx, c.key(tenantID)).Err()
}

// Ping checks the connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
