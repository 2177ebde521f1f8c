package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/infrastructure/config"
)

// DefaultSeenKeyPrefix namespaces seen-hash keys in a shared Redis
const DefaultSeenKeyPrefix = "ingest:seen:"

// RedisSeenHashCache shares seen hashes between ingestion processes
type RedisSeenHashCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisSeenHashCache connects to Redis and checks the connection
func NewRedisSeenHashCache(ctx context.Context, cfg config.RedisConfig) (*RedisSeenHashCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr(), err)
	}
	return NewRedisSeenHashCacheWithClient(client, ""), nil
}

// NewRedisSeenHashCacheWithClient wraps an existing client. An empty prefix
// uses DefaultSeenKeyPrefix.
func NewRedisSeenHashCacheWithClient(client *redis.Client, keyPrefix string) *RedisSeenHashCache {
	if keyPrefix == "" {
		keyPrefix = DefaultSeenKeyPrefix
	}
	return &RedisSeenHashCache{client: client, keyPrefix: keyPrefix}
}

// MarkSeen sets the key with SETNX so concurrent scanners agree on who saw
// the hash first.
func (c *RedisSeenHashCache) MarkSeen(ctx context.Context, hash string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.keyPrefix+hash, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark hash as seen: %w", err)
	}
	return ok, nil
}

// IsSeen implements catalog.SeenHashCache
func (c *RedisSeenHashCache) IsSeen(ctx context.Context, hash string) (bool, error) {
	n, err := c.client.Exists(ctx, c.keyPrefix+hash).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check seen hash: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis client
func (c *RedisSeenHashCache) Close() error {
	return c.client.Close()
}

var _ catalog.SeenHashCache = (*RedisSeenHashCache)(nil)
