package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"example.com/backstage/feed/config"
)

// ErrDisabled is returned by a cache created with redis.enabled=false
var ErrDisabled = errors.New("cache is disabled")

// RedisCache provides caching using Redis
type RedisCache struct {
	client  *redis.Client
	prefix  string
	enabled bool
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return &RedisCache{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return NewFromClient(client, cfg.Prefix), nil
}

// NewFromClient wraps an existing client
func NewFromClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{
		client:  client,
		prefix:  prefix,
		enabled: true,
	}
}

// Enabled reports whether the cache has a live client
func (c *RedisCache) Enabled() bool {
	return c != nil && c.enabled
}

// Client returns the underlying redis client, nil when disabled
func (c *RedisCache) Client() *redis.Client {
	if !c.Enabled() {
		return nil
	}
	return c.client
}

// Prefix returns the configured key prefix
func (c *RedisCache) Prefix() string {
	return c.prefix
}

// Set stores a value in cache with optional expiration
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !c.Enabled() {
		return ErrDisabled
	}

	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "failed to marshal value for caching")
	}

	if err := c.client.Set(ctx, key, data, expiration).Err(); err != nil {
		return errors.Wrap(err, "failed to set value in Redis")
	}

	return nil
}

// PartitionKey generates the summary hash key for a partition
func (c *RedisCache) PartitionKey(partitionKey string) string {
	return c.key("partition:" + partitionKey)
}

// PayloadKey generates the latest-payload key for a partition
func (c *RedisCache) PayloadKey(partitionKey string) string {
	return c.key("payload:" + partitionKey)
}

func (c *RedisCache) key(suffix string) string {
	if c.prefix == "" {
		return suffix
	}
	return c.prefix + ":" + suffix
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	if !c.Enabled() || c.client == nil {
		return nil
	}

	return c.client.Close()
}
