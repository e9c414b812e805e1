package cache

import (
	"context"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backstage/feed/config"
)

func TestDisabledCache(t *testing.T) {
	c, err := NewRedisCache(config.RedisConfig{Enabled: false})
	require.NoError(t, err)

	assert.False(t, c.Enabled())
	assert.Nil(t, c.Client())
	assert.ErrorIs(t, c.Set(context.Background(), "k", 1, 0), ErrDisabled)
	assert.NoError(t, c.Close())
}

func TestNilCacheIsDisabled(t *testing.T) {
	var c *RedisCache
	assert.False(t, c.Enabled())
	assert.NoError(t, c.Close())
}

func TestKeys(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	t.Cleanup(func() { _ = client.Close() })

	c := NewFromClient(client, "feed")
	assert.True(t, c.Enabled())
	assert.Equal(t, "feed:partition:m1", c.PartitionKey("m1"))
	assert.Equal(t, "feed:payload:m1", c.PayloadKey("m1"))

	bare := NewFromClient(client, "")
	assert.Equal(t, "partition:m1", bare.PartitionKey("m1"))
}
