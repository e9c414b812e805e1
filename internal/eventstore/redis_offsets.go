package eventstore

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// raiseOffset stores ARGV[2] under field ARGV[1] only when it exceeds the current value
var raiseOffset = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if (not current) or (tonumber(ARGV[2]) > tonumber(current)) then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// RedisOffsetIndex keeps partition high-water marks in a redis hash
type RedisOffsetIndex struct {
	client *redis.Client
	key    string
}

// NewRedisOffsetIndex creates an offset index stored under <prefix>:offsets
func NewRedisOffsetIndex(client *redis.Client, prefix string) *RedisOffsetIndex {
	return &RedisOffsetIndex{
		client: client,
		key:    OffsetsKey(prefix),
	}
}

// OffsetsKey returns the hash key holding partition offsets
func OffsetsKey(prefix string) string {
	if prefix == "" {
		return "offsets"
	}
	return prefix + ":offsets"
}

// GetLastOffset reads the high-water mark for a partition
func (r *RedisOffsetIndex) GetLastOffset(ctx context.Context, partitionKey string) (int64, bool, error) {
	raw, err := r.client.HGet(ctx, r.key, partitionKey).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, "failed to get last offset from Redis")
	}

	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "corrupt offset for partition %s", partitionKey)
	}
	return offset, true, nil
}

// SetLastOffset raises the high-water mark atomically
func (r *RedisOffsetIndex) SetLastOffset(ctx context.Context, partitionKey string, offset int64) error {
	err := raiseOffset.Run(ctx, r.client, []string{r.key}, partitionKey, strconv.FormatInt(offset, 10)).Err()
	if err != nil && err != redis.Nil {
		return errors.Wrap(err, "failed to set last offset in Redis")
	}
	return nil
}
