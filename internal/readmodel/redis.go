package readmodel

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"example.com/backstage/feed/internal/cache"
	"example.com/backstage/feed/internal/models"
)

// RedisSink keeps a summary hash and the latest payload snapshot per partition.
//
// Hash fields: last_offset, last_msg_type, last_event_id, applied_at.
type RedisSink struct {
	cache *cache.RedisCache
	now   func() time.Time
}

// NewRedisSink requires an enabled cache
func NewRedisSink(c *cache.RedisCache) (*RedisSink, error) {
	if !c.Enabled() {
		return nil, cache.ErrDisabled
	}
	return &RedisSink{cache: c, now: time.Now}, nil
}

// Apply implements projector.Sink
func (s *RedisSink) Apply(ctx context.Context, event models.Event) error {
	appliedAt := s.now().UTC()

	err := s.cache.Client().HSet(ctx, s.cache.PartitionKey(event.PartitionKey),
		"last_offset", event.Offset,
		"last_msg_type", event.MsgType,
		"last_event_id", event.ID,
		"applied_at", appliedAt.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return errors.Wrapf(err, "failed to update summary for partition %s", event.PartitionKey)
	}

	if err := s.cache.Set(ctx, s.cache.PayloadKey(event.PartitionKey), NewDocument(event, appliedAt), 0); err != nil {
		return errors.Wrapf(err, "failed to store payload for partition %s", event.PartitionKey)
	}
	return nil
}
