package eventstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/feed/internal/models"
)

// GormEventLog implements EventLog on top of GORM
type GormEventLog struct {
	db *gorm.DB
}

// NewGormEventLog creates a new GORM event log
func NewGormEventLog(db *gorm.DB) *GormEventLog {
	return &GormEventLog{db: db}
}

// Append inserts a new unprocessed event row
func (s *GormEventLog) Append(ctx context.Context, partitionKey string, offset int64, msgType string, payload []byte) (string, error) {
	now := time.Now().UTC()
	event := models.Event{
		ID:           uuid.New().String(),
		PartitionKey: partitionKey,
		Offset:       offset,
		MsgType:      msgType,
		Payload:      append([]byte(nil), payload...),
		ReceivedAt:   now,
		UpdatedAt:    now,
		Processed:    false,
	}

	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return "", errors.Wrap(err, "failed to append event")
	}

	return event.ID, nil
}

// GetUnprocessedBatch gets up to limit unprocessed events ordered by sequence
func (s *GormEventLog) GetUnprocessedBatch(ctx context.Context, limit int) ([]models.Event, error) {
	events := make([]models.Event, 0)
	if limit <= 0 {
		return events, nil
	}

	if err := s.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("seq ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, errors.Wrap(err, "failed to get unprocessed events")
	}

	return events, nil
}

// MarkProcessed marks an event as processed
func (s *GormEventLog) MarkProcessed(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id = ? AND processed = ?", id, false).
		Updates(map[string]interface{}{
			"processed":  true,
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
		return errors.Wrap(err, "failed to mark event as processed")
	}

	return nil
}

// Stats counts all and pending events
func (s *GormEventLog) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	db := s.db.WithContext(ctx)

	if err := db.Model(&models.Event{}).Count(&stats.Total).Error; err != nil {
		return stats, errors.Wrap(err, "failed to count events")
	}
	if err := db.Model(&models.Event{}).Where("processed = ?", false).Count(&stats.Pending).Error; err != nil {
		return stats, errors.Wrap(err, "failed to count pending events")
	}

	if stats.Pending > 0 {
		var head models.Event
		err := db.Where("processed = ?", false).Order("seq ASC").Limit(1).Take(&head).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return stats, errors.Wrap(err, "failed to read head event")
		}
		stats.Head = head.ID
	}

	return stats, nil
}

// GormOffsetIndex implements OffsetIndex on the offset_entries table
type GormOffsetIndex struct {
	db *gorm.DB
}

// NewGormOffsetIndex creates a new GORM offset index
func NewGormOffsetIndex(db *gorm.DB) *GormOffsetIndex {
	return &GormOffsetIndex{db: db}
}

// GetLastOffset reads the high-water mark for a partition
func (s *GormOffsetIndex) GetLastOffset(ctx context.Context, partitionKey string) (int64, bool, error) {
	var entry models.OffsetEntry
	err := s.db.WithContext(ctx).
		Where("partition_key = ?", partitionKey).
		Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, "failed to get last offset")
	}

	return entry.LastOffset, true, nil
}

// SetLastOffset upserts the mark, keeping the greater of the stored and new value
func (s *GormOffsetIndex) SetLastOffset(ctx context.Context, partitionKey string, offset int64) error {
	entry := models.OffsetEntry{
		PartitionKey: partitionKey,
		LastOffset:   offset,
		UpdatedAt:    time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "partition_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_offset": gorm.Expr("GREATEST(offset_entries.last_offset, excluded.last_offset)"),
			"updated_at":  gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&entry).Error
	if err != nil {
		return errors.Wrap(err, "failed to set last offset")
	}

	return nil
}
