package models

import (
	"time"

	"gorm.io/gorm"
)

// Event is a feed message accepted into the event log
type Event struct {
	Seq          uint64    `gorm:"primaryKey;autoIncrement" json:"seq"`
	ID           string    `gorm:"column:event_id;uniqueIndex;not null" json:"id"`
	PartitionKey string    `gorm:"index;not null" json:"partition_key"`
	Offset       int64     `gorm:"not null" json:"offset"`
	MsgType      string    `json:"msg_type"`
	Payload      []byte    `gorm:"type:jsonb" json:"payload"`
	ReceivedAt   time.Time `gorm:"not null" json:"received_at"`
	Processed    bool      `gorm:"index;not null;default:false" json:"processed"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// OffsetEntry holds the high-water mark of one partition
type OffsetEntry struct {
	PartitionKey string    `gorm:"primaryKey" json:"partition_key"`
	LastOffset   int64     `gorm:"not null" json:"last_offset"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SetupModels migrates the event log and offset index tables
func SetupModels(db *gorm.DB) error {
	return db.AutoMigrate(&Event{}, &OffsetEntry{})
}
