package eventstore

import (
	"context"

	"example.com/backstage/feed/internal/models"
)

// EventLog is the append-only store of accepted events.
// Append does not deduplicate; callers guard it with an OffsetIndex.
type EventLog interface {
	// Append adds a new unprocessed event and returns its id
	Append(ctx context.Context, partitionKey string, offset int64, msgType string, payload []byte) (string, error)

	// GetUnprocessedBatch returns up to limit unprocessed events, oldest first
	GetUnprocessedBatch(ctx context.Context, limit int) ([]models.Event, error)

	// MarkProcessed flags an event as processed. Unknown or already processed ids are a no-op.
	MarkProcessed(ctx context.Context, id string) error

	// Stats reports the size of the log and its unprocessed backlog
	Stats(ctx context.Context) (Stats, error)
}

// OffsetIndex tracks the highest accepted offset per partition
type OffsetIndex interface {
	// GetLastOffset returns the high-water mark; ok is false when the partition has none
	GetLastOffset(ctx context.Context, partitionKey string) (offset int64, ok bool, err error)

	// SetLastOffset raises the high-water mark. Values not above the current mark are ignored.
	SetLastOffset(ctx context.Context, partitionKey string, offset int64) error
}

// Stats summarises the event log
type Stats struct {
	Total   int64 `json:"total"`
	Pending int64 `json:"pending"`
	// Head is the oldest unprocessed event id, empty when nothing is pending
	Head string `json:"head,omitempty"`
}
