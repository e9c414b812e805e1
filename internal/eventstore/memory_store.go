package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/backstage/feed/internal/models"
)

// MemoryStore keeps the event log and the offset index in process memory.
// It satisfies both EventLog and OffsetIndex.
type MemoryStore struct {
	mu      sync.RWMutex
	events  []models.Event
	byID    map[string]int
	offsets map[string]int64
	// firstPending is the index of the oldest event that may still be unprocessed
	firstPending int
	pending      int64
	now          func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]int),
		offsets: make(map[string]int64),
		now:     time.Now,
	}
}

// Append adds a new unprocessed event
func (s *MemoryStore) Append(ctx context.Context, partitionKey string, offset int64, msgType string, payload []byte) (string, error) {
	data := make([]byte, len(payload))
	copy(data, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	for _, taken := s.byID[id]; taken; _, taken = s.byID[id] {
		id = uuid.New().String()
	}

	now := s.now().UTC()
	s.events = append(s.events, models.Event{
		Seq:          uint64(len(s.events) + 1),
		ID:           id,
		PartitionKey: partitionKey,
		Offset:       offset,
		MsgType:      msgType,
		Payload:      data,
		ReceivedAt:   now,
		UpdatedAt:    now,
	})
	s.byID[id] = len(s.events) - 1
	s.pending++

	return id, nil
}

// GetUnprocessedBatch returns copies of up to limit unprocessed events in append order
func (s *MemoryStore) GetUnprocessedBatch(ctx context.Context, limit int) ([]models.Event, error) {
	batch := make([]models.Event, 0)
	if limit <= 0 {
		return batch, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := s.firstPending; i < len(s.events) && len(batch) < limit; i++ {
		if s.events[i].Processed {
			continue
		}
		ev := s.events[i]
		ev.Payload = append([]byte(nil), ev.Payload...)
		batch = append(batch, ev)
	}

	return batch, nil
}

// MarkProcessed sets the processed flag once
func (s *MemoryStore) MarkProcessed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok || s.events[idx].Processed {
		return nil
	}

	s.events[idx].Processed = true
	s.events[idx].UpdatedAt = s.now().UTC()
	s.pending--

	for s.firstPending < len(s.events) && s.events[s.firstPending].Processed {
		s.firstPending++
	}

	return nil
}

// Stats reports totals for the log
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Total:   int64(len(s.events)),
		Pending: s.pending,
	}
	if s.firstPending < len(s.events) {
		stats.Head = s.events[s.firstPending].ID
	}
	return stats, nil
}

// GetLastOffset returns the high-water mark for a partition
func (s *MemoryStore) GetLastOffset(ctx context.Context, partitionKey string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offset, ok := s.offsets[partitionKey]
	return offset, ok, nil
}

// SetLastOffset raises the high-water mark if offset is greater
func (s *MemoryStore) SetLastOffset(ctx context.Context, partitionKey string, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.offsets[partitionKey]
	if !ok || offset > current {
		s.offsets[partitionKey] = offset
	}
	return nil
}
