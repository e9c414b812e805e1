package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/feed/internal/eventstore"
	"example.com/backstage/feed/internal/metrics"
	"example.com/backstage/feed/internal/models"
	"example.com/backstage/feed/internal/tracing"
)

func rawBatch(msgs ...string) []json.RawMessage {
	batch := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		batch = append(batch, json.RawMessage(m))
	}
	return batch
}

func newTestPipeline(store *eventstore.MemoryStore) (*Pipeline, *metrics.Metrics) {
	m := metrics.NewMetrics()
	return NewPipeline(store, store, m, tracing.Noop(), 4), m
}

func logged(t *testing.T, store *eventstore.MemoryStore) []models.Event {
	t.Helper()
	events, err := store.GetUnprocessedBatch(context.Background(), 1000)
	require.NoError(t, err)
	return events
}

func offsetsOf(events []models.Event, key string) []int64 {
	var offsets []int64
	for _, ev := range events {
		if ev.PartitionKey == key {
			offsets = append(offsets, ev.Offset)
		}
	}
	return offsets
}

func TestIngestDeduplicatesWithinBatch(t *testing.T) {
	store := eventstore.NewMemoryStore()
	p, m := newTestPipeline(store)

	result := p.Ingest(context.Background(), rawBatch(
		`{"matchId":"A","offset":1}`,
		`{"matchId":"A","offset":1}`,
		`{"matchId":"A","offset":3}`,
		`{"matchId":"A","offset":2}`,
	))

	assert.Equal(t, 4, result.Received)
	assert.Len(t, result.Accepted, 2)
	assert.Equal(t, 2, result.Duplicates)
	assert.Equal(t, 0, result.Malformed)

	assert.Equal(t, []int64{1, 3}, offsetsOf(logged(t, store), "A"))

	last, ok, err := store.GetLastOffset(context.Background(), "A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), last)

	assert.Equal(t, int64(2), m.GetCounters()[metrics.CounterEventsAccepted])
	assert.Equal(t, int64(2), m.GetCounters()[metrics.CounterDuplicates])
}

func TestIngestRejectsLowerOffsetAcrossBatches(t *testing.T) {
	store := eventstore.NewMemoryStore()
	p, _ := newTestPipeline(store)
	ctx := context.Background()

	p.Ingest(ctx, rawBatch(`{"matchId":"P","offset":10}`))
	result := p.Ingest(ctx, rawBatch(`{"matchId":"P","offset":7}`, `{"matchId":"P","offset":10}`))

	assert.Empty(t, result.Accepted)
	assert.Equal(t, 2, result.Duplicates)
	assert.Equal(t, []int64{10}, offsetsOf(logged(t, store), "P"))
}

func TestIngestSkipsMalformedAndKeepsSiblings(t *testing.T) {
	store := eventstore.NewMemoryStore()
	p, m := newTestPipeline(store)

	result := p.Ingest(context.Background(), rawBatch(
		`{"matchId":"A","offset":1}`,
		`{"matchId":"A","offset":"not-a-number"}`,
		`{"offset":5}`,
		`not json`,
		`{"matchId":"B","offset":2}`,
	))

	assert.Equal(t, 3, result.Malformed)
	assert.Len(t, result.Accepted, 2)
	assert.Equal(t, int64(3), m.GetCounters()[metrics.CounterMalformed])

	events := logged(t, store)
	assert.Equal(t, []int64{1}, offsetsOf(events, "A"))
	assert.Equal(t, []int64{2}, offsetsOf(events, "B"))
}

func TestIngestKeepsPartitionsIndependent(t *testing.T) {
	store := eventstore.NewMemoryStore()
	p, _ := newTestPipeline(store)

	result := p.Ingest(context.Background(), rawBatch(
		`{"matchId":"A","offset":5}`,
		`{"matchId":"B","offset":1}`,
		`{"matchId":"A","offset":4}`,
		`{"matchId":"B","offset":2}`,
		`{"id":"C","offset":1}`,
	))

	assert.Len(t, result.Accepted, 4)
	assert.Equal(t, 1, result.Duplicates)

	events := logged(t, store)
	assert.Equal(t, []int64{5}, offsetsOf(events, "A"))
	assert.Equal(t, []int64{1, 2}, offsetsOf(events, "B"))
	assert.Equal(t, []int64{1}, offsetsOf(events, "C"))
}

func TestIngestStoresPayloadAndMsgType(t *testing.T) {
	store := eventstore.NewMemoryStore()
	p, _ := newTestPipeline(store)

	msg := `{"matchId":"A","offset":1,"msgType":"incident","incidents":[{"kind":"goal"}]}`
	p.Ingest(context.Background(), rawBatch(msg))

	events := logged(t, store)
	require.Len(t, events, 1)
	assert.Equal(t, "incident", events[0].MsgType)
	assert.JSONEq(t, msg, string(events[0].Payload))
}

func TestConcurrentBatchesAcceptEachOffsetOnce(t *testing.T) {
	store := eventstore.NewMemoryStore()
	p, _ := newTestPipeline(store)
	ctx := context.Background()

	const batches = 16
	var wg sync.WaitGroup
	for b := 0; b < batches; b++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msgs := make([]string, 0, 20)
			for i := 1; i <= 20; i++ {
				msgs = append(msgs, fmt.Sprintf(`{"matchId":"shared","offset":%d}`, i))
			}
			p.Ingest(ctx, rawBatch(msgs...))
		}()
	}
	wg.Wait()

	offsets := offsetsOf(logged(t, store), "shared")
	seen := make(map[int64]bool)
	for i, o := range offsets {
		require.False(t, seen[o], "offset %d accepted twice", o)
		seen[o] = true
		if i > 0 {
			require.Greater(t, o, offsets[i-1])
		}
	}
	assert.Equal(t, 0, p.locks.size())
}

func TestIngestCancelledContextRejectsRemaining(t *testing.T) {
	store := eventstore.NewMemoryStore()
	p, _ := newTestPipeline(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.Ingest(ctx, rawBatch(`{"matchId":"A","offset":1}`, `{"matchId":"A","offset":2}`))
	assert.Equal(t, 2, result.Failed)
	assert.Empty(t, logged(t, store))
}

type mockOffsetIndex struct {
	mock.Mock
}

func (m *mockOffsetIndex) GetLastOffset(ctx context.Context, partitionKey string) (int64, bool, error) {
	args := m.Called(ctx, partitionKey)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *mockOffsetIndex) SetLastOffset(ctx context.Context, partitionKey string, offset int64) error {
	args := m.Called(ctx, partitionKey, offset)
	return args.Error(0)
}

func TestIngestContinuesAfterStoreError(t *testing.T) {
	store := eventstore.NewMemoryStore()
	offsets := new(mockOffsetIndex)

	offsets.On("GetLastOffset", mock.Anything, "broken").Return(int64(0), false, errors.New("connection reset"))
	offsets.On("GetLastOffset", mock.Anything, "ok").Return(int64(0), false, nil)
	offsets.On("SetLastOffset", mock.Anything, "ok", int64(1)).Return(nil)

	p := NewPipeline(store, offsets, metrics.NewMetrics(), tracing.Noop(), 1)
	result := p.Ingest(context.Background(), rawBatch(
		`{"matchId":"broken","offset":1}`,
		`{"matchId":"ok","offset":1}`,
	))

	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "ok", result.Accepted[0].PartitionKey)
	offsets.AssertExpectations(t)
}

func TestIngestKeepsEventWhenOffsetUpdateFails(t *testing.T) {
	store := eventstore.NewMemoryStore()
	offsets := new(mockOffsetIndex)

	offsets.On("GetLastOffset", mock.Anything, "A").Return(int64(0), false, nil)
	offsets.On("SetLastOffset", mock.Anything, "A", int64(1)).Return(errors.New("timeout"))

	p := NewPipeline(store, offsets, metrics.NewMetrics(), tracing.Noop(), 1)
	result := p.Ingest(context.Background(), rawBatch(`{"matchId":"A","offset":1}`))

	assert.Len(t, result.Accepted, 1)
	assert.Len(t, logged(t, store), 1)
}

func TestIngestPayload(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		accepted int
	}{
		{name: "array", body: `[{"matchId":"A","offset":1},{"matchId":"A","offset":2}]`, accepted: 2},
		{name: "single object", body: ` {"matchId":"A","offset":1}`, accepted: 1},
		{name: "scalar", body: `"hello"`, accepted: 0},
		{name: "broken array", body: `[{"matchId":`, accepted: 0},
		{name: "empty", body: ``, accepted: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestPipeline(eventstore.NewMemoryStore())
			result := p.IngestPayload(context.Background(), []byte(tt.body))
			assert.Len(t, result.Accepted, tt.accepted)
		})
	}
}

func TestIngestReportsAcceptedInBatchOrder(t *testing.T) {
	msgs := make([]string, 0, 40)
	for i := 1; i <= 10; i++ {
		for _, key := range []string{"d", "c", "b", "a"} {
			msgs = append(msgs, fmt.Sprintf(`{"matchId":"%s","offset":%d}`, key, i))
		}
	}

	for run := 0; run < 20; run++ {
		p, _ := newTestPipeline(eventstore.NewMemoryStore())

		result := p.Ingest(context.Background(), rawBatch(msgs...))
		require.Len(t, result.Accepted, len(msgs))
		for i, acc := range result.Accepted {
			var want struct {
				MatchID string `json:"matchId"`
				Offset  int64  `json:"offset"`
			}
			require.NoError(t, json.Unmarshal([]byte(msgs[i]), &want))
			require.Equal(t, want.MatchID, acc.PartitionKey, "position %d", i)
			require.Equal(t, want.Offset, acc.Offset, "position %d", i)
		}
	}
}

func TestIngestAcceptsIntegralDecimalOffsets(t *testing.T) {
	store := eventstore.NewMemoryStore()
	p, _ := newTestPipeline(store)

	result := p.Ingest(context.Background(), rawBatch(
		`{"matchId":"A","offset":1}`,
		`{"matchId":"A","offset":3.0}`,
		`{"matchId":"A","offset":3}`,
	))

	assert.Len(t, result.Accepted, 2)
	assert.Equal(t, 0, result.Malformed)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, []int64{1, 3}, offsetsOf(logged(t, store), "A"))
}
