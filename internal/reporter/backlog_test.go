package reporter

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/feed/internal/eventstore"
	"example.com/backstage/feed/internal/metrics"
)

type mockStats struct {
	mock.Mock
}

func (m *mockStats) Stats(ctx context.Context) (eventstore.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(eventstore.Stats), args.Error(1)
}

func TestCheckPublishesGauges(t *testing.T) {
	store := eventstore.NewMemoryStore()
	for i := 1; i <= 3; i++ {
		_, err := store.Append(context.Background(), "m1", int64(i), "update", []byte(`{}`))
		require.NoError(t, err)
	}

	m := metrics.NewMetrics()
	r := NewBacklogReporter(store, m, time.Minute)
	require.NoError(t, r.Check(context.Background()))

	gauges := m.GetGauges()
	assert.Equal(t, int64(3), gauges[metrics.GaugePendingEvents])
	assert.Equal(t, int64(3), gauges[metrics.GaugeTotalEvents])
	assert.Equal(t, int64(0), gauges[metrics.GaugeHeadStuckRuns])
	assert.True(t, m.GetHealthChecks()[metrics.HealthStore])
}

func TestCheckCountsStuckHead(t *testing.T) {
	ctx := context.Background()
	source := &mockStats{}
	source.On("Stats", ctx).Return(eventstore.Stats{Total: 5, Pending: 2, Head: "e2"}, nil).Times(3)
	source.On("Stats", ctx).Return(eventstore.Stats{Total: 5, Pending: 1, Head: "e4"}, nil).Once()
	source.On("Stats", ctx).Return(eventstore.Stats{Total: 5}, nil).Once()

	m := metrics.NewMetrics()
	r := NewBacklogReporter(source, m, time.Minute)

	var runs []int64
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Check(ctx))
		runs = append(runs, r.StuckRuns())
	}

	assert.Equal(t, []int64{0, 1, 2, 0, 0}, runs)
	source.AssertExpectations(t)
}

func TestCheckReportsStoreErrors(t *testing.T) {
	source := &mockStats{}
	source.On("Stats", mock.Anything).Return(eventstore.Stats{}, errors.New("db down"))

	m := metrics.NewMetrics()
	err := NewBacklogReporter(source, m, time.Minute).Check(context.Background())
	require.Error(t, err)
	assert.False(t, m.GetHealthChecks()[metrics.HealthStore])
}

func TestRunStopsOnCancel(t *testing.T) {
	source := &mockStats{}
	source.On("Stats", mock.Anything).Return(eventstore.Stats{}, nil).Maybe()

	r := NewBacklogReporter(source, metrics.NewMetrics(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reporter did not stop")
	}
}
