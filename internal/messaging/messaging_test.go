package messaging

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/feed/config"
	"example.com/backstage/feed/internal/ingest"
)

type mockIngester struct {
	mock.Mock
}

func (m *mockIngester) IngestPayload(ctx context.Context, body []byte) ingest.Result {
	args := m.Called(ctx, body)
	return args.Get(0).(ingest.Result)
}

func TestProcessMessagePassesBodyToPipeline(t *testing.T) {
	body := []byte(`[{"matchId":"m1","offset":1}]`)
	ingester := &mockIngester{}
	ingester.On("IngestPayload", mock.Anything, body).Return(ingest.Result{
		Received: 1,
		Accepted: []ingest.Accepted{{ID: "a", PartitionKey: "m1", Offset: 1}},
	})

	err := NewFeedProcessor(ingester).ProcessMessage(context.Background(), &azservicebus.ReceivedMessage{
		MessageID: "msg-1",
		Body:      body,
	})
	require.NoError(t, err)
	ingester.AssertExpectations(t)
}

func TestProcessMessageCompletesDespiteRejectedMessages(t *testing.T) {
	ingester := &mockIngester{}
	ingester.On("IngestPayload", mock.Anything, mock.Anything).Return(ingest.Result{
		Received:   3,
		Duplicates: 1,
		Malformed:  1,
		Failed:     1,
	})

	err := NewFeedProcessor(ingester).ProcessMessage(context.Background(), &azservicebus.ReceivedMessage{Body: []byte(`[]`)})
	assert.NoError(t, err)
}

func TestProcessMessageAbandonsInterruptedBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ingester := &mockIngester{}
	ingester.On("IngestPayload", mock.Anything, mock.Anything).Return(ingest.Result{Received: 2, Failed: 2})

	err := NewFeedProcessor(ingester).ProcessMessage(ctx, &azservicebus.ReceivedMessage{Body: []byte(`[]`)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWithRetryReconnectsAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- runWithRetry(ctx, time.Millisecond, func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("connection lost")
			}
			<-ctx.Done()
			return nil
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("retry loop did not stop")
	}
}

func TestRunWithRetryStopsDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- runWithRetry(ctx, time.Hour, func(ctx context.Context) error {
			return errors.New("unreachable broker")
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
}

func TestNewAzureConsumerRequiresConnectionString(t *testing.T) {
	_, err := NewAzureConsumer(config.AzureConfig{QueueName: "feed-updates"}, NewFeedProcessor(&mockIngester{}), nil)
	assert.Error(t, err)
}
