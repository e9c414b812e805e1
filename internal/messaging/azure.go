package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/feed/config"
	"example.com/backstage/feed/internal/metrics"
)

const (
	// RetryDelay is the pause before reconnecting after a receive failure
	RetryDelay = 5 * time.Second

	sessionWait  = 2 * time.Second
	receiveBatch = 10
)

// AzureConsumer reads feed batches from a session-enabled Service Bus queue
type AzureConsumer struct {
	client     *azservicebus.Client
	queueName  string
	processor  MessageProcessor
	metrics    *metrics.Metrics
	retryDelay time.Duration
}

// NewAzureConsumer creates a consumer for cfg.QueueName
func NewAzureConsumer(cfg config.AzureConfig, processor MessageProcessor, metricsCollector *metrics.Metrics) (*AzureConsumer, error) {
	if cfg.QueueConnStr == "" {
		return nil, pkgerrors.New("azure.queue_conn_str is required")
	}

	if metricsCollector == nil {
		metricsCollector = metrics.NewMetrics()
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create Service Bus client")
	}

	return &AzureConsumer{
		client:     client,
		queueName:  cfg.QueueName,
		processor:  processor,
		metrics:    metricsCollector,
		retryDelay: RetryDelay,
	}, nil
}

// Run consumes until ctx is cancelled, reconnecting after failures
func (a *AzureConsumer) Run(ctx context.Context) error {
	defer func() {
		if err := a.client.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error closing Service Bus client")
		}
	}()

	return runWithRetry(ctx, a.retryDelay, a.consume)
}

// runWithRetry calls fn until ctx is cancelled, waiting delay after each failure
func runWithRetry(ctx context.Context, delay time.Duration, fn func(context.Context) error) error {
	for {
		err := fn(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Error().Err(err).Dur("retry_in", delay).Msg("Consumer failed, retrying")
		}
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

func (a *AzureConsumer) consume(ctx context.Context) error {
	log.Info().Str("queue", a.queueName).Msg("Starting consumer")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		receiver, err := a.client.AcceptNextSessionForQueue(ctx, a.queueName, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				log.Debug().Msg("No session available, waiting")
				if !sleep(ctx, sessionWait) {
					return nil
				}
				continue
			}
			a.metrics.SetHealth(metrics.HealthTransport, false)
			return pkgerrors.Wrap(err, "failed to accept session")
		}

		a.metrics.SetHealth(metrics.HealthTransport, true)
		log.Info().Str("session_id", receiver.SessionID()).Msg("Session received")

		wg.Add(1)
		go func() {
			defer wg.Done()
			a.handleSession(ctx, receiver)
		}()
	}
}

func (a *AzureConsumer) handleSession(ctx context.Context, receiver *azservicebus.SessionReceiver) {
	sessionID := receiver.SessionID()
	defer func() {
		log.Info().Str("session_id", sessionID).Msg("Closing session")
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("Error closing session")
		}
	}()

	settleCtx := context.WithoutCancel(ctx)
	for {
		messages, err := receiver.ReceiveMessages(ctx, receiveBatch, nil)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("session_id", sessionID).Msg("Error receiving messages")
			}
			return
		}
		if len(messages) == 0 {
			return
		}

		log.Debug().Int("messages", len(messages)).Str("session_id", sessionID).Msg("Received messages")
		a.metrics.IncrementCounterBy(metrics.CounterTransportMsgs, int64(len(messages)))

		for _, message := range messages {
			if err := a.processor.ProcessMessage(ctx, message); err != nil {
				log.Warn().Err(err).Str("message_id", message.MessageID).Msg("Abandoning message")
				if err := receiver.AbandonMessage(settleCtx, message, nil); err != nil {
					log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to abandon message")
				}
				continue
			}

			if err := receiver.CompleteMessage(settleCtx, message, nil); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to complete message")
			}
		}
	}
}

// sleep waits d or until ctx is done; it reports whether the full wait elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
