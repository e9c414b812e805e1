package messaging

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"example.com/backstage/feed/internal/ingest"
)

// MessageProcessor handles one received message. A returned error abandons the
// message so the broker redelivers it.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

// PayloadIngester accepts raw feed bodies
type PayloadIngester interface {
	IngestPayload(ctx context.Context, body []byte) ingest.Result
}

// FeedProcessor passes message bodies to the ingestion pipeline
type FeedProcessor struct {
	pipeline PayloadIngester
}

// NewFeedProcessor creates a new processor
func NewFeedProcessor(pipeline PayloadIngester) *FeedProcessor {
	return &FeedProcessor{pipeline: pipeline}
}

// ProcessMessage ingests the message body. Per-message outcomes never fail the
// message; it is only abandoned when shutdown interrupted the batch.
func (p *FeedProcessor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	result := p.pipeline.IngestPayload(ctx, message.Body)

	log.Debug().
		Str("message_id", message.MessageID).
		Int("received", result.Received).
		Int("accepted", len(result.Accepted)).
		Int("duplicates", result.Duplicates).
		Int("malformed", result.Malformed).
		Int("failed", result.Failed).
		Msg("Message ingested")

	if err := ctx.Err(); err != nil && result.Failed > 0 {
		return err
	}
	return nil
}
