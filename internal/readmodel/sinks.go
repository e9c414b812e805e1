package readmodel

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/feed/internal/models"
	"example.com/backstage/feed/internal/projector"
)

// Document is the read-model shape of an applied event
type Document struct {
	EventID      string          `json:"event_id"`
	PartitionKey string          `json:"partition_key"`
	Offset       int64           `json:"offset"`
	MsgType      string          `json:"msg_type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`
	AppliedAt    time.Time       `json:"applied_at"`
}

// NewDocument builds the read-model document for an event
func NewDocument(event models.Event, appliedAt time.Time) Document {
	doc := Document{
		EventID:      event.ID,
		PartitionKey: event.PartitionKey,
		Offset:       event.Offset,
		MsgType:      event.MsgType,
		ReceivedAt:   event.ReceivedAt,
		AppliedAt:    appliedAt.UTC(),
	}
	if json.Valid(event.Payload) {
		doc.Payload = json.RawMessage(event.Payload)
	}
	return doc
}

// LogSink logs every applied event
type LogSink struct{}

// Apply implements projector.Sink
func (LogSink) Apply(ctx context.Context, event models.Event) error {
	log.Info().
		Str("event_id", event.ID).
		Str("partition_key", event.PartitionKey).
		Int64("offset", event.Offset).
		Str("msg_type", event.MsgType).
		Int("payload_bytes", len(event.Payload)).
		Msg("Event applied")
	return nil
}

// MultiSink applies an event to each sink in order and stops at the first failure.
// The event is then retried as a whole, so every sink must tolerate re-application.
type MultiSink []projector.Sink

// NewMultiSink drops nil sinks
func NewMultiSink(sinks ...projector.Sink) MultiSink {
	out := make(MultiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Apply implements projector.Sink
func (m MultiSink) Apply(ctx context.Context, event models.Event) error {
	for i, sink := range m {
		if err := sink.Apply(ctx, event); err != nil {
			return errors.Wrapf(err, "sink %d", i)
		}
	}
	return nil
}
