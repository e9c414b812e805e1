package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/feed/internal/eventstore"
	"example.com/backstage/feed/internal/metrics"
	"example.com/backstage/feed/internal/tracing"
)

const defaultConcurrency = 8

// Accepted identifies an event appended to the log
type Accepted struct {
	ID           string `json:"id"`
	PartitionKey string `json:"partition_key"`
	Offset       int64  `json:"offset"`

	index int
}

// Result summarises the outcome of one batch
type Result struct {
	Received   int        `json:"received"`
	Accepted   []Accepted `json:"accepted"`
	Duplicates int        `json:"duplicates"`
	Malformed  int        `json:"malformed"`
	Failed     int        `json:"failed"`
}

func (r *Result) merge(o Result) {
	r.Accepted = append(r.Accepted, o.Accepted...)
	r.Duplicates += o.Duplicates
	r.Malformed += o.Malformed
	r.Failed += o.Failed
}

// Pipeline deduplicates feed batches against the offset index and appends accepted events to the log.
//
// Messages of one partition are handled in batch order; partitions run concurrently.
// The check, append and offset update for a message run under the partition's lock,
// so concurrent batches for the same partition cannot both accept one offset.
//
// Append and the offset update are separate calls. If the process dies between them
// the event is logged but the index is not advanced, and a redelivery of that offset
// will be accepted again.
type Pipeline struct {
	events      eventstore.EventLog
	offsets     eventstore.OffsetIndex
	locks       *partitionLocks
	concurrency int
	metrics     *metrics.Metrics
	tracer      tracing.Tracer
}

// NewPipeline creates a new ingestion pipeline
func NewPipeline(
	events eventstore.EventLog,
	offsets eventstore.OffsetIndex,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
	concurrency int,
) *Pipeline {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if metricsCollector == nil {
		metricsCollector = metrics.NewMetrics()
	}
	if tracer == nil {
		tracer = tracing.Noop()
	}

	return &Pipeline{
		events:      events,
		offsets:     offsets,
		locks:       newPartitionLocks(),
		concurrency: concurrency,
		metrics:     metricsCollector,
		tracer:      tracer,
	}
}

// IngestPayload ingests a raw transport body. A JSON array is a batch and a single
// object is a batch of one; anything else is reported and dropped.
func (p *Pipeline) IngestPayload(ctx context.Context, body []byte) Result {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		log.Warn().Msg("Received empty payload")
		return Result{}
	}

	switch trimmed[0] {
	case '[':
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			log.Warn().Err(err).Msg("Received undecodable batch payload")
			return Result{}
		}
		return p.Ingest(ctx, batch)
	case '{':
		return p.Ingest(ctx, []json.RawMessage{json.RawMessage(trimmed)})
	default:
		log.Warn().Msg("Received non-array payload")
		return Result{}
	}
}

// Ingest processes one batch. It never fails as a whole: malformed messages, duplicates
// and store errors are counted per message and processing continues.
func (p *Pipeline) Ingest(ctx context.Context, batch []json.RawMessage) Result {
	start := time.Now()
	txn := p.tracer.StartTransaction("ingest-batch")
	defer p.tracer.EndTransaction(txn)
	p.tracer.AddAttribute(txn, "messages", len(batch))

	result := Result{Received: len(batch), Accepted: make([]Accepted, 0)}

	groups, order := make(map[string][]Message), make([]string, 0)
	for i, raw := range batch {
		msg, err := Decode(raw)
		if err != nil {
			result.Malformed++
			log.Warn().Err(err).Int("index", i).Msg("Skipping message without partition key/offset")
			continue
		}
		msg.index = i
		if _, ok := groups[msg.PartitionKey]; !ok {
			order = append(order, msg.PartitionKey)
		}
		groups[msg.PartitionKey] = append(groups[msg.PartitionKey], msg)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for _, key := range order {
		messages := groups[key]
		g.Go(func() error {
			partial := p.ingestPartition(ctx, messages)
			mu.Lock()
			result.merge(partial)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// partitions finish in any order; report acceptances in batch order
	sort.Slice(result.Accepted, func(i, j int) bool {
		return result.Accepted[i].index < result.Accepted[j].index
	})

	p.metrics.IncrementCounter(metrics.CounterBatchesReceived)
	p.metrics.IncrementCounterBy(metrics.CounterMessagesReceived, int64(result.Received))
	p.metrics.IncrementCounterBy(metrics.CounterEventsAccepted, int64(len(result.Accepted)))
	p.metrics.IncrementCounterBy(metrics.CounterDuplicates, int64(result.Duplicates))
	p.metrics.IncrementCounterBy(metrics.CounterMalformed, int64(result.Malformed))
	p.metrics.IncrementCounterBy(metrics.CounterIngestFailures, int64(result.Failed))
	p.metrics.RecordDuration(metrics.TimerIngestBatch, time.Since(start))

	p.tracer.AddAttribute(txn, "accepted", len(result.Accepted))

	log.Debug().
		Int("received", result.Received).
		Int("accepted", len(result.Accepted)).
		Int("duplicates", result.Duplicates).
		Int("malformed", result.Malformed).
		Int("failed", result.Failed).
		Msg("Batch ingested")

	return result
}

// ingestPartition walks one partition's messages in order
func (p *Pipeline) ingestPartition(ctx context.Context, messages []Message) Result {
	var result Result

	for i, msg := range messages {
		if err := ctx.Err(); err != nil {
			result.Failed += len(messages) - i
			log.Warn().
				Err(err).
				Str("partition_key", msg.PartitionKey).
				Int("rejected", len(messages)-i).
				Msg("Ingest cancelled, rejecting remaining messages")
			break
		}

		accepted, duplicate, err := p.ingestMessage(ctx, msg)
		switch {
		case err != nil:
			result.Failed++
			log.Error().
				Err(err).
				Str("partition_key", msg.PartitionKey).
				Int64("offset", msg.Offset).
				Msg("Error appending event")
		case duplicate:
			result.Duplicates++
		default:
			result.Accepted = append(result.Accepted, accepted)
		}
	}

	return result
}

func (p *Pipeline) ingestMessage(ctx context.Context, msg Message) (Accepted, bool, error) {
	unlock := p.locks.lock(msg.PartitionKey)
	defer unlock()

	last, ok, err := p.offsets.GetLastOffset(ctx, msg.PartitionKey)
	if err != nil {
		return Accepted{}, false, err
	}

	if ok && msg.Offset <= last {
		log.Debug().
			Str("partition_key", msg.PartitionKey).
			Int64("offset", msg.Offset).
			Int64("last_offset", last).
			Msg("Skipping duplicate or stale message")
		return Accepted{}, true, nil
	}

	id, err := p.events.Append(ctx, msg.PartitionKey, msg.Offset, msg.MsgType, msg.Payload)
	if err != nil {
		return Accepted{}, false, err
	}

	if err := p.offsets.SetLastOffset(ctx, msg.PartitionKey, msg.Offset); err != nil {
		// The event is already in the log; only the index lags behind
		log.Error().
			Err(err).
			Str("event_id", id).
			Str("partition_key", msg.PartitionKey).
			Int64("offset", msg.Offset).
			Msg("Event appended but offset index not advanced")
	}

	log.Info().
		Str("event_id", id).
		Str("msg_type", msg.MsgType).
		Str("partition_key", msg.PartitionKey).
		Int64("offset", msg.Offset).
		Msg("Event accepted")

	return Accepted{ID: id, PartitionKey: msg.PartitionKey, Offset: msg.Offset, index: msg.index}, false, nil
}
