package projector

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/feed/internal/eventstore"
	"example.com/backstage/feed/internal/metrics"
	"example.com/backstage/feed/internal/models"
	"example.com/backstage/feed/internal/tracing"
)

// State is the projector loop state
type State int32

const (
	// StateIdle means the last poll found nothing pending
	StateIdle State = iota
	// StateDraining means a fetched batch is being applied
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config controls polling
type Config struct {
	BatchSize int
	Interval  time.Duration
}

// Stats is a snapshot of projector progress
type Stats struct {
	State   string `json:"state"`
	Polls   int64  `json:"polls"`
	Applied int64  `json:"applied"`
	Failed  int64  `json:"failed"`
}

// Projector pulls unprocessed events from the log and applies them to a sink.
//
// Events are marked processed only after a successful apply. A failed event stays
// unprocessed and is fetched again on the next poll; there is no retry cap, backoff
// or dead letter, so an event that always fails keeps its slot at the head of every batch.
type Projector struct {
	events    eventstore.EventLog
	sink      Sink
	batchSize int
	interval  time.Duration
	metrics   *metrics.Metrics
	tracer    tracing.Tracer

	state   atomic.Int32
	polls   atomic.Int64
	applied atomic.Int64
	failed  atomic.Int64
}

// NewProjector creates a new projector
func NewProjector(
	events eventstore.EventLog,
	sink Sink,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
	cfg Config,
) *Projector {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	if metricsCollector == nil {
		metricsCollector = metrics.NewMetrics()
	}
	if tracer == nil {
		tracer = tracing.Noop()
	}

	return &Projector{
		events:    events,
		sink:      sink,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
		metrics:   metricsCollector,
		tracer:    tracer,
	}
}

// Run polls until ctx is cancelled. A batch in progress when ctx is cancelled is
// finished before Run returns.
func (p *Projector) Run(ctx context.Context) error {
	log.Info().
		Int("batch_size", p.batchSize).
		Dur("interval", p.interval).
		Msg("Projector started")

	p.metrics.SetHealth(metrics.HealthProjector, true)
	defer p.metrics.SetHealth(metrics.HealthProjector, false)

	for {
		if ctx.Err() != nil {
			log.Info().Msg("Projector stopped")
			return nil
		}

		n, err := p.RunOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to fetch unprocessed events")
		}
		if err == nil && n > 0 {
			continue
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Projector stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce performs a single poll and applies the fetched batch. It returns the
// number of events fetched.
func (p *Projector) RunOnce(ctx context.Context) (int, error) {
	p.polls.Add(1)
	p.metrics.IncrementCounter(metrics.CounterPolls)

	batch, err := p.events.GetUnprocessedBatch(ctx, p.batchSize)
	if err != nil {
		p.state.Store(int32(StateIdle))
		return 0, err
	}
	if len(batch) == 0 {
		p.state.Store(int32(StateIdle))
		return 0, nil
	}

	p.state.Store(int32(StateDraining))
	defer p.state.Store(int32(StateIdle))

	start := time.Now()
	txn := p.tracer.StartTransaction("projector-batch")
	defer p.tracer.EndTransaction(txn)
	p.tracer.AddAttribute(txn, "events", len(batch))

	applyCtx := context.WithoutCancel(ctx)
	failed := 0
	for _, event := range batch {
		seg := p.tracer.StartSpan("apply-event", txn)
		err := p.project(applyCtx, event)
		seg.End()
		if err != nil {
			failed++
			p.tracer.RecordError(txn, err)
		}
	}

	p.metrics.RecordDuration(metrics.TimerProjectorBatch, time.Since(start))
	log.Debug().
		Int("events", len(batch)).
		Int("failed", failed).
		Msg("Projector batch drained")

	return len(batch), nil
}

// project applies one event and marks it processed on success
func (p *Projector) project(ctx context.Context, event models.Event) error {
	if err := p.apply(ctx, event); err != nil {
		p.failed.Add(1)
		p.metrics.IncrementCounter(metrics.CounterApplyFailures)
		p.metrics.RecordError(metrics.RateApply)
		log.Error().
			Err(err).
			Str("event_id", event.ID).
			Str("partition_key", event.PartitionKey).
			Int64("offset", event.Offset).
			Msg("Failed to apply event, leaving it for retry")
		return err
	}

	if err := p.events.MarkProcessed(ctx, event.ID); err != nil {
		// The sink already has the event; it will be applied again on the next poll
		log.Error().
			Err(err).
			Str("event_id", event.ID).
			Msg("Failed to mark event as processed")
		return err
	}

	p.applied.Add(1)
	p.metrics.IncrementCounter(metrics.CounterEventsApplied)
	p.metrics.RecordSuccess(metrics.RateApply)
	return nil
}

func (p *Projector) apply(ctx context.Context, event models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in sink: %v", r)
		}
	}()
	return p.sink.Apply(ctx, event)
}

// State returns the current loop state
func (p *Projector) State() State {
	return State(p.state.Load())
}

// Stats returns a snapshot of projector counters
func (p *Projector) Stats() Stats {
	return Stats{
		State:   p.State().String(),
		Polls:   p.polls.Load(),
		Applied: p.applied.Load(),
		Failed:  p.failed.Load(),
	}
}
