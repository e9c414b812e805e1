package reporter

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/feed/internal/eventstore"
	"example.com/backstage/feed/internal/metrics"
)

// StatsSource reports event log statistics
type StatsSource interface {
	Stats(ctx context.Context) (eventstore.Stats, error)
}

// BacklogReporter periodically publishes backlog gauges and warns when the oldest
// pending event has not moved between runs, which means the projector keeps failing on it.
type BacklogReporter struct {
	events   StatsSource
	metrics  *metrics.Metrics
	interval time.Duration

	mu        sync.Mutex
	lastHead  string
	stuckRuns int64
}

// NewBacklogReporter creates a new reporter
func NewBacklogReporter(events StatsSource, metricsCollector *metrics.Metrics, interval time.Duration) *BacklogReporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if metricsCollector == nil {
		metricsCollector = metrics.NewMetrics()
	}
	return &BacklogReporter{
		events:   events,
		metrics:  metricsCollector,
		interval: interval,
	}
}

// Check reads the log stats once and updates the gauges
func (r *BacklogReporter) Check(ctx context.Context) error {
	stats, err := r.events.Stats(ctx)
	if err != nil {
		r.metrics.SetHealth(metrics.HealthStore, false)
		return errors.Wrap(err, "failed to read event log stats")
	}
	r.metrics.SetHealth(metrics.HealthStore, true)

	r.mu.Lock()
	if stats.Head != "" && stats.Head == r.lastHead {
		r.stuckRuns++
	} else {
		r.stuckRuns = 0
	}
	r.lastHead = stats.Head
	stuck := r.stuckRuns
	r.mu.Unlock()

	r.metrics.SetGauge(metrics.GaugePendingEvents, stats.Pending)
	r.metrics.SetGauge(metrics.GaugeTotalEvents, stats.Total)
	r.metrics.SetGauge(metrics.GaugeHeadStuckRuns, stuck)

	if stuck > 0 {
		log.Warn().
			Str("event_id", stats.Head).
			Int64("runs", stuck).
			Int64("pending", stats.Pending).
			Msg("Oldest pending event has not been applied since the last check")
	} else {
		log.Debug().
			Int64("pending", stats.Pending).
			Int64("total", stats.Total).
			Msg("Backlog checked")
	}
	return nil
}

// StuckRuns returns how many consecutive checks saw the same pending head
func (r *BacklogReporter) StuckRuns() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stuckRuns
}

// Run schedules Check every interval until ctx is cancelled
func (r *BacklogReporter) Run(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "failed to create scheduler")
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() {
			if err := r.Check(ctx); err != nil {
				log.Error().Err(err).Msg("Backlog check failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.Wrap(err, "failed to schedule backlog check")
	}

	log.Info().Dur("interval", r.interval).Msg("Starting backlog reporter")
	scheduler.Start()

	<-ctx.Done()

	return scheduler.Shutdown()
}
