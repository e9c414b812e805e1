package cmd

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/feed/config"
	"example.com/backstage/feed/internal/api"
	"example.com/backstage/feed/internal/api/handlers"
	"example.com/backstage/feed/internal/cache"
	"example.com/backstage/feed/internal/database"
	"example.com/backstage/feed/internal/eventstore"
	"example.com/backstage/feed/internal/ingest"
	"example.com/backstage/feed/internal/metrics"
	"example.com/backstage/feed/internal/projector"
	"example.com/backstage/feed/internal/readmodel"
	"example.com/backstage/feed/internal/reporter"
	"example.com/backstage/feed/internal/search"
	"example.com/backstage/feed/internal/tracing"
)

// app holds the components shared by the long-running commands
type app struct {
	cfg       config.Config
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	tracer    tracing.Tracer
	db        *gorm.DB
	cache     *cache.RedisCache
	events    eventstore.EventLog
	offsets   eventstore.OffsetIndex
	pipeline  *ingest.Pipeline
	projector *projector.Projector
	reporter  *reporter.BacklogReporter
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.NewMetrics()}

	registry, err := metrics.NewRegistry(a.metrics)
	if err != nil {
		return nil, errors.Wrap(err, "failed to register metrics collector")
	}
	a.registry = registry

	a.tracer, err = tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		a.tracer = tracing.Noop()
	}

	if cfg.Store.Driver == "postgres" || cfg.Offsets.Driver == "postgres" {
		a.db, err = database.Connect(cfg.DB)
		if err != nil {
			a.close()
			return nil, err
		}
		if err := database.AutoMigrate(a.db); err != nil {
			a.close()
			return nil, err
		}
	}

	if cfg.Redis.Enabled {
		a.cache, err = cache.NewRedisCache(cfg.Redis)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	memory := eventstore.NewMemoryStore()
	a.events = memory
	if cfg.Store.Driver == "postgres" {
		a.events = eventstore.NewGormEventLog(a.db)
	}

	switch cfg.Offsets.Driver {
	case "postgres":
		a.offsets = eventstore.NewGormOffsetIndex(a.db)
	case "redis":
		a.offsets = eventstore.NewRedisOffsetIndex(a.cache.Client(), a.cache.Prefix())
	default:
		a.offsets = memory
	}

	sink, err := a.buildSink(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	a.pipeline = ingest.NewPipeline(a.events, a.offsets, a.metrics, a.tracer, cfg.Ingest.Concurrency)
	a.projector = projector.NewProjector(a.events, sink, a.metrics, a.tracer, projector.Config{
		BatchSize: cfg.Projector.BatchSize,
		Interval:  cfg.Projector.Interval,
	})
	a.reporter = reporter.NewBacklogReporter(a.events, a.metrics, cfg.Reporter.Interval)

	log.Info().
		Str("store", cfg.Store.Driver).
		Str("offsets", cfg.Offsets.Driver).
		Strs("sinks", cfg.Sinks).
		Msg("Feed components initialized")

	return a, nil
}

func (a *app) buildSink(ctx context.Context) (projector.Sink, error) {
	sinks := make([]projector.Sink, 0, len(a.cfg.Sinks))
	for _, name := range a.cfg.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, readmodel.LogSink{})
		case "redis":
			sink, err := readmodel.NewRedisSink(a.cache)
			if err != nil {
				return nil, errors.Wrap(err, "failed to create redis sink")
			}
			sinks = append(sinks, sink)
		case "elasticsearch":
			client, err := search.NewElasticClient(a.cfg.Elastic)
			if err != nil {
				return nil, err
			}
			if err := client.EnsureIndex(ctx); err != nil {
				return nil, err
			}
			sinks = append(sinks, readmodel.NewElasticsearchSink(client))
		default:
			return nil, errors.Errorf("unknown sink %q", name)
		}
	}

	if len(sinks) == 0 {
		return readmodel.LogSink{}, nil
	}
	return readmodel.NewMultiSink(sinks...), nil
}

func (a *app) newServer() *api.Server {
	feedHandler := handlers.NewFeedHandler(a.pipeline, a.events, a.offsets, a.projector, a.tracer)
	metricsHandler := handlers.NewMetricsHandler(a.metrics, a.registry, a.tracer)
	return api.NewServer(a.cfg.Server, feedHandler, metricsHandler, a.tracer)
}

func (a *app) close() {
	if a.tracer != nil {
		a.tracer.Close()
	}
	if err := a.cache.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close Redis connection")
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			log.Error().Err(err).Msg("Failed to close database connection")
		}
	}
}
