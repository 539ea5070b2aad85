package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/xphere-collector/internal/config"
	"github.com/ahrav/xphere-collector/internal/domain/collection"
	"github.com/ahrav/xphere-collector/internal/domain/events"
	"github.com/ahrav/xphere-collector/internal/infra/eventbus/kafka"
	"github.com/ahrav/xphere-collector/internal/infra/eventbus/memory"
	"github.com/ahrav/xphere-collector/internal/infra/storage"
	fileCheckpoint "github.com/ahrav/xphere-collector/internal/infra/storage/checkpoint/file"
	memCheckpoint "github.com/ahrav/xphere-collector/internal/infra/storage/checkpoint/memory"
	pgCheckpoint "github.com/ahrav/xphere-collector/internal/infra/storage/checkpoint/postgres"
	csvCorpus "github.com/ahrav/xphere-collector/internal/infra/storage/corpus/csv"
	pgCorpus "github.com/ahrav/xphere-collector/internal/infra/storage/corpus/postgres"
	"github.com/ahrav/xphere-collector/pkg/common/logger"
	"github.com/ahrav/xphere-collector/pkg/common/otel"
	"github.com/ahrav/xphere-collector/pkg/metrics"
)

const serviceType = "collector"

// runtime holds the wired components shared by every subcommand.
type runtime struct {
	cfg     *config.Config
	log     *logger.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics

	corpus      collection.CorpusStore
	checkpoints collection.CheckpointRepository
	publisher   events.DomainEventPublisher

	closers []func(context.Context)
}

func newRuntime(ctx context.Context, cfg *config.Config, logOut io.Writer) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}
	metadata := map[string]string{
		"hostname": hostname,
		"app":      serviceType,
	}
	rt.log = logger.NewWithMetadata(
		logOut,
		logger.ParseLevel(cfg.Log.Level),
		cfg.Telemetry.ServiceName,
		traceIDFn,
		logger.Events{},
		metadata,
	)

	tp, telemetryTeardown, err := otel.InitTelemetry(rt.log, otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		Probability:      cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	rt.closers = append(rt.closers, telemetryTeardown)
	rt.tracer = tp.Tracer(cfg.Telemetry.ServiceName)

	rt.metrics = metrics.New(cfg.Metrics.Namespace)
	if cfg.Metrics.Addr != "" {
		srvCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
		rt.closers = append(rt.closers, func(context.Context) { stop() })
		go func() {
			if err := rt.metrics.RunServer(srvCtx, cfg.Metrics.Addr); err != nil {
				rt.log.Error(ctx, "metrics server error", "error", err)
			}
		}()
		rt.log.Info(ctx, "metrics server listening", "addr", cfg.Metrics.Addr)
	}

	if err := rt.wireStorage(ctx); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	if err := rt.wireEvents(ctx); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) wireStorage(ctx context.Context) error {
	cfg := rt.cfg
	resources := cfg.DomainResources()

	var pool *pgxpool.Pool
	if cfg.Storage.Corpus == config.CorpusPostgres || cfg.Storage.Checkpoint == config.CheckpointPostgres {
		var err error
		pool, err = storage.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) { pool.Close() })

		if err := storage.RunMigrations(pool); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		rt.log.Info(ctx, "postgres ready", "max_conns", cfg.Postgres.MaxConns)
	}

	switch cfg.Storage.Corpus {
	case config.CorpusPostgres:
		rt.corpus = pgCorpus.NewStore(pool, resources, rt.tracer)
	default:
		rt.corpus = csvCorpus.NewStore(cfg.OutputDir, rt.tracer)
	}

	switch cfg.Storage.Checkpoint {
	case config.CheckpointPostgres:
		rt.checkpoints = pgCheckpoint.NewCheckpointStore(pool, rt.tracer)
	case config.CheckpointMemory:
		rt.checkpoints = memCheckpoint.NewCheckpointStore()
	default:
		rt.checkpoints = fileCheckpoint.NewCheckpointStore(cfg.OutputDir, resources, rt.tracer)
	}
	return nil
}

// wireEvents publishes to Kafka when brokers are configured. Otherwise
// events go through an in-process broker whose only subscriber logs them.
func (rt *runtime) wireEvents(ctx context.Context) error {
	cfg := rt.cfg
	if cfg.Kafka.Enabled() {
		bus, err := kafka.ConnectWithRetry(ctx, &kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
		}, cfg.Kafka.Connect, rt.log, rt.metrics, rt.tracer)
		if err != nil {
			return fmt.Errorf("failed to connect to kafka: %w", err)
		}
		rt.closers = append(rt.closers, func(ctx context.Context) {
			if err := bus.Close(); err != nil {
				rt.log.Error(ctx, "failed to close kafka event bus", "error", err)
			}
		})
		rt.publisher = kafka.NewDomainEventPublisher(bus)
		return nil
	}

	broker := memory.NewBroker()
	subCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	if err := broker.Subscribe(subCtx, func(ctx context.Context, evt events.EventEnvelope) error {
		rt.log.Debug(ctx, "domain event", "type", string(evt.Type), "key", evt.Key)
		return nil
	}); err != nil {
		stop()
		return fmt.Errorf("failed to subscribe to event broker: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) {
		stop()
		_ = broker.Close()
	})
	rt.publisher = kafka.NewDomainEventPublisher(broker)
	return nil
}

// Close releases resources in reverse acquisition order.
func (rt *runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i](ctx)
	}
	rt.closers = nil
}
