package collection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
	"github.com/ahrav/xphere-collector/internal/domain/events"
	"github.com/ahrav/xphere-collector/pkg/common/logger"
	"github.com/ahrav/xphere-collector/pkg/metrics"
)

// DriverOptions select how a collection run treats existing output.
type DriverOptions struct {
	// AppendToLatest appends a resumed run to the newest existing corpus
	// instead of starting a new one. It has no effect without a checkpoint.
	AppendToLatest bool
	// SkipIfFresh skips the run when a corpus was already written today.
	SkipIfFresh bool
	// ReconcileOnly runs only the second pass against the newest corpus.
	ReconcileOnly bool
}

// Driver runs the two-pass collection of a resource: a first pass that
// persists everything, then a second pass that appends only records whose
// identifiers the first pass did not see.
type Driver struct {
	collector   *Collector
	corpus      collection.CorpusStore
	checkpoints collection.CheckpointRepository
	publisher   events.DomainEventPublisher
	opts        DriverOptions
	now         func() time.Time

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics metrics.DriverMetrics
}

// DriverOption customizes a Driver.
type DriverOption func(*Driver)

// WithClock overrides the time source used to name corpora.
func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) { d.now = now }
}

// NewDriver creates a Driver. A nil publisher drops events.
func NewDriver(
	collector *Collector,
	corpus collection.CorpusStore,
	checkpoints collection.CheckpointRepository,
	publisher events.DomainEventPublisher,
	opts DriverOptions,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics metrics.DriverMetrics,
	options ...DriverOption,
) *Driver {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	d := &Driver{
		collector:   collector,
		corpus:      corpus,
		checkpoints: checkpoints,
		publisher:   publisher,
		opts:        opts,
		now:         time.Now,
		logger:      logger,
		tracer:      tracer,
		metrics:     metrics,
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// CollectResource collects res and returns the run's report. It returns
// collection.ErrNoRecords when the first pass finds nothing to reconcile
// against; a pass that ends unsuccessfully still yields a report.
func (d *Driver) CollectResource(ctx context.Context, res collection.Resource) (collection.Report, error) {
	report := collection.Report{
		RunID:     uuid.New(),
		Resource:  res.Name,
		StartedAt: d.now(),
	}

	ctx, span := d.tracer.Start(ctx, "driver.collect_resource",
		trace.WithAttributes(
			attribute.String("resource", res.Name),
			attribute.String("run_id", report.RunID.String()),
			attribute.Bool("append_to_latest", d.opts.AppendToLatest),
			attribute.Bool("reconcile_only", d.opts.ReconcileOnly),
		))
	defer span.End()

	log := d.logger.With("resource", res.Name, "run_id", report.RunID.String())

	err := d.metrics.TrackCollection(res.Name, func() error {
		var err error
		if d.opts.ReconcileOnly {
			report, err = d.reconcile(ctx, log, res, report)
		} else {
			report, err = d.collect(ctx, log, res, report)
		}
		return err
	})
	report.FinishedAt = d.now()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "collection failed")
		d.publish(ctx, log, res, collection.NewCollectionAbortedEvent(report.RunID, res.Name, err))
		return report, err
	}

	span.SetAttributes(
		attribute.Int("first_pass_count", report.FirstPassCount),
		attribute.Int("delta_count", report.DeltaCount),
	)
	if !report.Skipped {
		d.publish(ctx, log, res, collection.NewCollectionCompletedEvent(report.RunID, report))
	}
	return report, nil
}

func (d *Driver) collect(
	ctx context.Context,
	log *logger.Logger,
	res collection.Resource,
	report collection.Report,
) (collection.Report, error) {
	latest, err := d.corpus.Latest(ctx, res)
	if err != nil {
		return report, fmt.Errorf("failed to locate latest corpus: %w", err)
	}

	if d.opts.SkipIfFresh && latest != nil && sameDay(latest.CreatedAt, d.now()) {
		log.Info(ctx, "corpus already collected today, skipping", "corpus", latest.Name)
		report.Skipped = true
		report.Corpus = latest.Name
		return report, nil
	}

	cp, err := d.checkpoints.Load(ctx, res.Name)
	if err != nil {
		return report, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	startPage := 1
	if cp != nil && cp.Page > 1 {
		startPage = cp.Page
		log.Info(ctx, "resuming first pass from checkpoint", "page", startPage)
	}

	ref := d.corpus.NewRef(res, d.now())
	appending := false
	seed := collection.NewIDSet()
	existing := 0
	switch {
	case d.opts.AppendToLatest && latest != nil && cp == nil:
		// Without a checkpoint the first pass restarts at page 1 and would
		// persist the whole corpus a second time.
		log.Info(ctx, "no checkpoint to resume, starting a new corpus", "latest", latest.Name, "corpus", ref.Name)
	case d.opts.AppendToLatest && latest != nil:
		ref, appending = *latest, true
		// The seed also covers what earlier, interrupted runs persisted.
		seed, existing, err = d.corpus.ReadIDs(ctx, res, ref)
		if err != nil {
			return report, fmt.Errorf("failed to read identifiers from %s: %w", ref.Name, err)
		}
		log.Info(ctx, "appending to existing corpus", "corpus", ref.Name, "existing_records", existing)
	}
	report.Corpus = ref.Name

	d.publish(ctx, log, res, collection.NewCollectionStartedEvent(report.RunID, res.Name, ref.Name, startPage, appending))

	first := d.collector.Scan(ctx, res, nil, collection.ScanOptions{
		StartPage:  startPage,
		OnPage:     d.persist(ref, collection.PassFirst),
		Checkpoint: true,
	})
	report.FirstPassCount = first.Count()
	report.FirstPassDone = first.Terminated
	report.FirstPassLast = first.LastPage
	d.publish(ctx, log, res, collection.NewPassCompletedEvent(report.RunID, res.Name, collection.PassFirst, first))

	if first.Count() == 0 && existing == 0 {
		if first.Err != nil {
			return report, fmt.Errorf("%w: %w", collection.ErrNoRecords, first.Err)
		}
		return report, collection.ErrNoRecords
	}
	if !first.Terminated {
		log.Warn(ctx, "first pass ended before end of data",
			"stuck_page", first.LastPage,
			"records", first.Count(),
			"error", first.Err,
		)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	seed.AddRecords(res, first.Records)
	if seed.Len() == 0 {
		log.Warn(ctx, "no identifiers collected, skipping second pass")
		d.finish(ctx, log, res, &report, existing)
		return report, nil
	}

	second := d.collector.Scan(ctx, res, seed, collection.ScanOptions{
		StartPage: 1,
		OnPage:    d.persist(ref, collection.PassSecond),
	})
	report.DeltaCount = second.Count()
	report.SecondPassDone = second.Terminated
	report.SecondPassLast = second.LastPage
	d.publish(ctx, log, res, collection.NewPassCompletedEvent(report.RunID, res.Name, collection.PassSecond, second))

	if !second.Terminated {
		log.Warn(ctx, "second pass ended before end of data",
			"stuck_page", second.LastPage,
			"records", second.Count(),
			"error", second.Err,
		)
	}

	d.finish(ctx, log, res, &report, existing)
	return report, nil
}

// reconcile runs only the second pass, seeded from the newest corpus.
func (d *Driver) reconcile(
	ctx context.Context,
	log *logger.Logger,
	res collection.Resource,
	report collection.Report,
) (collection.Report, error) {
	latest, err := d.corpus.Latest(ctx, res)
	if err != nil {
		return report, fmt.Errorf("failed to locate latest corpus: %w", err)
	}
	if latest == nil {
		return report, fmt.Errorf("%w for %s", collection.ErrCorpusNotFound, res.Name)
	}
	report.Corpus = latest.Name

	seed, existing, err := d.corpus.ReadIDs(ctx, res, *latest)
	if err != nil {
		return report, fmt.Errorf("failed to read identifiers from %s: %w", latest.Name, err)
	}
	if existing == 0 || seed.Len() == 0 {
		return report, collection.ErrNoRecords
	}
	report.FirstPassCount = existing
	report.FirstPassDone = true

	d.publish(ctx, log, res, collection.NewCollectionStartedEvent(report.RunID, res.Name, latest.Name, 1, true))

	second := d.collector.Scan(ctx, res, seed, collection.ScanOptions{
		StartPage: 1,
		OnPage:    d.persist(*latest, collection.PassSecond),
	})
	report.DeltaCount = second.Count()
	report.SecondPassDone = second.Terminated
	report.SecondPassLast = second.LastPage
	d.publish(ctx, log, res, collection.NewPassCompletedEvent(report.RunID, res.Name, collection.PassSecond, second))

	// The existing records are already counted as the baseline.
	d.finish(ctx, log, res, &report, 0)
	return report, nil
}

func (d *Driver) persist(ref collection.CorpusRef, pass collection.Pass) collection.PageHandler {
	return func(ctx context.Context, _ int, records []collection.Record) error {
		return d.corpus.Append(ctx, ref, pass, records)
	}
}

func (d *Driver) finish(ctx context.Context, log *logger.Logger, res collection.Resource, report *collection.Report, existing int) {
	d.metrics.SetCorpusRecords(res.Name, existing+report.Total())
	log.Info(ctx, "collection finished",
		"corpus", report.Corpus,
		"first_pass", report.FirstPassCount,
		"delta", report.DeltaCount,
		"total", report.Total(),
		"first_pass_terminated", report.FirstPassDone,
		"second_pass_terminated", report.SecondPassDone,
	)
}

func (d *Driver) publish(ctx context.Context, log *logger.Logger, res collection.Resource, evt events.DomainEvent) {
	err := d.publisher.PublishDomainEvent(context.WithoutCancel(ctx), evt, events.WithKey(res.Name))
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn(ctx, "failed to publish domain event", "event_type", string(evt.EventType()), "error", err)
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}
