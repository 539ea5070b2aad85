// Package collection implements the two-pass paginated collection of
// explorer resources: the Collector walks one resource page by page, and
// the Driver runs the first and second pass and persists what they find.
package collection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
	"github.com/ahrav/xphere-collector/pkg/common"
	"github.com/ahrav/xphere-collector/pkg/common/logger"
	"github.com/ahrav/xphere-collector/pkg/metrics"
)

// Scan outcome labels.
const (
	outcomeTerminated   = "terminated"
	outcomeExhausted    = "exhausted"
	outcomeMalformed    = "malformed"
	outcomeCanceled     = "canceled"
	outcomeHandlerError = "handler_error"
)

// RetryPolicy bounds the retries of a transiently failing page.
type RetryPolicy struct {
	// MaxAttempts is the total number of fetch attempts per page.
	MaxAttempts int
	// Backoff is the fixed wait between attempts.
	Backoff time.Duration
}

// DefaultRetryPolicy returns 30 attempts spaced a minute apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 30, Backoff: 60 * time.Second}
}

// attempts returns MaxAttempts, at least one.
func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.attempts()
	// WithMaxRetries treats zero as unlimited.
	if attempts == 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Backoff), uint64(attempts-1))
	return backoff.WithContext(b, ctx)
}

// Collector performs a paginated scan of one resource.
type Collector struct {
	fetcher     collection.PageFetcher
	checkpoints collection.CheckpointRepository
	retry       RetryPolicy

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics metrics.CollectorMetrics
}

// NewCollector creates a Collector. checkpoints may be nil when scans never
// checkpoint.
func NewCollector(
	fetcher collection.PageFetcher,
	checkpoints collection.CheckpointRepository,
	retry RetryPolicy,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics metrics.CollectorMetrics,
) *Collector {
	return &Collector{
		fetcher:     fetcher,
		checkpoints: checkpoints,
		retry:       retry,
		logger:      logger,
		tracer:      tracer,
		metrics:     metrics,
	}
}

// Scan walks res from opts.StartPage until an empty page.
//
// With an empty seed every row is collected, duplicates included. With a
// non-empty seed, rows whose identifier is already in the seed are skipped
// and every accepted identifier is added to the seed as soon as it is seen,
// so the seed is mutated. Rows without an identifier are always collected.
//
// Transient failures are retried in place according to the retry policy.
// Exhausted retries, malformed responses, cancellation and handler errors
// end the scan with Terminated false and the stuck page in LastPage; when
// opts.Checkpoint is set that page is also saved as the resource's
// checkpoint. A scan reaching the end of data removes the checkpoint.
func (c *Collector) Scan(
	ctx context.Context,
	res collection.Resource,
	seed collection.IDSet,
	opts collection.ScanOptions,
) collection.ScanResult {
	pass := collection.PassFirst
	if seed.Len() > 0 {
		pass = collection.PassSecond
	}

	page := opts.StartPage
	if page < 1 {
		page = 1
	}

	ctx, span := c.tracer.Start(ctx, "collector.scan",
		trace.WithAttributes(
			attribute.String("resource", res.Name),
			attribute.String("pass", pass.String()),
			attribute.Int("start_page", page),
			attribute.Int("seed_size", seed.Len()),
		))
	defer span.End()

	logCtx := logger.NewLoggerContext(c.logger.With(
		"resource", res.Name,
		"pass", pass.String(),
	))
	logCtx.Info(ctx, "scan started", "start_page", page, "seed_size", seed.Len())

	limiter := common.NewIntervalLimiter(res.PageDelay)

	var result collection.ScanResult
	for {
		rows, err := c.fetchWithRetry(ctx, res, page, opts.Checkpoint, logCtx)
		if err != nil {
			return c.abort(ctx, span, logCtx, res, pass, page, opts.Checkpoint, result, err)
		}

		if len(rows) == 0 {
			result.Terminated = true
			result.LastPage = page
			c.complete(ctx, logCtx, res, opts.Checkpoint)

			c.metrics.IncScanOutcome(res.Name, pass.String(), outcomeTerminated)
			span.SetAttributes(
				attribute.Int("records", result.Count()),
				attribute.Int("last_page", page),
				attribute.Bool("terminated", true),
			)
			logCtx.Info(ctx, "scan reached end of data", "last_page", page, "records", result.Count())
			return result
		}

		accepted := c.accept(res, pass, seed, rows)
		skipped := len(rows) - len(accepted)
		c.metrics.AddRecordsAccepted(res.Name, pass.String(), len(accepted))
		if skipped > 0 {
			c.metrics.AddRecordsSkipped(res.Name, skipped)
		}

		if opts.OnPage != nil && len(accepted) > 0 {
			if err := opts.OnPage(ctx, page, accepted); err != nil {
				err = fmt.Errorf("page handler failed on page %d: %w", page, err)
				return c.abort(ctx, span, logCtx, res, pass, page, opts.Checkpoint, result, err)
			}
		}
		result.Records = append(result.Records, accepted...)

		logCtx.Debug(ctx, "page collected",
			"page", page,
			"rows", len(rows),
			"accepted", len(accepted),
			"skipped", skipped,
			"total", result.Count(),
		)

		page++

		if err := limiter.Wait(ctx); err != nil {
			return c.abort(ctx, span, logCtx, res, pass, page, opts.Checkpoint, result, err)
		}
	}
}

// accept filters a page's rows. The first pass keeps everything.
func (c *Collector) accept(
	res collection.Resource,
	pass collection.Pass,
	seed collection.IDSet,
	rows []collection.Record,
) []collection.Record {
	if pass == collection.PassFirst {
		return rows
	}

	accepted := make([]collection.Record, 0, len(rows))
	for _, rec := range rows {
		id, ok := res.IdentifierOf(rec)
		if !ok {
			accepted = append(accepted, rec)
			continue
		}
		if seed.Add(id) {
			accepted = append(accepted, rec)
		}
	}
	return accepted
}

// fetchWithRetry fetches one page, retrying transient failures with a fixed
// backoff. The stuck page is checkpointed before every retry wait.
func (c *Collector) fetchWithRetry(
	ctx context.Context,
	res collection.Resource,
	page int,
	checkpoint bool,
	logCtx *logger.LoggerContext,
) ([]collection.Record, error) {
	ctx, span := c.tracer.Start(ctx, "collector.fetch_page",
		trace.WithAttributes(
			attribute.String("resource", res.Name),
			attribute.Int("page", page),
		))
	defer span.End()

	var (
		rows     []collection.Record
		attempts int
	)
	operation := func() error {
		attempts++
		start := time.Now()
		var err error
		rows, err = c.fetcher.FetchPage(ctx, res, page)
		c.metrics.ObservePageFetch(res.Name, time.Since(start))
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !collection.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		c.metrics.IncFetchRetries(res.Name)
		span.AddEvent("retrying", trace.WithAttributes(
			attribute.Int("attempt", attempts),
			attribute.String("error", err.Error()),
		))
		logCtx.Warn(ctx, "page fetch failed, retrying",
			"page", page,
			"attempt", attempts,
			"max_attempts", c.retry.attempts(),
			"retry_in", next.String(),
			"error", err,
		)
		if checkpoint {
			c.saveCheckpoint(ctx, logCtx, res, page)
		}
	}

	err := backoff.RetryNotify(operation, c.retry.backOff(ctx), notify)
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = fmt.Errorf("scan interrupted on page %d: %w", page, ctx.Err())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			err = fmt.Errorf("scan interrupted on page %d: %w", page, err)
		case collection.IsTransient(err) && attempts < c.retry.attempts():
			// The context deadline falls before the next retry.
			err = fmt.Errorf("scan interrupted on page %d after %d attempts: %w: %w",
				page, attempts, context.DeadlineExceeded, err)
		case collection.IsTransient(err):
			err = fmt.Errorf("%w after %d attempts: %w", collection.ErrRetriesExhausted, attempts, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "page fetch failed")
		return nil, err
	}

	c.metrics.IncPagesFetched(res.Name)
	span.SetAttributes(attribute.Int("rows", len(rows)))
	return rows, nil
}

func (c *Collector) abort(
	ctx context.Context,
	span trace.Span,
	logCtx *logger.LoggerContext,
	res collection.Resource,
	pass collection.Pass,
	page int,
	checkpoint bool,
	result collection.ScanResult,
	err error,
) collection.ScanResult {
	result.Terminated = false
	result.LastPage = page
	result.Err = err

	if checkpoint {
		c.saveCheckpoint(ctx, logCtx, res, page)
	}

	outcome := outcomeMalformed
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = outcomeCanceled
	case errors.Is(err, collection.ErrRetriesExhausted):
		outcome = outcomeExhausted
	case !errors.Is(err, collection.ErrMalformedResponse):
		outcome = outcomeHandlerError
	}
	c.metrics.IncScanOutcome(res.Name, pass.String(), outcome)

	span.RecordError(err)
	span.SetStatus(codes.Error, "scan ended unsuccessfully")
	span.SetAttributes(
		attribute.Int("records", result.Count()),
		attribute.Int("last_page", page),
		attribute.Bool("terminated", false),
		attribute.String("outcome", outcome),
	)
	logCtx.Error(ctx, "scan ended unsuccessfully",
		"stuck_page", page,
		"records", result.Count(),
		"outcome", outcome,
		"error", err,
	)
	return result
}

// saveCheckpoint persists the stuck page. Checkpoint failures are logged
// but never change the scan outcome. It uses a context detached from
// cancellation so an interrupted scan still records where it stopped.
func (c *Collector) saveCheckpoint(ctx context.Context, logCtx *logger.LoggerContext, res collection.Resource, page int) {
	if c.checkpoints == nil {
		return
	}
	if err := c.checkpoints.Save(context.WithoutCancel(ctx), collection.NewCheckpoint(res.Name, page)); err != nil {
		logCtx.Error(ctx, "failed to save checkpoint", "page", page, "error", err)
	}
}

func (c *Collector) complete(ctx context.Context, logCtx *logger.LoggerContext, res collection.Resource, checkpoint bool) {
	if !checkpoint || c.checkpoints == nil {
		return
	}
	if err := c.checkpoints.Delete(ctx, res.Name); err != nil {
		logCtx.Error(ctx, "failed to delete checkpoint", "error", err)
	}
}
