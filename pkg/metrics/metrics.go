package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CollectorMetrics defines metrics operations needed by the page collector.
type CollectorMetrics interface {
	// Page metrics.
	IncPagesFetched(resource string)
	IncFetchRetries(resource string)
	ObservePageFetch(resource string, d time.Duration)

	// Record metrics.
	AddRecordsAccepted(resource, pass string, n int)
	AddRecordsSkipped(resource string, n int)

	// Scan outcome: "terminated", "exhausted", "malformed", "canceled", "handler_error".
	IncScanOutcome(resource, pass, outcome string)
}

// DriverMetrics defines metrics operations needed by the reconciliation driver.
type DriverMetrics interface {
	TrackCollection(resource string, f func() error) error
	SetCorpusRecords(resource string, n int)
}

// EventBusMetrics defines metrics operations needed by event bus publishers.
type EventBusMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
}

// Metrics implements CollectorMetrics, DriverMetrics and EventBusMetrics.
type Metrics struct {
	registry *prometheus.Registry

	// Collector metrics.
	PagesFetched    *prometheus.CounterVec
	FetchRetries    *prometheus.CounterVec
	PageFetchTime   *prometheus.HistogramVec
	RecordsAccepted *prometheus.CounterVec
	RecordsSkipped  *prometheus.CounterVec
	ScanOutcomes    *prometheus.CounterVec

	// Driver metrics.
	ActiveCollections *prometheus.GaugeVec
	CollectionTime    *prometheus.HistogramVec
	CorpusRecords     *prometheus.GaugeVec

	// Event bus metrics.
	MessagesPublished *prometheus.CounterVec
	PublishErrors     *prometheus.CounterVec
}

// Ensure Metrics implements both interfaces.
var _ CollectorMetrics = (*Metrics)(nil)
var _ DriverMetrics = (*Metrics)(nil)
var _ EventBusMetrics = (*Metrics)(nil)

// Interface implementation methods.
func (m *Metrics) IncPagesFetched(resource string) { m.PagesFetched.WithLabelValues(resource).Inc() }
func (m *Metrics) IncFetchRetries(resource string) { m.FetchRetries.WithLabelValues(resource).Inc() }

func (m *Metrics) ObservePageFetch(resource string, d time.Duration) {
	m.PageFetchTime.WithLabelValues(resource).Observe(d.Seconds())
}

func (m *Metrics) AddRecordsAccepted(resource, pass string, n int) {
	m.RecordsAccepted.WithLabelValues(resource, pass).Add(float64(n))
}

func (m *Metrics) AddRecordsSkipped(resource string, n int) {
	m.RecordsSkipped.WithLabelValues(resource).Add(float64(n))
}

func (m *Metrics) IncScanOutcome(resource, pass, outcome string) {
	m.ScanOutcomes.WithLabelValues(resource, pass, outcome).Inc()
}

func (m *Metrics) SetCorpusRecords(resource string, n int) {
	m.CorpusRecords.WithLabelValues(resource).Set(float64(n))
}

func (m *Metrics) IncMessagePublished(_ context.Context, topic string) {
	m.MessagesPublished.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncPublishError(_ context.Context, topic string) {
	m.PublishErrors.WithLabelValues(topic).Inc()
}

// TrackCollection tracks the duration of a function and updates the metrics.
func (m *Metrics) TrackCollection(resource string, f func() error) error {
	m.ActiveCollections.WithLabelValues(resource).Inc()
	defer m.ActiveCollections.WithLabelValues(resource).Dec()

	start := time.Now()
	err := f()
	m.CollectionTime.WithLabelValues(resource).Observe(time.Since(start).Seconds())
	return err
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// New creates a new Metrics instance registered on its own registry, so
// several instances (one per test) never collide.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Collector metrics.
		PagesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Total number of pages fetched successfully",
		}, []string{"resource"}),
		FetchRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Total number of transient page fetch failures that were retried",
		}, []string{"resource"}),
		PageFetchTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_fetch_duration_seconds",
			Help:      "Time taken to fetch one page",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"resource"}),
		RecordsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_accepted_total",
			Help:      "Total number of records accepted per pass",
		}, []string{"resource", "pass"}),
		RecordsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Total number of second-pass records skipped as already known",
		}, []string{"resource"}),
		ScanOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_outcomes_total",
			Help:      "Scans by the way they ended",
		}, []string{"resource", "pass", "outcome"}),

		// Driver metrics.
		ActiveCollections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_collections",
			Help:      "Indicates if a collection run is in progress",
		}, []string{"resource"}),
		CollectionTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_duration_seconds",
			Help:      "Time taken by a full two-pass collection",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"resource"}),
		CorpusRecords: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "corpus_records",
			Help:      "Records persisted by the latest run",
		}, []string{"resource"}),

		// Event bus metrics.
		MessagesPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of domain events published",
		}, []string{"topic"}),
		PublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Total number of domain events that failed to publish",
		}, []string{"topic"}),
	}
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RunServer serves the metrics endpoint on addr until ctx is canceled.
func (m *Metrics) RunServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Noop satisfies every metric interface without recording anything.
type Noop struct{}

var _ CollectorMetrics = Noop{}
var _ DriverMetrics = Noop{}
var _ EventBusMetrics = Noop{}

func (Noop) IncPagesFetched(string) {}
func (Noop) IncFetchRetries(string) {}
func (Noop) ObservePageFetch(string, time.Duration) {}
func (Noop) AddRecordsAccepted(string, string, int) {}
func (Noop) AddRecordsSkipped(string, int) {}
func (Noop) IncScanOutcome(string, string, string) {}
func (Noop) SetCorpusRecords(string, int) {}
func (Noop) TrackCollection(_ string, f func() error) error { return f() }
func (Noop) IncMessagePublished(context.Context, string) {}
func (Noop) IncPublishError(context.Context, string) {}
