// Package otel provides otel support.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/xphere-collector/pkg/common/logger"
)

// Config defines the information needed to init tracing.
type Config struct {
	ServiceName        string
	ExporterEndpoint   string
	Probability        float64
	ResourceAttributes map[string]string
	InsecureExporter   bool
}

// InitTelemetry configures open telemetry to be used with the collector.
// An empty ExporterEndpoint yields a no-op tracer provider and a cleanup
// function that does nothing, so the collector runs fine without a
// collector endpoint.
func InitTelemetry(log *logger.Logger, cfg Config) (trace.TracerProvider, func(ctx context.Context), error) {
	if cfg.ExporterEndpoint == "" {
		return noop.NewTracerProvider(), func(context.Context) {}, nil
	}

	res := NewResource(cfg.ServiceName, cfg.ResourceAttributes)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.ExporterEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.ExporterEndpoint)}
	if cfg.InsecureExporter {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Probability))),
		sdktrace.WithBatcher(traceExporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
			sdktrace.WithMaxQueueSize(2048),
		),
		sdktrace.WithResource(res),
	)

	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExporter)),
		metric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cleanup := func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			log.Error(ctx, "shutting down tracer provider", "error", err)
		}
		if err := mp.Shutdown(ctx); err != nil {
			log.Error(ctx, "shutting down meter provider", "error", err)
		}
	}

	return tp, cleanup, nil
}

// NewResource creates a new OpenTelemetry resource with service name and
// any extra attributes.
func NewResource(serviceName string, extra map[string]string) *resource.Resource {
	attrs := make([]attribute.KeyValue, 0, len(extra)+1)
	attrs = append(attrs, semconv.ServiceNameKey.String(serviceName))
	attrs = append(attrs, attributesFromMap(extra)...)
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// AddSpan creates a new span with the given name and attributes
func AddSpan(ctx context.Context, tracer trace.Tracer, spanName string, keyValues ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, spanName)
	for _, kv := range keyValues {
		span.SetAttributes(kv)
	}
	return ctx, span
}

func attributesFromMap(m map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
