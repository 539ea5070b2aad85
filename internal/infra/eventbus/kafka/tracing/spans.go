// Package tracing carries OpenTelemetry span context across Kafka messages.
package tracing

import (
	"context"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// StartProducerSpan creates a new span for producing messages
func StartProducerSpan(ctx context.Context, topic string, tracer trace.Tracer) (context.Context, trace.Span) {
	return tracer.Start(ctx, "kafka.produce",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(topic),
			semconv.MessagingOperationPublish,
		),
	)
}

// ProducerHeaderCarrier adapts producer message headers to a propagation.TextMapCarrier.
type ProducerHeaderCarrier struct{ msg *sarama.ProducerMessage }

var _ propagation.TextMapCarrier = ProducerHeaderCarrier{}

// NewProducerHeaderCarrier wraps msg.
func NewProducerHeaderCarrier(msg *sarama.ProducerMessage) ProducerHeaderCarrier {
	return ProducerHeaderCarrier{msg: msg}
}

func (c ProducerHeaderCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c ProducerHeaderCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if string(h.Key) == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c ProducerHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.msg.Headers))
	for _, h := range c.msg.Headers {
		keys = append(keys, string(h.Key))
	}
	return keys
}

// InjectTraceContext writes the span context of ctx into the message headers.
func InjectTraceContext(ctx context.Context, msg *sarama.ProducerMessage) {
	otel.GetTextMapPropagator().Inject(ctx, NewProducerHeaderCarrier(msg))
}
