// Package kafka provides a Kafka-based implementation of the event bus used to
// announce collection progress to downstream consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/xphere-collector/internal/domain/events"
	"github.com/ahrav/xphere-collector/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/xphere-collector/internal/infra/eventbus/reliability"
	"github.com/ahrav/xphere-collector/pkg/common/logger"
	"github.com/ahrav/xphere-collector/pkg/metrics"
)

// Config contains settings for connecting to and publishing on Kafka brokers.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string
	// Topic receives every collection event.
	Topic string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

// Message is the JSON document written as the Kafka message value.
type Message struct {
	Type       events.EventType  `json:"type"`
	Key        string            `json:"key,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Headers    map[string]string `json:"headers,omitempty"`
	Payload    json.RawMessage   `json:"payload"`
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements events.EventBus on top of a synchronous Kafka producer.
type EventBus struct {
	producer sarama.SyncProducer
	topic    string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics metrics.EventBusMetrics
}

// NewEventBus wraps an existing producer.
func NewEventBus(
	producer sarama.SyncProducer,
	topic string,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics metrics.EventBusMetrics,
) *EventBus {
	return &EventBus{
		producer: producer,
		topic:    topic,
		logger:   logger.With("component", "kafka_event_bus", "topic", topic),
		tracer:   tracer,
		metrics:  metrics,
	}
}

// ProducerConfig returns the sarama configuration used for collection events.
func ProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Retry.Max = 5
	cfg.Version = sarama.V2_8_0_0
	return cfg
}

// NewEventBusFromConfig connects a producer to cfg.Brokers.
func NewEventBusFromConfig(
	cfg *Config,
	logger *logger.Logger,
	metrics metrics.EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka event bus requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka event bus requires a topic")
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, ProducerConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewEventBus(producer, cfg.Topic, logger.With("client_id", cfg.ClientID), tracer, metrics), nil
}

// Publish serializes event as a Message and sends it keyed by the event key,
// so events of one resource stay ordered within a partition.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	ctx, span := tracing.StartProducerSpan(ctx, b.topic, b.tracer)
	defer span.End()

	params := events.ApplyOptions(opts...)
	if params.Key != "" {
		event.Key = params.Key
	}
	if len(params.Headers) > 0 {
		event.Headers = params.Headers
	}
	critical := reliability.IsCriticalEvent(event.Type)
	span.SetAttributes(
		attribute.String("event.type", string(event.Type)),
		attribute.String("event.key", event.Key),
		attribute.Bool("event.critical", critical),
	)

	value, err := Encode(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode event")
		b.metrics.IncPublishError(ctx, b.topic)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Value: sarama.ByteEncoder(value),
	}
	if event.Key != "" {
		msg.Key = sarama.StringEncoder(event.Key)
	}
	for k, v := range event.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := b.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message")
		b.metrics.IncPublishError(ctx, b.topic)
		if critical {
			b.logger.Error(ctx, "Failed to deliver critical event",
				"event_type", string(event.Type),
				"key", event.Key,
				"error", err,
			)
		}
		return fmt.Errorf("failed to send message to kafka topic %s: %w", b.topic, err)
	}
	b.metrics.IncMessagePublished(ctx, b.topic)

	b.logger.Debug(ctx, "Published message to Kafka",
		"event_type", string(event.Type),
		"partition", partition,
		"offset", offset,
		"key", event.Key,
	)

	return nil
}

// Encode renders an envelope as the Message JSON document.
func Encode(event events.EventEnvelope) ([]byte, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{
		Type:       event.Type,
		Key:        event.Key,
		OccurredAt: event.Timestamp.UTC(),
		Headers:    event.Headers,
		Payload:    payload,
	})
}

// Decode parses a Message JSON document.
func Decode(value []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(value, &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode kafka message: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("kafka message has no event type")
	}
	return m, nil
}

// Close gracefully shuts down the producer.
func (b *EventBus) Close() error {
	ctx, span := b.tracer.Start(context.Background(), "kafka_event_bus.close")
	defer span.End()

	if err := b.producer.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close producer")
		b.logger.Error(ctx, "Failed to close producer", "error", err)
		return err
	}

	span.SetStatus(codes.Ok, "closed event bus")
	b.logger.Info(ctx, "Closed event bus")
	return nil
}
