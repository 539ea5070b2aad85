package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/xphere-collector/internal/domain/events"
	"github.com/ahrav/xphere-collector/pkg/common/logger"
	"github.com/ahrav/xphere-collector/pkg/metrics"
)

type testPayload struct {
	Resource string `json:"resource"`
	Count    int    `json:"count"`
}

func newTestBus(t *testing.T) (*mocks.SyncProducer, *EventBus, *metrics.Metrics) {
	t.Helper()
	producer := mocks.NewSyncProducer(t, ProducerConfig("test"))
	m := metrics.New("test")
	bus := NewEventBus(producer, "collection-events", logger.Noop(), noop.NewTracerProvider().Tracer("test"), m)
	return producer, bus, m
}

func TestEventBus_Publish(t *testing.T) {
	producer, bus, m := newTestBus(t)
	occurred := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "collection-events" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "transactions" {
			return errors.New("unexpected key " + string(key))
		}

		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		decoded, err := Decode(value)
		if err != nil {
			return err
		}
		assert.Equal(t, events.EventType("PassCompleted"), decoded.Type)
		assert.Equal(t, "transactions", decoded.Key)
		assert.True(t, occurred.Equal(decoded.OccurredAt))
		assert.Equal(t, "v", decoded.Headers["h"])
		assert.JSONEq(t, `{"resource":"transactions","count":4}`, string(decoded.Payload))
		return nil
	})

	err := bus.Publish(context.Background(), events.EventEnvelope{
		Type:      "PassCompleted",
		Timestamp: occurred,
		Payload:   testPayload{Resource: "transactions", Count: 4},
	}, events.WithKey("transactions"), events.WithHeaders(map[string]string{"h": "v"}))
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesPublished.WithLabelValues("collection-events")))
	require.NoError(t, bus.Close())
}

func TestEventBus_PublishFailure(t *testing.T) {
	producer, bus, m := newTestBus(t)
	producer.ExpectSendMessageAndFail(sarama.ErrLeaderNotAvailable)

	err := bus.Publish(context.Background(), events.EventEnvelope{Type: "CollectionAborted", Payload: testPayload{}})
	assert.ErrorIs(t, err, sarama.ErrLeaderNotAvailable)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PublishErrors.WithLabelValues("collection-events")))
	require.NoError(t, bus.Close())
}

func TestEventBus_PublishUnencodablePayload(t *testing.T) {
	producer, bus, m := newTestBus(t)

	err := bus.Publish(context.Background(), events.EventEnvelope{Type: "Bad", Payload: make(chan int)})
	assert.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PublishErrors.WithLabelValues("collection-events")))
	require.NoError(t, producer.Close())
}

func TestEventBus_DomainEventsRoundTrip(t *testing.T) {
	producer, bus, _ := newTestBus(t)

	var got Message
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var err error
		got, err = Decode(val)
		return err
	})

	pub := NewDomainEventPublisher(bus)
	evt := &MockDomainEvent{eventType: "CollectionStarted", occurredAt: time.Now()}
	require.NoError(t, pub.PublishDomainEvent(context.Background(), evt, events.WithKey("tokens")))

	assert.Equal(t, events.EventType("CollectionStarted"), got.Type)
	assert.Equal(t, "tokens", got.Key)
	require.NoError(t, bus.Close())
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{name: "valid", value: `{"type":"CollectionCompleted","occurred_at":"2024-05-01T00:00:00Z","payload":{}}`},
		{name: "missing type", value: `{"payload":{}}`, wantErr: true},
		{name: "not json", value: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.value))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, events.EventType("CollectionCompleted"), m.Type)
			assert.True(t, json.Valid(m.Payload))
		})
	}
}

func TestNewEventBusFromConfig_Validation(t *testing.T) {
	_, err := NewEventBusFromConfig(&Config{Topic: "t"}, logger.Noop(), metrics.Noop{}, noop.NewTracerProvider().Tracer("test"))
	assert.Error(t, err)

	_, err = NewEventBusFromConfig(&Config{Brokers: []string{"localhost:9092"}}, logger.Noop(), metrics.Noop{}, noop.NewTracerProvider().Tracer("test"))
	assert.Error(t, err)
}
