package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/xphere-collector/pkg/common/logger"
	"github.com/ahrav/xphere-collector/pkg/metrics"
)

// ConnectWithRetry attempts to establish a connection to Kafka with exponential
// backoff, starting at 2 second intervals and giving up after maxElapsed.
// Startup tolerates a broker that is still coming up.
func ConnectWithRetry(
	ctx context.Context,
	cfg *Config,
	maxElapsed time.Duration,
	logger *logger.Logger,
	metrics metrics.EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	var bus *EventBus

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = maxElapsed
	expBackoff.InitialInterval = 2 * time.Second

	operation := func() error {
		var err error
		bus, err = NewEventBusFromConfig(cfg, logger, metrics, tracer)
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn(ctx, "Kafka not reachable, retrying", "error", err, "retry_in", next.String())
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(expBackoff, ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}

	return bus, nil
}
