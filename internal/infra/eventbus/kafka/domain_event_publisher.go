package kafka

import (
	"context"

	"github.com/ahrav/xphere-collector/internal/domain/events"
)

var _ events.DomainEventPublisher = (*DomainEventPublisher)(nil)

// DomainEventPublisher implements events.DomainEventPublisher on top of an
// event bus. It wraps each domain event in an envelope.
type DomainEventPublisher struct {
	eventBus events.EventBus
}

// NewDomainEventPublisher creates a new publisher that will distribute domain
// events through the provided event bus.
func NewDomainEventPublisher(bus events.EventBus) *DomainEventPublisher {
	return &DomainEventPublisher{eventBus: bus}
}

// PublishDomainEvent sends a domain event through the event bus, stamped with
// the time the event occurred.
func (pub *DomainEventPublisher) PublishDomainEvent(
	ctx context.Context,
	event events.DomainEvent,
	opts ...events.PublishOption,
) error {
	evt := events.EventEnvelope{
		Type:      event.EventType(),
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}
	return pub.eventBus.Publish(ctx, evt, opts...)
}
