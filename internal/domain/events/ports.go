// Package events provides domain event handling capabilities for communicating
// collection progress across process boundaries in a decoupled way.
package events

import (
	"context"
)

// DomainEventPublisher publishes domain events to notify other parts of the system about
// important domain changes. It provides a technology-agnostic interface to decouple event
// producers from the underlying messaging infrastructure.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers. The provided context
	// controls cancellation and deadlines. Optional PublishOptions configure routing behavior.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// EventBus abstracts the messaging infrastructure (Kafka, in-memory) that
// carries event envelopes.
type EventBus interface {
	// Publish broadcasts an event envelope. Optional PublishOptions configure delivery behavior.
	Publish(ctx context.Context, event EventEnvelope, opts ...PublishOption) error

	// Close gracefully shuts down the event bus and releases associated resources.
	Close() error
}

// NoopPublisher drops every event. It is the default when no broker is configured.
type NoopPublisher struct{}

// PublishDomainEvent implements DomainEventPublisher.
func (NoopPublisher) PublishDomainEvent(context.Context, DomainEvent, ...PublishOption) error {
	return nil
}
