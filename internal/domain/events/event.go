package events

import "time"

// DomainEvent is implemented by every strongly typed event the collector emits.
// The concrete type travels as the envelope payload.
type DomainEvent interface {
	EventType() EventType
	OccurredAt() time.Time
}

// EventEnvelope encapsulates all event data flowing to the event bus, providing
// a standardized format for event distribution.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically the resource name so all
	// events of one collection land on the same partition in order.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on
	// the EventType.
	Payload any
}
