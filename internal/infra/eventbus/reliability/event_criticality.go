// Package reliability classifies domain events by how much their loss
// matters to downstream consumers.
package reliability

import (
	"github.com/ahrav/xphere-collector/internal/domain/collection"
	"github.com/ahrav/xphere-collector/internal/domain/events"
)

// IsCriticalEvent reports whether losing an event of eventType leaves a
// consumer unable to learn how a run ended.
//
// Terminal run events are critical: nothing later in the run repeats what
// they carry. Progress events are not, since the terminal event summarizes them.
func IsCriticalEvent(eventType events.EventType) bool {
	switch eventType {
	case collection.EventTypeCollectionCompleted,
		collection.EventTypeCollectionAborted:
		return true

	case collection.EventTypeCollectionStarted,
		collection.EventTypePassCompleted:
		return false

	default:
		return false
	}
}
