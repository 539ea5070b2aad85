package collection

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/xphere-collector/internal/domain/events"
)

const (
	EventTypeCollectionStarted   events.EventType = "CollectionStarted"
	EventTypePassCompleted       events.EventType = "PassCompleted"
	EventTypeCollectionCompleted events.EventType = "CollectionCompleted"
	EventTypeCollectionAborted   events.EventType = "CollectionAborted"
)

// --------------------------
// 1. CollectionStartedEvent
// --------------------------

// CollectionStartedEvent signals that a collection run over a resource began.
type CollectionStartedEvent struct {
	occurredAt time.Time
	RunID      uuid.UUID `json:"run_id"`
	Resource   string    `json:"resource"`
	Corpus     string    `json:"corpus"`
	StartPage  int       `json:"start_page"`
	Appending  bool      `json:"appending"`
}

// NewCollectionStartedEvent constructs a CollectionStartedEvent.
func NewCollectionStartedEvent(runID uuid.UUID, resource, corpus string, startPage int, appending bool) CollectionStartedEvent {
	return CollectionStartedEvent{
		occurredAt: time.Now(),
		RunID:      runID,
		Resource:   resource,
		Corpus:     corpus,
		StartPage:  startPage,
		Appending:  appending,
	}
}

// EventType satisfies the events.DomainEvent interface.
func (e CollectionStartedEvent) EventType() events.EventType { return EventTypeCollectionStarted }

// OccurredAt satisfies the events.DomainEvent interface.
func (e CollectionStartedEvent) OccurredAt() time.Time { return e.occurredAt }

// --------------------------
// 2. PassCompletedEvent
// --------------------------

// PassCompletedEvent reports the outcome of one pass.
type PassCompletedEvent struct {
	occurredAt time.Time
	RunID      uuid.UUID `json:"run_id"`
	Resource   string    `json:"resource"`
	Pass       Pass      `json:"pass"`
	Records    int       `json:"records"`
	Terminated bool      `json:"terminated"`
	LastPage   int       `json:"last_page"`
}

// NewPassCompletedEvent constructs a PassCompletedEvent from a scan result.
func NewPassCompletedEvent(runID uuid.UUID, resource string, pass Pass, res ScanResult) PassCompletedEvent {
	return PassCompletedEvent{
		occurredAt: time.Now(),
		RunID:      runID,
		Resource:   resource,
		Pass:       pass,
		Records:    res.Count(),
		Terminated: res.Terminated,
		LastPage:   res.LastPage,
	}
}

// EventType satisfies the events.DomainEvent interface.
func (e PassCompletedEvent) EventType() events.EventType { return EventTypePassCompleted }

// OccurredAt satisfies the events.DomainEvent interface.
func (e PassCompletedEvent) OccurredAt() time.Time { return e.occurredAt }

// --------------------------
// 3. CollectionCompletedEvent
// --------------------------

// CollectionCompletedEvent carries the final report of a run.
type CollectionCompletedEvent struct {
	occurredAt time.Time
	RunID      uuid.UUID `json:"run_id"`
	Report     Report    `json:"report"`
}

// NewCollectionCompletedEvent constructs a CollectionCompletedEvent.
func NewCollectionCompletedEvent(runID uuid.UUID, report Report) CollectionCompletedEvent {
	return CollectionCompletedEvent{occurredAt: time.Now(), RunID: runID, Report: report}
}

// EventType satisfies the events.DomainEvent interface.
func (e CollectionCompletedEvent) EventType() events.EventType { return EventTypeCollectionCompleted }

// OccurredAt satisfies the events.DomainEvent interface.
func (e CollectionCompletedEvent) OccurredAt() time.Time { return e.occurredAt }

// --------------------------
// 4. CollectionAbortedEvent
// --------------------------

// CollectionAbortedEvent signals that a run stopped without a report.
type CollectionAbortedEvent struct {
	occurredAt time.Time
	RunID      uuid.UUID `json:"run_id"`
	Resource   string    `json:"resource"`
	Reason     string    `json:"reason"`
}

// NewCollectionAbortedEvent constructs a CollectionAbortedEvent.
func NewCollectionAbortedEvent(runID uuid.UUID, resource string, reason error) CollectionAbortedEvent {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	return CollectionAbortedEvent{occurredAt: time.Now(), RunID: runID, Resource: resource, Reason: msg}
}

// EventType satisfies the events.DomainEvent interface.
func (e CollectionAbortedEvent) EventType() events.EventType { return EventTypeCollectionAborted }

// OccurredAt satisfies the events.DomainEvent interface.
func (e CollectionAbortedEvent) OccurredAt() time.Time { return e.occurredAt }
