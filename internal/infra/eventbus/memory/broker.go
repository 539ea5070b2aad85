// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent broker suitable for testing and
// for single-process runs where events only need to reach local handlers.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/xphere-collector/internal/domain/events"
)

// ErrClosed is returned when publishing on a closed broker.
var ErrClosed = errors.New("event broker closed")

// Handler processes one event envelope.
type Handler func(context.Context, events.EventEnvelope) error

type subscription struct {
	id      uint64
	handler Handler
}

var _ events.EventBus = (*Broker)(nil)

// Broker delivers published envelopes synchronously to every subscribed
// handler, in subscription order.
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	closed bool
}

// NewBroker creates and initializes a new in-memory event broker.
func NewBroker() *Broker { return &Broker{} }

// Subscribe registers a handler until ctx is done.
func (b *Broker) Subscribe(ctx context.Context, handler Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: handler})
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()

	return nil
}

func (b *Broker) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish broadcasts an envelope to all subscribed handlers, stopping at the
// first error. The handlers are copied before iteration so a handler may
// subscribe without deadlocking.
func (b *Broker) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := events.ApplyOptions(opts...)
	if params.Key != "" {
		event.Key = params.Key
	}
	if len(params.Headers) > 0 {
		event.Headers = params.Headers
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Close drops every subscription. Later publishes fail with ErrClosed.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}
