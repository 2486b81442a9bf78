// Package events is the in-process publish/subscribe channel between mutation
// services and the websocket layer. Mutation services publish domain events
// without knowing about connections; the chat handler subscribes at startup
// and turns them into broadcast frames.
package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"pantry/internal/metrics"
)

// Event names.
const (
	InventoryUpdated = "inventory:updated"
	ListUpdated      = "list:updated"
)

// Handler receives the data passed to Publish.
type Handler func(ctx context.Context, data any) error

type subscription struct {
	id int64
	h  Handler
}

// Bus dispatches published events to subscribers synchronously, in
// registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   int64
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// NewBus creates an empty bus. m may be nil.
func NewBus(log *zap.Logger, m *metrics.Metrics) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		log:      log.Named("events"),
		metrics:  m,
	}
}

// Subscribe registers h for name and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(name string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], subscription{id: id, h: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.handlers[name]
		for i, s := range subs {
			if s.id == id {
				b.handlers[name] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.handlers[name]) == 0 {
			delete(b.handlers, name)
		}
	}
}

// Publish invokes every handler registered for name. A failing handler is
// logged and skipped; it never stops the rest or reaches the caller.
func (b *Bus) Publish(ctx context.Context, name string, data any) {
	b.mu.RLock()
	subs := make([]subscription, len(b.handlers[name]))
	copy(subs, b.handlers[name])
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.invoke(ctx, s.h, data); err != nil {
			b.log.Error("event handler failed", zap.String("event", name), zap.Error(err))
			if b.metrics != nil {
				b.metrics.HandlerFailures.WithLabelValues(name).Inc()
			}
		}
	}
}

func (b *Bus) invoke(ctx context.Context, h Handler, data any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, data)
}
