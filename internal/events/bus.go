// Package events implements the scheduling core's pub/sub bus, the
// mechanism OptimizingJobController instances use to wake on iteration
// completion instead of polling the Scheduler.
package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/slamd-project/slamd/internal/interfaces"
)

type subscription struct {
	eventType interfaces.EventType
	handler   interfaces.EventHandler
}

// Bus implements interfaces.EventBus with an in-memory subscriber table.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string]subscription
	byType        map[interfaces.EventType][]string
	logger        arbor.ILogger
}

// NewBus creates an empty Bus.
func NewBus(logger arbor.ILogger) *Bus {
	return &Bus{
		subscriptions: make(map[string]subscription),
		byType:        make(map[interfaces.EventType][]string),
		logger:        logger,
	}
}

var _ interfaces.EventBus = (*Bus)(nil)

func (b *Bus) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) string {
	id := uuid.New().String()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions[id] = subscription{eventType: eventType, handler: handler}
	b.byType[eventType] = append(b.byType[eventType], id)

	b.logger.Debug().Str("event_type", string(eventType)).Str("subscription_id", id).Msg("event handler subscribed")
	return id
}

func (b *Bus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscriptions[subscriptionID]
	if !ok {
		return
	}
	delete(b.subscriptions, subscriptionID)

	ids := b.byType[sub.eventType]
	for i, id := range ids {
		if id == subscriptionID {
			b.byType[sub.eventType] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// Publish dispatches event to every subscriber of event.Type, each in
// its own goroutine so a slow or blocked handler never delays the
// publisher (the Scheduler's tick loop, most often).
func (b *Bus) Publish(ctx context.Context, event interfaces.Event) {
	b.mu.RLock()
	ids := b.byType[event.Type]
	handlers := make([]interfaces.EventHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subscriptions[id].handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		go handler(ctx, event)
	}
}
