package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"staybook/internal/models"
)

// Event is an outbox message as seen by in-process subscribers.
type Event struct {
	ID            int64
	Topic         string
	Type          string
	EntityID      int64
	Payload       []byte
	CorrelationID string
	CreatedAt     time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(ctx context.Context, event *Event) error

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type or Wildcard.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs every matching handler synchronously and joins their errors.
func (b *EventBus) Publish(ctx context.Context, event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[Wildcard]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", event.Type, err))
		}
	}
	return errors.Join(errs...)
}

// BusPublisher delivers drained outbox messages to an EventBus.
type BusPublisher struct {
	Bus *EventBus
}

func (p BusPublisher) Name() string { return "eventbus" }

func (p BusPublisher) Publish(ctx context.Context, msg models.OutboxMessage) error {
	if p.Bus == nil {
		return nil
	}
	return p.Bus.Publish(ctx, &Event{
		ID:            msg.ID,
		Topic:         msg.Topic,
		Type:          msg.EventType,
		EntityID:      msg.EntityID,
		Payload:       []byte(msg.Payload),
		CorrelationID: msg.CorrelationID,
		CreatedAt:     msg.CreatedAt,
	})
}

type correlationKey struct{}

// WithCorrelationID tags ctx so that outbox rows written under it share an id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID or "".
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}
