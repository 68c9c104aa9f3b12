// Package events is the in-process event bus the rating engine uses to
// announce rating and rule changes to other components.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is implemented by every published event.
type Event interface {
	EventName() string
	// EventID identifies one publication; handlers use it for dedupe and logs.
	EventID() uuid.UUID
	OccurredAt() time.Time
}

// BaseEvent carries the id and timestamp shared by all events. Embed it and
// build it with NewBaseEvent.
type BaseEvent struct {
	ID        uuid.UUID `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) EventID() uuid.UUID    { return e.ID }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// NewBaseEvent stamps a time-ordered id and the current UTC time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{ID: uuid.Must(uuid.NewV7()), Timestamp: time.Now().UTC()}
}

type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus publishes events to handlers subscribed by event name.
type Bus interface {
	// Publish runs handlers asynchronously; failures are logged, not returned.
	Publish(ctx context.Context, event Event)
	// PublishSync runs handlers in order and returns their joined errors.
	PublishSync(ctx context.Context, event Event) error
	Subscribe(eventName string, handler Handler)
}
