package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(ClientConnectedEvent{...})
func (b *Bus) Publish(ev Event) {
	// Use type switch to call the generic Publish with the correct type
	switch e := ev.(type) {
	case ClientConnectedEvent:
		event.Publish(b.dispatcher, e)
	case ClientDisconnectedEvent:
		event.Publish(b.dispatcher, e)
	case ResizeStartedEvent:
		event.Publish(b.dispatcher, e)
	case ResizeCompletedEvent:
		event.Publish(b.dispatcher, e)
	case FrameSkippedEvent:
		event.Publish(b.dispatcher, e)
	case ScreenshotRequestedEvent:
		event.Publish(b.dispatcher, e)
	case ScreenshotCompletedEvent:
		event.Publish(b.dispatcher, e)
	case HIDWriteFailedEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	case SignalStateEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives (type inference)
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e ClientConnectedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	// This is a bit tricky - we need to extract the type from the handler
	// The kelindar/event library uses reflection to determine the event type
	// We'll use a type assertion approach

	// For each known event type, check if the handler matches
	switch h := handler.(type) {
	case func(ClientConnectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ClientDisconnectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ResizeStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ResizeCompletedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameSkippedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ScreenshotRequestedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ScreenshotCompletedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(HIDWriteFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}