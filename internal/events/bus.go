// Package events is the in-process event bus connecting the capture loop
// and the stream sessions to the API's SSE streams.
package events

import "github.com/kelindar/event"

// Bus wraps a kelindar/event dispatcher.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates an event bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish delivers ev to the subscribers of its concrete type. Unknown
// types are dropped.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case AcquisitionStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case SourceReopenedEvent:
		event.Publish(b.dispatcher, e)
	case SessionStartedEvent:
		event.Publish(b.dispatcher, e)
	case SessionStoppedEvent:
		event.Publish(b.dispatcher, e)
	case ConsumerAttachedEvent:
		event.Publish(b.dispatcher, e)
	case ConsumerDetachedEvent:
		event.Publish(b.dispatcher, e)
	case DeliveryErrorEvent:
		event.Publish(b.dispatcher, e)
	case DeviceHotplugEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler, whose parameter type selects the events it
// receives. The returned function unsubscribes. Handlers for unknown types
// are ignored.
//
//	unsub := bus.Subscribe(func(e events.SessionStartedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(AcquisitionStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SourceReopenedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionStoppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConsumerAttachedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConsumerDetachedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeliveryErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeviceHotplugEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
