// Package notify forwards scan lifecycle events to external systems: a
// Kafka topic and outbound webhooks.
package notify

import (
	"github.com/sydlexius/contentguard/internal/event"
)

// Forwarded lists the event types sinks receive.
func Forwarded() []event.Type {
	return []event.Type{event.InfringementDetected, event.ScanCompleted, event.ScanFailed}
}

// Sink receives events from the bus.
type Sink interface {
	HandleEvent(e event.Event)
}

// Attach subscribes sink to every forwarded event type on bus.
func Attach(bus *event.Bus, sink Sink) {
	bus.Subscribe(sink.HandleEvent, Forwarded()...)
}
