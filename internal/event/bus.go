// Package event is an in-process publish/subscribe bus for scan lifecycle
// notifications.
package event

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies a category of event.
type Type string

// Known event types.
const (
	InfringementDetected Type = "infringement.detected"
	ScanCompleted        Type = "scan.completed"
	ScanFailed           Type = "scan.failed"
	CacheSwept           Type = "cache.swept"
)

// Event represents something that happened in the system. Payload holds one
// of the typed payload structs below, matching Type.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ContentID string    `json:"content_id,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// Detection is the payload of InfringementDetected.
type Detection struct {
	InfringementID string `json:"infringement_id"`
	SourceType     string `json:"source_type"`
	SourceURL      string `json:"source_url"`
	SourceDomain   string `json:"source_domain"`
	Confidence     int    `json:"confidence"`
}

// ScanSummary is the payload of ScanCompleted.
type ScanSummary struct {
	ResultsCount     int   `json:"results_count"`
	NewInfringements int   `json:"new_infringements"`
	DurationMS       int64 `json:"duration_ms"`
}

// ScanFailure is the payload of ScanFailed.
type ScanFailure struct {
	Error string `json:"error"`
}

// SweepSummary is the payload of CacheSwept.
type SweepSummary struct {
	Deleted   int64 `json:"deleted"`
	Remaining int64 `json:"remaining"`
}

// Handler is a function that processes an event.
type Handler func(Event)

// Publisher is the publishing half of the bus.
type Publisher interface {
	Publish(e Event)
}

// Bus is an in-process event bus backed by a buffered channel.
type Bus struct {
	ch      chan Event
	mu      sync.RWMutex
	subs    map[Type][]Handler
	logger  *slog.Logger
	done    chan struct{}
	stopped bool
}

// NewBus creates a new event bus with the given buffer size.
func NewBus(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{
		ch:     make(chan Event, bufSize),
		subs:   make(map[Type][]Handler),
		logger: logger.With(slog.String("component", "event-bus")),
		done:   make(chan struct{}),
	}
}

// Subscribe registers a handler for each of the given event types.
func (b *Bus) Subscribe(h Handler, types ...Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subs[t] = append(b.subs[t], h)
	}
}

// Publish sends an event to the bus. Non-blocking; drops with a warning if the buffer is full.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case b.ch <- e:
	default:
		b.logger.Warn("event bus full, dropping event",
			slog.String("type", string(e.Type)),
			slog.String("content_id", e.ContentID))
	}
}

// Start begins draining the channel and dispatching events to subscribers.
// Call this in a goroutine. It blocks until Stop is called.
func (b *Bus) Start() {
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		case <-b.done:
			for {
				select {
				case e := <-b.ch:
					b.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

// Stop signals the bus to stop processing events after draining the buffer.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.stopped {
		b.stopped = true
		close(b.done)
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	handlers := b.subs[e.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", slog.String("type", string(e.Type)), slog.Any("panic", r))
				}
			}()
			h(e)
		}()
	}
}
