package event

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(testLogger(), 16)
	go bus.Start()
	defer bus.Stop()

	var mu sync.Mutex
	var received []Event

	bus.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	}, ScanCompleted)

	bus.Publish(Event{
		Type:      ScanCompleted,
		ContentID: "c1",
		Payload:   ScanSummary{ResultsCount: 7, NewInfringements: 2},
	})

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("got %d events, want 1", len(received))
	}
	summary, ok := received[0].Payload.(ScanSummary)
	if !ok {
		t.Fatalf("payload type = %T, want ScanSummary", received[0].Payload)
	}
	if summary.NewInfringements != 2 {
		t.Errorf("NewInfringements = %d, want 2", summary.NewInfringements)
	}
	if received[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestSubscribeMultipleTypes(t *testing.T) {
	bus := NewBus(testLogger(), 16)
	go bus.Start()
	defer bus.Stop()

	var mu sync.Mutex
	seen := map[Type]int{}

	bus.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen[e.Type]++
	}, ScanCompleted, ScanFailed)

	bus.Publish(Event{Type: ScanCompleted})
	bus.Publish(Event{Type: ScanFailed})
	bus.Publish(Event{Type: InfringementDetected})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if seen[ScanCompleted] != 1 || seen[ScanFailed] != 1 {
		t.Errorf("seen = %v, want one of each scan event", seen)
	}
	if seen[InfringementDetected] != 0 {
		t.Error("handler received an event type it did not subscribe to")
	}
}

func TestNoSubscribers(t *testing.T) {
	bus := NewBus(testLogger(), 16)
	go bus.Start()
	defer bus.Stop()

	bus.Publish(Event{Type: CacheSwept})
	time.Sleep(50 * time.Millisecond)
}

func TestBufferFull(t *testing.T) {
	bus := NewBus(testLogger(), 2)

	bus.Publish(Event{Type: ScanCompleted})
	bus.Publish(Event{Type: ScanCompleted})
	// dropped
	bus.Publish(Event{Type: ScanCompleted})
}

func TestHandlerPanicRecovery(t *testing.T) {
	bus := NewBus(testLogger(), 16)
	go bus.Start()
	defer bus.Stop()

	var mu sync.Mutex
	secondCalled := false

	bus.Subscribe(func(_ Event) {
		panic("test panic")
	}, InfringementDetected)
	bus.Subscribe(func(_ Event) {
		mu.Lock()
		defer mu.Unlock()
		secondCalled = true
	}, InfringementDetected)

	bus.Publish(Event{Type: InfringementDetected})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if !secondCalled {
		t.Error("second handler should still be called after first panics")
	}
}

func TestStopDrainsBuffer(t *testing.T) {
	bus := NewBus(testLogger(), 16)

	var mu sync.Mutex
	count := 0

	bus.Subscribe(func(_ Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
	}, ScanCompleted)

	bus.Publish(Event{Type: ScanCompleted})
	bus.Publish(Event{Type: ScanCompleted})

	go bus.Start()
	time.Sleep(50 * time.Millisecond)
	bus.Stop()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Errorf("got %d events, want 2 (all drained)", count)
	}
}
