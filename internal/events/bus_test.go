package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan ClientConnectedEvent, 1)

	unsub := bus.Subscribe(func(e ClientConnectedEvent) {
		received <- e
	})
	defer unsub()

	event := ClientConnectedEvent{
		Addr:      "192.0.2.10:52344",
		Timestamp: "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got.Addr != event.Addr {
		t.Errorf("Expected addr %s, got %s", event.Addr, got.Addr)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan ResizeStartedEvent, 1)
	received2 := make(chan ResizeStartedEvent, 1)

	unsub1 := bus.Subscribe(func(e ResizeStartedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e ResizeStartedEvent) {
		received2 <- e
	})
	defer unsub2()

	event := ResizeStartedEvent{FromWidth: 1280, FromHeight: 720, ToWidth: 1920, ToHeight: 1080}
	bus.Publish(event)

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan ClientDisconnectedEvent, 1)

	unsub := bus.Subscribe(func(e ClientDisconnectedEvent) {
		received <- e
	})

	bus.Publish(ClientDisconnectedEvent{Addr: "192.0.2.10:52344"})
	<-received

	unsub()

	bus.Publish(ClientDisconnectedEvent{Addr: "192.0.2.11:52345"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	connectedReceived := make(chan bool, 1)
	resizeReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ ClientConnectedEvent) {
		connectedReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ ResizeStartedEvent) {
		resizeReceived <- true
	})
	defer unsub2()

	bus.Publish(ClientConnectedEvent{Addr: "192.0.2.10:52344"})
	<-connectedReceived

	select {
	case <-resizeReceived:
		t.Fatal("Resize subscriber should NOT have received ClientConnectedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}

	bus.Publish(ResizeStartedEvent{ToWidth: 1920, ToHeight: 1080})
	<-resizeReceived

	select {
	case <-connectedReceived:
		t.Fatal("Connected subscriber should NOT have received ResizeStartedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ FrameSkippedEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(FrameSkippedEvent{
					Reason:    "duplicate",
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"ClientConnected", ClientConnectedEvent{Addr: "192.0.2.10:52344"}},
		{"ClientDisconnected", ClientDisconnectedEvent{Addr: "192.0.2.10:52344"}},
		{"ResizeStarted", ResizeStartedEvent{ToWidth: 1920, ToHeight: 1080}},
		{"ResizeCompleted", ResizeCompletedEvent{Width: 1920, Height: 1080}},
		{"FrameSkipped", FrameSkippedEvent{Reason: "duplicate"}},
		{"ScreenshotRequested", ScreenshotRequestedEvent{}},
		{"ScreenshotCompleted", ScreenshotCompletedEvent{Path: "/tmp/screenshot.jpg"}},
		{"HIDWriteFailed", HIDWriteFailedEvent{Endpoint: "/dev/hidg0", Error: "no such device"}},
		{"LogEntry", LogEntryEvent{Seq: 1, Level: "info", Module: "video"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case ClientConnectedEvent:
				unsub = bus.Subscribe(func(e ClientConnectedEvent) { received <- e })
			case ClientDisconnectedEvent:
				unsub = bus.Subscribe(func(e ClientDisconnectedEvent) { received <- e })
			case ResizeStartedEvent:
				unsub = bus.Subscribe(func(e ResizeStartedEvent) { received <- e })
			case ResizeCompletedEvent:
				unsub = bus.Subscribe(func(e ResizeCompletedEvent) { received <- e })
			case FrameSkippedEvent:
				unsub = bus.Subscribe(func(e FrameSkippedEvent) { received <- e })
			case ScreenshotRequestedEvent:
				unsub = bus.Subscribe(func(e ScreenshotRequestedEvent) { received <- e })
			case ScreenshotCompletedEvent:
				unsub = bus.Subscribe(func(e ScreenshotCompletedEvent) { received <- e })
			case HIDWriteFailedEvent:
				unsub = bus.Subscribe(func(e HIDWriteFailedEvent) { received <- e })
			case LogEntryEvent:
				unsub = bus.Subscribe(func(e LogEntryEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestEventJSONSerialization(t *testing.T) {
	tests := []struct {
		name  string
		event any
	}{
		{
			"ClientConnectedEvent",
			ClientConnectedEvent{Addr: "192.0.2.10:52344", Timestamp: "2025-01-27T10:30:00Z"},
		},
		{
			"ResizeCompletedEvent",
			ResizeCompletedEvent{Width: 1920, Height: 1080, Timestamp: "2025-01-27T10:30:00Z"},
		},
		{
			"HIDWriteFailedEvent",
			HIDWriteFailedEvent{Endpoint: "/dev/hidg0", Error: "no such device", Timestamp: "2025-01-27T10:30:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}

			var result map[string]any
			if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
				t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
			}

			if len(result) == 0 {
				t.Fatal("Unmarshaled to empty object")
			}
		})
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[ClientConnectedEvent](bus, ch)
	defer unsub()

	event := ClientConnectedEvent{Addr: "192.0.2.10:52344"}
	bus.Publish(event)

	received := <-ch
	connectedEvent, ok := received.(ClientConnectedEvent)
	if !ok {
		t.Fatalf("Expected ClientConnectedEvent, got %T", received)
	}
	if connectedEvent.Addr != event.Addr {
		t.Errorf("Expected addr %s, got %s", event.Addr, connectedEvent.Addr)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any) // No buffer

	unsub := SubscribeToChannel[ResizeStartedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(ResizeStartedEvent{ToWidth: 1920, ToHeight: 1080})
		done <- true
	}()

	<-done // Should complete without blocking
}
