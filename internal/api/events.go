package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/openbmc/ikvmd/internal/events"
)

// handleEvents streams the bus event types subscribed below (every type
// except SignalStateEvent) as newline-delimited SSE frames, tagged with
// the kebab-case name from eventName (e.g. "client-connected") as the SSE
// event name so a browser EventSource can dispatch by
// addEventListener(name, ...).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan any, 32)
	unsubscribers := []func(){
		events.SubscribeToChannel[events.ClientConnectedEvent](s.bus, ch),
		events.SubscribeToChannel[events.ClientDisconnectedEvent](s.bus, ch),
		events.SubscribeToChannel[events.ResizeStartedEvent](s.bus, ch),
		events.SubscribeToChannel[events.ResizeCompletedEvent](s.bus, ch),
		events.SubscribeToChannel[events.FrameSkippedEvent](s.bus, ch),
		events.SubscribeToChannel[events.ScreenshotRequestedEvent](s.bus, ch),
		events.SubscribeToChannel[events.ScreenshotCompletedEvent](s.bus, ch),
		events.SubscribeToChannel[events.HIDWriteFailedEvent](s.bus, ch),
		events.SubscribeToChannel[events.LogEntryEvent](s.bus, ch),
	}
	defer func() {
		for _, unsub := range unsubscribers {
			unsub()
		}
	}()

	ctx := r.Context()
	fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			payload, err := json.Marshal(ev)
			if err != nil {
				s.log.Warn("failed to marshal event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName(ev), payload)
			flusher.Flush()
		}
	}
}

func eventName(ev any) string {
	switch ev.(type) {
	case events.ClientConnectedEvent:
		return "client-connected"
	case events.ClientDisconnectedEvent:
		return "client-disconnected"
	case events.ResizeStartedEvent:
		return "resize-started"
	case events.ResizeCompletedEvent:
		return "resize-completed"
	case events.FrameSkippedEvent:
		return "frame-skipped"
	case events.ScreenshotRequestedEvent:
		return "screenshot-requested"
	case events.ScreenshotCompletedEvent:
		return "screenshot-completed"
	case events.HIDWriteFailedEvent:
		return "hid-write-failed"
	case events.LogEntryEvent:
		return "log-entry"
	default:
		return "unknown"
	}
}
