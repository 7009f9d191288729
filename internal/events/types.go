package events

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Event type constants for kelindar/event.
const (
	TypeClientConnected uint32 = iota + 1
	TypeClientDisconnected
	TypeResizeStarted
	TypeResizeCompleted
	TypeFrameSkipped
	TypeScreenshotRequested
	TypeScreenshotCompleted
	TypeHIDWriteFailed
	TypeLogEntry
	TypeSignalState
)

// ClientConnectedEvent is published when the RFB server goes from zero to
// one connected client; further concurrent clients publish nothing.
type ClientConnectedEvent struct {
	Addr      string `json:"addr" example:"192.0.2.10:52344" doc:"Client remote address"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ClientConnectedEvent.
func (e ClientConnectedEvent) Type() uint32 { return TypeClientConnected }

// ClientDisconnectedEvent is published when the last connected RFB client
// goes away (one to zero clients), whatever ended its connection.
type ClientDisconnectedEvent struct {
	Addr      string `json:"addr" example:"192.0.2.10:52344" doc:"Client remote address"`
	Reason    string `json:"reason,omitempty" doc:"Disconnect reason, empty on clean close"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ClientDisconnectedEvent.
func (e ClientDisconnectedEvent) Type() uint32 { return TypeClientDisconnected }

// ResizeStartedEvent is published when the Manager detects the video
// source resolution changed and begins reconfiguring the capture pipeline
// and the RFB framebuffer.
type ResizeStartedEvent struct {
	FromWidth  int    `json:"from_width"`
	FromHeight int    `json:"from_height"`
	ToWidth    int    `json:"to_width"`
	ToHeight   int    `json:"to_height"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ResizeStartedEvent.
func (e ResizeStartedEvent) Type() uint32 { return TypeResizeStarted }

// ResizeCompletedEvent is published once the framebuffer has been
// reallocated at the new resolution and frame capture has resumed.
type ResizeCompletedEvent struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ResizeCompletedEvent.
func (e ResizeCompletedEvent) Type() uint32 { return TypeResizeCompleted }

// FrameSkippedEvent is published when a captured frame is dropped without
// being forwarded to the RFB server, e.g. a CRC-identical duplicate or no
// client had finished consuming the previous frame.
type FrameSkippedEvent struct {
	Reason    string `json:"reason" example:"duplicate" doc:"Why the frame was skipped"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FrameSkippedEvent.
func (e FrameSkippedEvent) Type() uint32 { return TypeFrameSkipped }

// ScreenshotRequestedEvent is published when the D-Bus screenshot RPC is
// invoked.
type ScreenshotRequestedEvent struct {
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ScreenshotRequestedEvent.
func (e ScreenshotRequestedEvent) Type() uint32 { return TypeScreenshotRequested }

// ScreenshotCompletedEvent is published after a screenshot has been
// written to disk in response to a ScreenshotRequestedEvent.
type ScreenshotCompletedEvent struct {
	Path      string `json:"path" example:"/tmp/screenshot.jpg" doc:"Path the screenshot was written to"`
	Error     string `json:"error,omitempty" doc:"Error description, empty on success"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ScreenshotCompletedEvent.
func (e ScreenshotCompletedEvent) Type() uint32 { return TypeScreenshotCompleted }

// HIDWriteFailedEvent is published when a write to a USB HID gadget
// character device fails, e.g. because the host has not yet enumerated
// the gadget.
type HIDWriteFailedEvent struct {
	Endpoint  string `json:"endpoint" example:"/dev/hidg0" doc:"HID gadget device that failed"`
	Error     string `json:"error" doc:"Error description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for HIDWriteFailedEvent.
func (e HIDWriteFailedEvent) Type() uint32 { return TypeHIDWriteFailed }

// LogEntryEvent mirrors a structured log entry onto the event bus so that
// subscribers (e.g. a future remote log viewer) don't need to tail the
// journal directly.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"video" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// SignalStateEvent is published when the capture device's kernel-reported
// signal state transitions, e.g. an HDMI source is unplugged or replugged.
type SignalStateEvent struct {
	Device    string `json:"device" example:"/dev/video0" doc:"Capture device path"`
	State     string `json:"state" example:"locked" doc:"locked or no-signal"`
	Action    string `json:"action" example:"change" doc:"Kernel uevent action that triggered the transition"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SignalStateEvent.
func (e SignalStateEvent) Type() uint32 { return TypeSignalState }
