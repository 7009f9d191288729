// Package video owns the V4L2 capture device: streaming lifecycle, frame
// acquisition, and resolution-change detection and handling.
package video

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openbmc/ikvmd/internal/events"
	"github.com/openbmc/ikvmd/internal/input"
	"github.com/openbmc/ikvmd/internal/logging"
	"github.com/openbmc/ikvmd/pkg/linuxav/hotplug"
	"github.com/openbmc/ikvmd/pkg/linuxav/v4l2"
)

// PixelFormat identifies the wire encoding the Server should apply to
// frames this Video reports.
type PixelFormat int

const (
	PixelFormatRGB24 PixelFormat = iota
	PixelFormatRGB565
	PixelFormatJPEG
	PixelFormatHextile
)

func pixelFormatFromFourCC(fourcc uint32) PixelFormat {
	switch fourcc {
	case v4l2.V4L2_PIX_FMT_RGB565:
		return PixelFormatRGB565
	case v4l2.V4L2_PIX_FMT_JPEG, v4l2.V4L2_PIX_FMT_MJPEG:
		return PixelFormatJPEG
	case v4l2.V4L2_PIX_FMT_HEXTILE:
		return PixelFormatHextile
	default:
		return PixelFormatRGB24
	}
}

// Options selects the capture format requested from the device, mirroring
// the daemon's -m/--pixelformat and -s/--subsampling flags.
type Options struct {
	// Pixelformat is 0 (JPEG/Tight) or 1 (vendor hextile). Values outside
	// that range fall back to 0.
	Pixelformat int
	// Subsampling is 0 (4:4:4) or 1 (4:2:0). The value is stored here but
	// is not sent to the device, so the driver's current subsampling stays
	// in effect.
	Subsampling int
}

func requestedFourCC(pixelformat int) uint32 {
	if pixelformat == 1 {
		return v4l2.V4L2_PIX_FMT_HEXTILE
	}
	return v4l2.V4L2_PIX_FMT_JPEG
}

// Video owns the capture device and its currently-known dimensions.
type Video struct {
	devicePath string
	capture    *v4l2.Capture
	input      *input.Input
	bus        *events.Bus
	log        *slog.Logger
	opts       Options

	pixelFormat PixelFormat

	width, height int
}

// Open opens devicePath, validates its capabilities, negotiates the
// requested pixel format, and performs the initial buffer allocation via
// Resize. Per the device-open retry contract, a failed open is retried
// once after sending an HID wakeup packet — some host firmwares park the
// capture block until a keyboard or mouse event arrives.
func Open(devicePath string, opts Options, in *input.Input, bus *events.Bus, screenW, screenH int) (*Video, error) {
	log := logging.GetLogger("video")

	if err := v4l2.ValidateCapture(devicePath); err != nil {
		return nil, fmt.Errorf("validate capture device: %w", err)
	}

	capture, err := openWithRetry(devicePath, in, screenW, screenH, log)
	if err != nil {
		return nil, err
	}

	v := &Video{
		devicePath: devicePath,
		capture:    capture,
		input:      in,
		bus:        bus,
		log:        log,
		opts:       opts,
	}

	if negotiated, err := capture.SetFormat(requestedFourCC(opts.Pixelformat), 0, 0); err != nil {
		log.Warn("pixel format negotiation failed, keeping device default", "error", err)
	} else {
		v.pixelFormat = pixelFormatFromFourCC(negotiated)
	}

	if err := v.Resize(); err != nil {
		capture.Close()
		return nil, fmt.Errorf("initial resize: %w", err)
	}

	return v, nil
}

func openWithRetry(devicePath string, in *input.Input, screenW, screenH int, log *slog.Logger) (*v4l2.Capture, error) {
	capture, err := v4l2.OpenCapture(devicePath)
	if err == nil {
		return capture, nil
	}

	log.Warn("capture device open failed, sending wakeup packet and retrying", "device", devicePath, "error", err)
	if in != nil {
		in.SendWakeupPacket(screenW, screenH)
	}
	time.Sleep(100 * time.Millisecond)

	capture, err = v4l2.OpenCapture(devicePath)
	if err != nil {
		return nil, fmt.Errorf("open capture device %s: %w", devicePath, err)
	}
	return capture, nil
}

// Start enables streaming if it is not already active. Idempotent.
func (v *Video) Start() error {
	if err := v.capture.StreamOn(); err != nil {
		return fmt.Errorf("start streaming: %w", err)
	}
	return nil
}

// Stop disables streaming if active. Idempotent.
func (v *Video) Stop() error {
	if err := v.capture.StreamOff(); err != nil {
		return fmt.Errorf("stop streaming: %w", err)
	}
	return nil
}

// GetFrame dequeues the most recently completed buffer. Dequeue errors
// are logged and swallowed: the next iteration retries.
func (v *Video) GetFrame() {
	if err := v.capture.GetFrame(); err != nil {
		v.log.Debug("frame dequeue failed, will retry", "error", err)
	}
}

// GetData returns the bytes of the last dequeued frame, or nil if none is
// available yet.
func (v *Video) GetData() []byte {
	return v.capture.Data()
}

// PixelFormat reports how the Server should encode the current frame.
func (v *Video) PixelFormat() PixelFormat {
	return v.pixelFormat
}

// Width and Height report the current frame dimensions.
func (v *Video) Width() int  { return v.width }
func (v *Video) Height() int { return v.height }

// NeedsResize queries the device's current DV timings. A dimension change
// updates the cached dimensions and returns true; the caller decides when
// to actually call Resize. Zero dimensions (no signal) are returned as an
// error; the manager logs it as "signal lost" and keeps polling, it does
// not stop the daemon.
func (v *Video) NeedsResize() (bool, error) {
	width, height, err := v.capture.QueryDVTimings()
	if err != nil {
		return false, fmt.Errorf("query DV timings: %w", err)
	}
	if width == 0 || height == 0 {
		return false, fmt.Errorf("device %s reports zero dimensions (no signal)", v.devicePath)
	}

	if int(width) == v.width && int(height) == v.height {
		return false, nil
	}

	v.log.Info("signal dimensions changed", "from_width", v.width, "from_height", v.height,
		"to_width", width, "to_height", height)
	if v.bus != nil {
		v.bus.Publish(events.ResizeStartedEvent{
			FromWidth: v.width, FromHeight: v.height,
			ToWidth: int(width), ToHeight: int(height),
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}

	v.width, v.height = int(width), int(height)
	return true, nil
}

// Resize re-negotiates DV timings and reallocates streaming buffers at
// the current dimensions, restarting streaming if it was active.
func (v *Video) Resize() error {
	width, height, err := v.capture.QueryDVTimings()
	if err == nil && width > 0 && height > 0 {
		if err := v.capture.SetDVTimings(width, height); err != nil {
			return fmt.Errorf("set DV timings: %w", err)
		}
		v.width, v.height = int(width), int(height)
	}

	if err := v.capture.Resize(); err != nil {
		return fmt.Errorf("resize streaming buffers: %w", err)
	}

	if fourcc, _, _, err := v.capture.GetFormat(); err == nil {
		v.pixelFormat = pixelFormatFromFourCC(fourcc)
	}

	if v.bus != nil {
		v.bus.Publish(events.ResizeCompletedEvent{
			Width: v.width, Height: v.height,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
	return nil
}

// WatchSignal listens for kernel video4linux uevents naming this capture
// device and logs signal-state transitions (locked/no-signal) as they
// arrive, complementing NeedsResize's DV-timings polling with an
// event-driven view of hotplug (HDMI unplug, webcam disconnect). It blocks
// until ctx is canceled. A monitor that fails to open is logged and
// treated as non-fatal: DV-timings polling remains the primary detector.
func (v *Video) WatchSignal(ctx context.Context) {
	mon, err := hotplug.NewMonitor()
	if err != nil {
		v.log.Warn("hotplug monitor unavailable, relying on DV-timings polling only", "error", err)
		return
	}
	defer mon.Close()
	mon.AddSubsystemFilter(hotplug.SubsystemVideo4Linux)

	deviceName := filepath.Base(v.devicePath)
	uevents := make(chan hotplug.Event)
	go func() {
		if err := mon.Run(ctx, uevents); err != nil && ctx.Err() == nil {
			v.log.Warn("hotplug monitor exited", "error", err)
		}
	}()

	state := "locked"
	for ev := range uevents {
		if ev.DevName != deviceName {
			continue
		}

		var next string
		switch ev.Action {
		case hotplug.ActionRemove, hotplug.ActionOffline:
			next = "no-signal"
		case hotplug.ActionAdd, hotplug.ActionOnline, hotplug.ActionChange:
			next = "locked"
		default:
			continue
		}
		if next == state {
			continue
		}
		state = next

		v.log.Info("signal state changed", "device", v.devicePath, "state", state, "action", ev.Action)
		if v.bus != nil {
			v.bus.Publish(events.SignalStateEvent{
				Device:    v.devicePath,
				State:     state,
				Action:    ev.Action,
				Timestamp: time.Now().Format(time.RFC3339),
			})
		}
	}
}

// WriteFile dumps the current frame bytes to path, for the screenshot RPC.
func (v *Video) WriteFile(path string) error {
	data := v.capture.Data()
	if data == nil {
		return fmt.Errorf("no frame available to write")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write screenshot %s: %w", path, err)
	}
	return nil
}

// Close stops streaming and releases the capture device.
func (v *Video) Close() error {
	_ = v.Stop()
	return v.capture.Close()
}
