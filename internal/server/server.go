// Package server drives the RFB protocol loop: it owns the rfb.Server
// screen, translates client keyboard/pointer events into HID reports via
// internal/input, and pushes captured frames from internal/video onto
// connected clients on the schedule the frame rate dictates.
package server

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/openbmc/ikvmd/internal/events"
	"github.com/openbmc/ikvmd/internal/input"
	"github.com/openbmc/ikvmd/internal/logging"
	"github.com/openbmc/ikvmd/internal/rfb"
	"github.com/openbmc/ikvmd/internal/scancode"
	"github.com/openbmc/ikvmd/internal/video"
)

// Options configures the listening RFB server.
type Options struct {
	Port         int
	PasswordFile string
	FrameRate    int
	CalcCRC      bool
}

// Server pumps the RFB event loop and dispatches frames, matching the
// original run/sendFrame/resize/doResize split: run() advances the
// protocol and counts frames toward a pending resize; sendFrame() and
// resize() are called by the manager on the video side of the rendezvous.
type Server struct {
	rfb   *rfb.Server
	video *video.Video
	input *input.Input
	bus   *events.Bus
	log   *slog.Logger

	frameRate       int
	processTimeUsec int

	frameCounter  int
	pendingResize bool
	calcCRC       atomic.Bool
}

// New creates the RFB screen at the video device's current dimensions and
// wires client lifecycle and event callbacks. Init must be called
// afterward to start listening.
func New(opts Options, vid *video.Video, in *input.Input, bus *events.Bus) (*Server, error) {
	width, height := vid.Width(), vid.Height()
	frameRate := opts.FrameRate
	if frameRate <= 0 {
		frameRate = 1
	}

	rfbServer, err := rfb.NewServer(width, height, frameRate)
	if err != nil {
		return nil, fmt.Errorf("create RFB screen: %w", err)
	}

	s := &Server{
		rfb:             rfbServer,
		video:           vid,
		input:           in,
		bus:             bus,
		log:             logging.GetLogger("server"),
		frameRate:       frameRate,
		processTimeUsec: processTime(frameRate),
	}
	s.calcCRC.Store(opts.CalcCRC)

	rfbServer.SetPort(opts.Port)
	rfbServer.SetPasswordFile(opts.PasswordFile)
	rfbServer.SetPixelFormat(pixelFormatFor(vid.PixelFormat()))
	rfbServer.SetHandlers(s.handleKey, s.handlePointer, s.handleFirstConn, s.handleLastGone)
	rfbServer.Init()

	return s, nil
}

// processTime mirrors the original server's per-tick budget: as much of
// the frame period as isn't reserved for capture and encode work, floored
// at zero for absurdly high frame rates.
func processTime(frameRate int) int {
	usec := 1_000_000/frameRate - 100
	if usec < 0 {
		return 0
	}
	return usec
}

func pixelFormatFor(pf video.PixelFormat) rfb.PixelFormat {
	if pf == video.PixelFormatRGB565 || pf == video.PixelFormatHextile {
		return rfb.RGB565PixelFormat
	}
	return rfb.StandardPixelFormat
}

func frameKindFor(pf video.PixelFormat) rfb.FrameKind {
	switch pf {
	case video.PixelFormatJPEG:
		return rfb.FrameJPEG
	case video.PixelFormatHextile:
		return rfb.FrameHextile
	default:
		return rfb.FrameRaw
	}
}

// WantsFrame reports whether at least one client is connected, so the
// manager's capture goroutine can skip decoding work when nobody is
// watching.
func (s *Server) WantsFrame() bool {
	return s.rfb.HasClients()
}

// ClientCount returns the number of connected clients, for the
// rfb_clients_connected gauge.
func (s *Server) ClientCount() int {
	return s.rfb.ClientCount()
}

// SetCalcCRC toggles per-client CRC dedup at runtime, applied by the
// config watcher without requiring a restart.
func (s *Server) SetCalcCRC(enabled bool) {
	s.calcCRC.Store(enabled)
}

// Run pumps the RFB event loop for one tick and, once enough frames have
// passed since a pending resize was requested, applies it. This mirrors
// the original run loop's frameCounter/pendingResize gate exactly: a
// resize only lands once every connected client has had a chance to
// drain its current update.
func (s *Server) Run() {
	s.rfb.ProcessEvents(s.processTimeUsec)

	if !s.rfb.HasClients() {
		return
	}
	s.frameCounter++

	if s.pendingResize && s.frameCounter > s.frameRate {
		s.doResize()
		s.pendingResize = false
	}
}

// SendFrame pushes the video module's most recently captured frame to
// every client whose skip-frame countdown has elapsed and whose last
// framebuffer update request is still outstanding. A resize in flight
// suppresses sends until doResize catches up. The returned SendResult
// backs the rfb_frames_sent_total / rfb_frames_deduped_total counters.
func (s *Server) SendFrame() rfb.SendResult {
	if s.pendingResize {
		return rfb.SendResult{}
	}
	data := s.video.GetData()
	if len(data) == 0 {
		return rfb.SendResult{}
	}

	result := s.rfb.SendFrame(frameKindFor(s.video.PixelFormat()), data, s.calcCRC.Load())
	if result.Deduped > 0 && s.bus != nil {
		s.bus.Publish(events.FrameSkippedEvent{
			Reason:    "duplicate",
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
	return result
}

// Resize requests a framebuffer resize to match the video module's
// current dimensions. If enough frames have already elapsed since
// clients last saw an update it applies immediately; otherwise it's
// deferred to the next Run tick that clears the debounce window.
func (s *Server) Resize() {
	if s.frameCounter > s.frameRate {
		s.doResize()
		return
	}
	s.pendingResize = true
}

func (s *Server) doResize() {
	width, height := s.video.Width(), s.video.Height()
	s.rfb.Resize(width, height, pixelFormatFor(s.video.PixelFormat()))
	s.rfb.SetSkipFrameAll(s.frameRate)
	s.frameCounter = 0
}

func (s *Server) handleKey(down bool, keysym uint32) {
	if s.input == nil {
		return
	}
	s.input.KeyEvent(down, scancode.Keysym(keysym))
}

func (s *Server) handlePointer(buttonMask uint8, x, y int) {
	if s.input == nil {
		return
	}
	w, h := s.rfb.Dims()
	s.input.PointerEvent(buttonMask, x, y, w, h)
}

func (s *Server) handleFirstConn() {
	s.frameCounter = 0
	s.pendingResize = false

	if s.input != nil {
		if err := s.input.Connect(); err != nil {
			s.log.Error("HID gadget connect failed", "error", err)
		}
	}
	if s.bus != nil {
		s.bus.Publish(events.ClientConnectedEvent{
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}

func (s *Server) handleLastGone() {
	if s.input != nil {
		s.input.Disconnect()
	}
	s.rfb.MarkModified()
	if s.bus != nil {
		s.bus.Publish(events.ClientDisconnectedEvent{
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}

// Close tears down the RFB screen.
func (s *Server) Close() {
	s.rfb.Close()
}
