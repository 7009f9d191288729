package manager

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/openbmc/ikvmd/internal/events"
)

const (
	screenshotObjectPath = "/xyz/openbmc_project/kvm"
	screenshotInterface  = "xyz.openbmc_project.kvm_interface"
	screenshotBusName    = "xyz.openbmc_project.kvm_service"
	screenshotOutputPath = "/tmp/screenshot.jpg"
	screenshotBusyReply  = "Screenshot busy"
)

// screenshotService exposes a single D-Bus method that arms a
// screenshot request the status loop services on its next capture pass.
type screenshotService struct {
	bus *events.Bus
	log *slog.Logger

	conn *dbus.Conn

	mu        sync.Mutex
	requested bool
	path      string
}

func newScreenshotService(bus *events.Bus, log *slog.Logger) *screenshotService {
	return &screenshotService{bus: bus, log: log}
}

// start connects to the system bus, exports the Screenshot method, and
// requests the well-known bus name. Any failure (no system bus present,
// e.g. in a container without dbus-daemon) is non-fatal to the daemon.
func (s *screenshotService) start() error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return err
	}

	if err := conn.Export(s, screenshotObjectPath, screenshotInterface); err != nil {
		conn.Close()
		return err
	}

	reply, err := conn.RequestName(screenshotBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return fmt.Errorf("bus name %s already owned", screenshotBusName)
	}

	s.conn = conn
	return nil
}

func (s *screenshotService) stop() {
	if s.conn != nil {
		s.conn.Close()
	}
}

// Screenshot is exported over D-Bus. It arms a screenshot request unless
// one is already pending, matching the RPC's documented busy reply.
func (s *screenshotService) Screenshot() (string, *dbus.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.requested {
		return screenshotBusyReply, nil
	}

	s.requested = true
	s.path = screenshotOutputPath
	if s.bus != nil {
		s.bus.Publish(events.ScreenshotRequestedEvent{
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
	return s.path, nil
}

// pendingScreenshot reports whether a screenshot is currently requested
// and, if so, the path it should be written to. Safe to call on a nil
// receiver (D-Bus unavailable): reports no pending request.
func (s *screenshotService) pendingScreenshot() (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path, s.requested
}

// completeScreenshot clears the pending request and publishes
// ScreenshotCompletedEvent, including the write error if any.
func (s *screenshotService) completeScreenshot(path string, writeErr error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.requested = false
	s.path = ""
	s.mu.Unlock()

	if s.bus == nil {
		return
	}
	errMsg := ""
	if writeErr != nil {
		errMsg = writeErr.Error()
		s.log.Warn("screenshot write failed", "path", path, "error", writeErr)
	}
	s.bus.Publish(events.ScreenshotCompletedEvent{
		Path:      path,
		Error:     errMsg,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
