// Package supervisor reports daemon lifecycle and health to systemd via the
// sd_notify protocol. It is a no-op when the daemon is not running under
// systemd (NOTIFY_SOCKET unset), so the same binary works standalone.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Supervisor issues READY/STOPPING/WATCHDOG notifications to systemd.
type Supervisor struct {
	enabled bool
}

// New creates a Supervisor. Notifications silently no-op if NOTIFY_SOCKET
// isn't set, matching daemon.SdNotify's own behavior, so callers never need
// to branch on whether they're running under systemd.
func New() *Supervisor {
	enabled, _ := daemon.SdNotify(false, "")
	return &Supervisor{enabled: enabled}
}

// Enabled reports whether a systemd notify socket was present at startup.
func (s *Supervisor) Enabled() bool {
	return s.enabled
}

// Ready announces successful startup.
func (s *Supervisor) Ready() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// Stopping announces the beginning of graceful shutdown.
func (s *Supervisor) Stopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// Status sets the single-line status string shown by `systemctl status`.
func (s *Supervisor) Status(msg string) {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStatus+msg)
}

// RunWatchdog pings the systemd watchdog at half the interval systemd
// configured via WATCHDOG_USEC, until ctx is canceled. It returns
// immediately if the daemon wasn't started with a watchdog interval.
func (s *Supervisor) RunWatchdog(ctx context.Context) {
	interval, err := watchdogInterval()
	if err != nil || interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

// watchdogInterval mirrors daemon.SdWatchdogEnabled without also requiring
// the caller's own PID to match WATCHDOG_PID, since sub-processes spawned
// by systemd sometimes inherit the environment without the PID guard.
func watchdogInterval() (time.Duration, error) {
	usec := os.Getenv("WATCHDOG_USEC")
	if usec == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(usec, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse WATCHDOG_USEC: %w", err)
	}
	return time.Duration(n) * time.Microsecond, nil
}
