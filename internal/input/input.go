// Package input maintains the keyboard and pointer HID report state for a
// single connected RFB client and writes those reports to the USB HID
// gadget character devices.
package input

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/openbmc/ikvmd/internal/events"
	"github.com/openbmc/ikvmd/internal/logging"
	"github.com/openbmc/ikvmd/internal/scancode"
)

const (
	hidReportRetryMax = 5
	hidRetryBackoff    = 10 * time.Millisecond
)

// RFB pointer button-mask values, as delivered by the RFB pointer event.
const (
	ButtonWheelUp   = 8
	ButtonWheelDown = 16
)

// Options configures where Input opens its HID character devices and how
// it selects a USB Device Controller to bind the gadget to.
type Options struct {
	KeyboardPath string
	MousePath    string
	UDCName      string
	GadgetDir    string
	// HubPortsDir is the virtual USB hub's sysfs directory, scanned for a
	// free port when UDCName is empty. Each port subdirectory carries a
	// "gadget*" child; a port is free if that child has no "suspended"
	// attribute.
	HubPortsDir string
}

// Input owns the live keyboard and pointer HID reports for the currently
// connected RFB client.
type Input struct {
	opts Options
	bus  *events.Bus
	log  *slog.Logger

	kbdMu     sync.Mutex
	kbdFile   *os.File
	kbdReport [8]byte
	keySlots  map[scancode.Keysym]int
	modCount  map[byte]int

	ptrMu   sync.Mutex
	ptrFile *os.File

	onRetry func()
}

// New creates an Input bound to the given gadget character device paths.
func New(opts Options, bus *events.Bus) *Input {
	return &Input{
		opts:     opts,
		bus:      bus,
		log:      logging.GetLogger("input"),
		keySlots: make(map[scancode.Keysym]int),
		modCount: make(map[byte]int),
	}
}

// SetRetryHook installs a callback invoked once per EAGAIN retry attempt,
// used to feed the hid_write_retries_total counter without this package
// importing the metrics package directly.
func (in *Input) SetRetryHook(hook func()) {
	in.onRetry = hook
}

// Connect binds the gadget to a UDC (either the configured one, or the
// first free virtual-hub port) and opens the keyboard and pointer
// character devices. Failure is fatal to startup.
func (in *Input) Connect() error {
	udc := in.opts.UDCName
	if udc == "" {
		found, err := findFreeHubPort(in.opts.HubPortsDir)
		if err != nil {
			return fmt.Errorf("find free hub port: %w", err)
		}
		if found == "" {
			return fmt.Errorf("no free USB device controller available")
		}
		udc = found
	}

	udcPath := in.opts.GadgetDir + "/UDC"
	in.log.Debug("binding gadget to UDC", "udc", udc, "path", udcPath)
	if err := os.WriteFile(udcPath, []byte(udc+"\n"), 0o644); err != nil {
		return fmt.Errorf("bind UDC %s: %w", udc, err)
	}

	kbd, err := os.OpenFile(in.opts.KeyboardPath, os.O_RDWR|os.O_CLOEXEC|syscall.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open keyboard device %s: %w", in.opts.KeyboardPath, err)
	}
	ptr, err := os.OpenFile(in.opts.MousePath, os.O_RDWR|os.O_CLOEXEC|syscall.O_NONBLOCK, 0)
	if err != nil {
		kbd.Close()
		return fmt.Errorf("open pointer device %s: %w", in.opts.MousePath, err)
	}

	in.kbdMu.Lock()
	in.kbdFile = kbd
	in.kbdMu.Unlock()
	in.ptrMu.Lock()
	in.ptrFile = ptr
	in.ptrMu.Unlock()
	return nil
}

// Disconnect closes the character devices and unbinds the gadget from its
// UDC.
func (in *Input) Disconnect() {
	in.kbdMu.Lock()
	if in.kbdFile != nil {
		in.kbdFile.Close()
		in.kbdFile = nil
	}
	in.kbdMu.Unlock()

	in.ptrMu.Lock()
	if in.ptrFile != nil {
		in.ptrFile.Close()
		in.ptrFile = nil
	}
	in.ptrMu.Unlock()

	udcPath := in.opts.GadgetDir + "/UDC"
	if err := os.WriteFile(udcPath, []byte("\n"), 0o644); err != nil {
		in.log.Debug("unbind UDC failed", "error", err)
	}
}

// findFreeHubPort scans hubDir for the first port whose gadget* child
// directory has no "suspended" attribute, meaning nothing is bound there.
func findFreeHubPort(hubDir string) (string, error) {
	entries, err := os.ReadDir(hubDir)
	if err != nil {
		return "", nil
	}
	for _, e := range entries {
		matches, err := filepath.Glob(filepath.Join(hubDir, e.Name(), "gadget*"))
		if err != nil || len(matches) == 0 {
			continue
		}
		if _, err := os.Stat(filepath.Join(matches[0], "suspended")); os.IsNotExist(err) {
			return e.Name(), nil
		}
	}
	return "", nil
}

// KeyEvent applies a keyboard down/up event, identified by RFB keysym, to
// the current keyboard report and writes the report when the event changed
// the key or modifier state.
func (in *Input) KeyEvent(down bool, keysym scancode.Keysym) {
	in.kbdMu.Lock()
	changed := in.applyKeyLocked(down, keysym)
	report := in.kbdReport
	in.kbdMu.Unlock()

	if changed {
		in.writeReport(&in.kbdMu, in.kbdFileRef, report[:], in.opts.KeyboardPath)
	}
}

func (in *Input) kbdFileRef() *os.File { return in.kbdFile }
func (in *Input) ptrFileRef() *os.File { return in.ptrFile }

// applyKeyLocked mutates kbdReport per §4.3 and reports whether a send is
// warranted. Caller holds kbdMu.
func (in *Input) applyKeyLocked(down bool, keysym scancode.Keysym) bool {
	if down {
		sc := scancode.Scancode(keysym)
		if sc != 0 {
			if _, exists := in.keySlots[keysym]; !exists {
				slot := in.firstZeroSlotLocked()
				if slot != 0 {
					in.kbdReport[slot] = sc
					in.keySlots[keysym] = slot
					return true
				}
			}
			return false
		}
		mod := scancode.Modifier(keysym)
		if mod != 0 {
			in.modCount[mod]++
			in.kbdReport[0] |= mod
			return true
		}
		return false
	}

	if slot, ok := in.keySlots[keysym]; ok {
		in.kbdReport[slot] = 0
		delete(in.keySlots, keysym)
		return true
	}
	mod := scancode.Modifier(keysym)
	if mod != 0 {
		if in.modCount[mod] > 0 {
			in.modCount[mod]--
		}
		if in.modCount[mod] == 0 {
			in.kbdReport[0] &^= mod
		}
		return true
	}
	return false
}

// firstZeroSlotLocked returns the index (2..7) of the first free scancode
// slot in kbdReport, or 0 if all six are occupied (report is full).
func (in *Input) firstZeroSlotLocked() int {
	for i := 2; i < 8; i++ {
		if in.kbdReport[i] == 0 {
			return i
		}
	}
	return 0
}

// PointerEvent translates an RFB pointer event into a 6-byte absolute HID
// pointer report and writes it.
func (in *Input) PointerEvent(buttonMask byte, x, y, screenW, screenH int) {
	var report [6]byte

	switch {
	case buttonMask <= 4:
		report[0] = ((buttonMask & 4) >> 1) | ((buttonMask & 2) << 1) | (buttonMask & 1)
		report[5] = 0
	case buttonMask == ButtonWheelUp:
		report[5] = 1
	case buttonMask == ButtonWheelDown:
		report[5] = 0xFF
	}

	scaledX := scaleCoordinate(x, screenW)
	scaledY := scaleCoordinate(y, screenH)
	report[1] = byte(scaledX)
	report[2] = byte(scaledX >> 8)
	report[3] = byte(scaledY)
	report[4] = byte(scaledY >> 8)

	in.writeReport(&in.ptrMu, in.ptrFileRef, report[:], in.opts.MousePath)
}

func scaleCoordinate(v, dimension int) uint16 {
	if dimension <= 0 {
		return 0
	}
	return uint16(v * 32768 / dimension)
}

// SendWakeupPacket nudges a suspended host awake: a centered pointer
// report followed by a harmless shift press/release pair.
func (in *Input) SendWakeupPacket(screenW, screenH int) {
	in.PointerEvent(0, screenW/2, screenH/2, screenW, screenH)
	in.KeyEvent(true, scancode.KeyShiftL)
	in.KeyEvent(false, scancode.KeyShiftL)
}

// writeReport serializes access to one HID endpoint and retries on EAGAIN
// up to hidReportRetryMax times, silently dropping ESHUTDOWN and
// publishing HIDWriteFailedEvent on final abandonment.
func (in *Input) writeReport(mu *sync.Mutex, fileOf func() *os.File, report []byte, endpoint string) {
	for attempt := 0; attempt <= hidReportRetryMax; attempt++ {
		mu.Lock()
		f := fileOf()
		if f == nil {
			mu.Unlock()
			return
		}
		_, err := f.Write(report)
		mu.Unlock()

		if err == nil {
			return
		}
		if errors.Is(err, syscall.ESHUTDOWN) {
			return
		}
		if errors.Is(err, syscall.EAGAIN) {
			if attempt < hidReportRetryMax {
				if in.onRetry != nil {
					in.onRetry()
				}
				time.Sleep(hidRetryBackoff)
				continue
			}
		}

		in.log.Warn("HID report write failed", "endpoint", endpoint, "error", err, "attempt", attempt)
		if in.bus != nil {
			in.bus.Publish(events.HIDWriteFailedEvent{
				Endpoint:  endpoint,
				Error:     err.Error(),
				Timestamp: time.Now().Format(time.RFC3339),
			})
		}
		return
	}
}
