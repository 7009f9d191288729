// Package devices resolves the daemon's configured video-device identifier
// to a stable /dev path and validates it exposes the capabilities the
// capture pipeline requires. Unlike the teacher's multi-device inventory,
// this daemon is handed a single device identifier at startup (the
// --video-device flag) and never enumerates a catalog at runtime.
package devices

import (
	"fmt"
	"os"
	"strings"

	"github.com/openbmc/ikvmd/internal/logging"
	"github.com/openbmc/ikvmd/pkg/linuxav/v4l2"
)

// ResolveDevicePath converts a configured device identifier to a concrete
// /dev path. Direct paths pass through unchanged; by-id and by-path stable
// symlinks are resolved via the kernel-maintained /dev/v4l trees so a
// device survives being re-enumerated on a different /dev/videoN node
// across reboots.
func ResolveDevicePath(deviceID string) (string, error) {
	if strings.HasPrefix(deviceID, "/dev/") {
		return deviceID, nil
	}

	if strings.HasPrefix(deviceID, "usb-") {
		devicePath := "/dev/v4l/by-id/" + deviceID
		if _, err := os.Stat(devicePath); err == nil {
			return devicePath, nil
		}
	}

	if strings.HasPrefix(deviceID, "platform-") || strings.HasPrefix(deviceID, "usb-") {
		devicePath := "/dev/v4l/by-path/" + deviceID
		if _, err := os.Stat(devicePath); err == nil {
			return devicePath, nil
		}
	}

	if path, err := v4l2.GetDevicePathByID(deviceID); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("no stable symlink found for device ID: %s", deviceID)
}

// ValidateCaptureDevice resolves and opens devicePath to confirm it
// supports VIDEO_CAPTURE and STREAMING. Per the capture pipeline's failure
// semantics, missing either capability is a fatal startup error.
func ValidateCaptureDevice(deviceID string) (string, error) {
	path, err := ResolveDevicePath(deviceID)
	if err != nil {
		return "", err
	}
	if err := v4l2.ValidateCapture(path); err != nil {
		return "", err
	}
	logCapabilities(path)
	return path, nil
}

// logCapabilities enumerates and logs the pixel formats, resolutions, and
// framerates a capture device advertises. Enumeration failures are logged
// and swallowed: they never block startup, since Open negotiates the
// actual format independently via VIDIOC_S_FMT.
func logCapabilities(devicePath string) {
	log := logging.GetLogger("devices")

	formats, err := v4l2.GetFormats(devicePath)
	if err != nil {
		log.Debug("format enumeration unavailable", "device", devicePath, "error", err)
		return
	}

	names := make([]string, 0, len(formats))
	for _, f := range formats {
		names = append(names, v4l2.FormatFourCC(f.PixelFormat))
	}
	log.Info("capture device formats", "device", devicePath, "formats", names)

	if len(formats) == 0 {
		return
	}

	resolutions, err := v4l2.GetResolutions(devicePath, formats[0].PixelFormat)
	if err != nil || len(resolutions) == 0 {
		log.Debug("resolution enumeration unavailable", "device", devicePath, "error", err)
		return
	}
	max := resolutions[len(resolutions)-1]
	log.Info("capture device resolutions", "device", devicePath,
		"format", v4l2.FormatFourCC(formats[0].PixelFormat),
		"count", len(resolutions), "max_width", max.Width, "max_height", max.Height)

	framerates, err := v4l2.GetFramerates(devicePath, formats[0].PixelFormat, max.Width, max.Height)
	if err != nil {
		log.Debug("framerate enumeration unavailable", "device", devicePath, "error", err)
		return
	}
	log.Debug("capture device framerates", "device", devicePath, "count", len(framerates))
}
