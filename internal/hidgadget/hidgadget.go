// Package hidgadget provisions a composite USB HID gadget (keyboard +
// absolute-coordinate mouse with wheel) in the kernel's gadget configfs
// tree, and selects a free USB Device Controller to bind it to.
package hidgadget

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
)

const (
	keyboardFunction = "hid.0"
	mouseFunction    = "hid.1"
	configName       = "c.1"
	localeDir        = "0x409"
)

// keyboardReportDesc is the HID report descriptor for an 8-byte boot
// keyboard report: byte 0 modifier bitmask, byte 1 reserved, bytes 2-7 up
// to six simultaneous keys.
var keyboardReportDesc = []byte{
	0x05, 0x01, 0x09, 0x06, 0xa1, 0x01, 0x05, 0x07, 0x19,
	0xe0, 0x29, 0xe7, 0x15, 0x00, 0x25, 0x01, 0x75, 0x01,
	0x95, 0x08, 0x81, 0x02, 0x95, 0x01, 0x75, 0x08, 0x81,
	0x03, 0x95, 0x05, 0x75, 0x01, 0x05, 0x08, 0x19, 0x01,
	0x29, 0x05, 0x91, 0x02, 0x95, 0x01, 0x75, 0x03, 0x91,
	0x03, 0x95, 0x06, 0x75, 0x08, 0x15, 0x00, 0x25, 0x65,
	0x05, 0x07, 0x19, 0x00, 0x29, 0x65, 0x81, 0x00, 0xc0,
}

// mouseReportDesc is the HID report descriptor for a 6-byte absolute
// pointer report: byte 0 button bitmask, bytes 1-2 X, bytes 3-4 Y, byte 5
// signed wheel delta.
var mouseReportDesc = []byte{
	0x05, 0x01, 0x09, 0x02, 0xa1, 0x01, 0x09, 0x01, 0xa1,
	0x00, 0x05, 0x09, 0x19, 0x01, 0x29, 0x03, 0x15, 0x00,
	0x25, 0x01, 0x95, 0x03, 0x75, 0x01, 0x81, 0x02, 0x95,
	0x01, 0x75, 0x05, 0x81, 0x03, 0x05, 0x01, 0x09, 0x30,
	0x09, 0x31, 0x35, 0x00, 0x46, 0xff, 0x7f, 0x15, 0x00,
	0x26, 0xff, 0x7f, 0x65, 0x11, 0x55, 0x00, 0x75, 0x10,
	0x95, 0x02, 0x81, 0x02, 0x09, 0x38, 0x15, 0xff, 0x25,
	0x01, 0x35, 0x00, 0x45, 0x00, 0x75, 0x08, 0x95, 0x01,
	0x81, 0x06, 0xc0, 0xc0,
}

func keyboardFunctionDir(gadgetDir string) string { return filepath.Join(gadgetDir, "functions", keyboardFunction) }
func mouseFunctionDir(gadgetDir string) string    { return filepath.Join(gadgetDir, "functions", mouseFunction) }
func configDir(gadgetDir string) string           { return filepath.Join(gadgetDir, "configs", configName) }
func localePath(base string) string               { return filepath.Join(base, "strings", localeDir) }

func writeAttr(logger *slog.Logger, dir, attribute, value string) error {
	path := filepath.Join(dir, attribute)
	logger.Debug("writing gadget attribute", "path", path, "value", value)
	if err := os.WriteFile(path, []byte(value+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeRawAttr(logger *slog.Logger, dir, attribute string, data []byte) error {
	path := filepath.Join(dir, attribute)
	logger.Debug("writing gadget attribute", "path", path, "bytes", len(data))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Create brings a composite HID gadget into existence at gadgetDir if it
// does not already have both functions provisioned. Write order matters:
// function descriptors must exist before the config symlinks are created,
// and the caller must bind UDC only after Create returns.
func Create(logger *slog.Logger, gadgetDir string) error {
	_, kbdErr := os.Lstat(filepath.Join(configDir(gadgetDir), keyboardFunction))
	_, mouseErr := os.Lstat(filepath.Join(configDir(gadgetDir), mouseFunction))
	if kbdErr == nil && mouseErr == nil {
		logger.Debug("gadget already provisioned", "path", gadgetDir)
		return nil
	}

	if err := os.MkdirAll(gadgetDir, 0o755); err != nil {
		return fmt.Errorf("create gadget dir: %w", err)
	}

	attrs := []struct{ name, value string }{
		{"bcdDevice", "0x0100"},
		{"bcdUSB", "0x0200"},
		{"idProduct", "0x0104"},
		{"idVendor", "0x1d6b"},
	}
	for _, a := range attrs {
		if err := writeAttr(logger, gadgetDir, a.name, a.value); err != nil {
			return err
		}
	}

	locale := localePath(gadgetDir)
	if err := os.MkdirAll(locale, 0o755); err != nil {
		return fmt.Errorf("create locale dir: %w", err)
	}
	localeAttrs := []struct{ name, value string }{
		{"manufacturer", "OpenBMC"},
		{"product", "Virtual Keyboard and Mouse"},
		{"serialnumber", "OBMC0001"},
	}
	for _, a := range localeAttrs {
		if err := writeAttr(logger, locale, a.name, a.value); err != nil {
			return err
		}
	}

	kbdDir := keyboardFunctionDir(gadgetDir)
	if err := createHIDFunction(logger, kbdDir, "1", "8", keyboardReportDesc); err != nil {
		return fmt.Errorf("create keyboard function: %w", err)
	}

	mouseDir := mouseFunctionDir(gadgetDir)
	if err := createHIDFunction(logger, mouseDir, "2", "6", mouseReportDesc); err != nil {
		return fmt.Errorf("create mouse function: %w", err)
	}

	cfgDir := configDir(gadgetDir)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	cfgLocale := localePath(cfgDir)
	if err := os.MkdirAll(cfgLocale, 0o755); err != nil {
		return fmt.Errorf("create config locale dir: %w", err)
	}
	if err := writeAttr(logger, cfgDir, "bmAttributes", "0xe0"); err != nil {
		return err
	}
	if err := writeAttr(logger, cfgDir, "MaxPower", "200"); err != nil {
		return err
	}
	if err := writeAttr(logger, cfgLocale, "configuration", ""); err != nil {
		return err
	}

	if err := os.Symlink(kbdDir, filepath.Join(cfgDir, keyboardFunction)); err != nil {
		return fmt.Errorf("link keyboard function: %w", err)
	}
	if err := os.Symlink(mouseDir, filepath.Join(cfgDir, mouseFunction)); err != nil {
		return fmt.Errorf("link mouse function: %w", err)
	}

	return nil
}

func createHIDFunction(logger *slog.Logger, dir, protocol, reportLength string, reportDesc []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	if err := writeAttr(logger, dir, "protocol", protocol); err != nil {
		return err
	}
	if err := writeAttr(logger, dir, "report_length", reportLength); err != nil {
		return err
	}
	if err := writeAttr(logger, dir, "subclass", "1"); err != nil {
		return err
	}
	return writeRawAttr(logger, dir, "report_desc", reportDesc)
}

// Destroy tears down a gadget created by Create, in reverse dependency
// order: symlinks and function directories before the configuration and
// gadget root that reference them.
func Destroy(logger *slog.Logger, gadgetDir string) error {
	cfgDir := configDir(gadgetDir)
	paths := []string{
		filepath.Join(cfgDir, keyboardFunction),
		filepath.Join(cfgDir, mouseFunction),
		keyboardFunctionDir(gadgetDir),
		mouseFunctionDir(gadgetDir),
		localePath(cfgDir),
		cfgDir,
		localePath(gadgetDir),
		gadgetDir,
	}
	var firstErr error
	for _, p := range paths {
		logger.Debug("removing gadget path", "path", p)
		err := os.Remove(p)
		if errors.Is(err, syscall.ENOTEMPTY) {
			err = os.RemoveAll(p)
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return firstErr
}

// FindFreeUDC returns the name of the first USB Device Controller under
// sysfsRoot/class/udc that is not already bound to a gadget. Enumeration
// failures return "", nil (best effort): a missing UDC class directory is
// common on non-gadget-capable hardware and is not itself an error.
func FindFreeUDC(sysfsRoot string) (string, error) {
	udcDir := filepath.Join(sysfsRoot, "class", "udc")
	entries, err := os.ReadDir(udcDir)
	if err != nil {
		return "", nil
	}

	inUse, err := portsInUse(sysfsRoot)
	if err != nil {
		return "", err
	}

	for _, e := range entries {
		if !inUse[e.Name()] {
			return e.Name(), nil
		}
	}
	return "", nil
}

func portsInUse(sysfsRoot string) (map[string]bool, error) {
	gadgetBase := filepath.Join(sysfsRoot, "kernel", "config", "usb_gadget")
	entries, err := os.ReadDir(gadgetBase)
	if err != nil {
		return map[string]bool{}, nil
	}

	inUse := make(map[string]bool, len(entries))
	for _, e := range entries {
		udcPath := filepath.Join(gadgetBase, e.Name(), "UDC")
		data, err := os.ReadFile(udcPath)
		if err != nil {
			continue
		}
		port := string(data)
		for len(port) > 0 && (port[len(port)-1] == '\n' || port[len(port)-1] == ' ') {
			port = port[:len(port)-1]
		}
		if port != "" {
			inUse[port] = true
		}
	}
	return inUse, nil
}
