package hidgadget

import (
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateWritesExpectedLayout(t *testing.T) {
	root := t.TempDir()
	gadgetDir := filepath.Join(root, "g1")
	logger := discardLogger()

	if err := Create(logger, gadgetDir); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	checkFile := func(rel, want string) {
		t.Helper()
		got, err := os.ReadFile(filepath.Join(gadgetDir, rel))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		if string(got) != want+"\n" {
			t.Errorf("%s = %q, want %q", rel, got, want+"\n")
		}
	}

	checkFile("idVendor", "0x1d6b")
	checkFile("idProduct", "0x0104")
	checkFile("strings/0x409/manufacturer", "OpenBMC")
	checkFile("functions/hid.0/protocol", "1")
	checkFile("functions/hid.0/report_length", "8")
	checkFile("functions/hid.1/protocol", "2")
	checkFile("functions/hid.1/report_length", "6")
	checkFile("configs/c.1/bmAttributes", "0xe0")

	desc, err := os.ReadFile(filepath.Join(gadgetDir, "functions/hid.0/report_desc"))
	if err != nil {
		t.Fatalf("read keyboard report_desc: %v", err)
	}
	if len(desc) != 63 {
		t.Errorf("keyboard report_desc length = %d, want 63", len(desc))
	}

	mouseDesc, err := os.ReadFile(filepath.Join(gadgetDir, "functions/hid.1/report_desc"))
	if err != nil {
		t.Fatalf("read mouse report_desc: %v", err)
	}
	if len(mouseDesc) != 76 {
		t.Errorf("mouse report_desc length = %d, want 76", len(mouseDesc))
	}

	for _, link := range []string{"configs/c.1/hid.0", "configs/c.1/hid.1"} {
		info, err := os.Lstat(filepath.Join(gadgetDir, link))
		if err != nil {
			t.Fatalf("lstat %s: %v", link, err)
		}
		if info.Mode()&fs.ModeSymlink == 0 {
			t.Errorf("%s is not a symlink", link)
		}
	}
}

func TestDestroyRemovesGadgetTree(t *testing.T) {
	root := t.TempDir()
	gadgetDir := filepath.Join(root, "g1")
	logger := discardLogger()

	if err := Create(logger, gadgetDir); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := Destroy(logger, gadgetDir); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if _, err := os.Stat(gadgetDir); !os.IsNotExist(err) {
		t.Errorf("expected gadget dir removed, stat err = %v", err)
	}
}

func TestFindFreeUDCSkipsBoundControllers(t *testing.T) {
	root := t.TempDir()
	udcDir := filepath.Join(root, "class", "udc")
	if err := os.MkdirAll(udcDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.dwc2", "b.dwc2"} {
		if err := os.WriteFile(filepath.Join(udcDir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	gadgetBase := filepath.Join(root, "kernel", "config", "usb_gadget", "existing")
	if err := os.MkdirAll(gadgetBase, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gadgetBase, "UDC"), []byte("a.dwc2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := FindFreeUDC(root)
	if err != nil {
		t.Fatalf("FindFreeUDC failed: %v", err)
	}
	if got != "b.dwc2" {
		t.Errorf("FindFreeUDC = %q, want b.dwc2", got)
	}
}
