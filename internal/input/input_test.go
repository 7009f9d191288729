package input

import (
	"testing"

	"github.com/openbmc/ikvmd/internal/events"
	"github.com/openbmc/ikvmd/internal/scancode"
)

func newTestInput() *Input {
	return New(Options{}, events.New())
}

func TestKeyEventPlacesScancodeInFirstFreeSlot(t *testing.T) {
	in := newTestInput()

	in.applyKeyLocked(true, 'a')
	if in.kbdReport[2] == 0 {
		t.Fatalf("expected scancode written to slot 2, report = %v", in.kbdReport)
	}

	in.applyKeyLocked(true, 'b')
	if in.kbdReport[3] == 0 {
		t.Fatalf("expected second scancode in slot 3, report = %v", in.kbdReport)
	}
}

func TestKeyEventReleaseClearsSlot(t *testing.T) {
	in := newTestInput()
	in.applyKeyLocked(true, 'a')
	slot := in.keySlots['a']

	in.applyKeyLocked(false, 'a')
	if in.kbdReport[slot] != 0 {
		t.Fatalf("expected slot %d cleared, got %#x", slot, in.kbdReport[slot])
	}
	if _, ok := in.keySlots['a']; ok {
		t.Fatal("expected key removed from slot map")
	}
}

func TestModifierDownCountPreventsStuckBit(t *testing.T) {
	in := newTestInput()

	in.applyKeyLocked(true, scancode.KeyShiftL)
	in.applyKeyLocked(true, scancode.KeyShiftL)
	if in.kbdReport[0]&0x02 == 0 {
		t.Fatal("expected shift bit set after two downs")
	}

	in.applyKeyLocked(false, scancode.KeyShiftL)
	if in.kbdReport[0]&0x02 == 0 {
		t.Fatal("shift bit cleared too early after only one release")
	}

	in.applyKeyLocked(false, scancode.KeyShiftL)
	if in.kbdReport[0]&0x02 != 0 {
		t.Fatal("expected shift bit cleared once down-count reaches zero")
	}
}

func TestPointerEventButtonRemap(t *testing.T) {
	tests := []struct {
		rfbMask  byte
		hidMask  byte
	}{
		{1, 0x01}, // left
		{2, 0x04}, // middle
		{4, 0x02}, // right
		{7, 0x07}, // all three
	}
	for _, tt := range tests {
		got := ((tt.rfbMask & 4) >> 1) | ((tt.rfbMask & 2) << 1) | (tt.rfbMask & 1)
		if got != tt.hidMask {
			t.Errorf("remap(%#x) = %#x, want %#x", tt.rfbMask, got, tt.hidMask)
		}
	}
}

func TestScaleCoordinate(t *testing.T) {
	if got := scaleCoordinate(0, 1920); got != 0 {
		t.Errorf("scaleCoordinate(0, 1920) = %d, want 0", got)
	}
	if got := scaleCoordinate(1920, 1920); got != 32768 {
		t.Errorf("scaleCoordinate(max, 1920) = %d, want 32768", got)
	}
	if got := scaleCoordinate(5, 0); got != 0 {
		t.Errorf("scaleCoordinate with zero dimension = %d, want 0", got)
	}
}
