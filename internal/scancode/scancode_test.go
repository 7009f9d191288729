package scancode

import "testing"

func TestScancodeLetters(t *testing.T) {
	tests := []struct {
		key  Keysym
		want byte
	}{
		{'a', 0x04},
		{'A', 0x04},
		{'z', 0x1d},
		{'Z', 0x1d},
	}
	for _, tt := range tests {
		if got := Scancode(tt.key); got != tt.want {
			t.Errorf("Scancode(%v) = 0x%02x, want 0x%02x", tt.key, got, tt.want)
		}
	}
}

func TestScancodeDigitsAndShiftedPunctuation(t *testing.T) {
	tests := []struct {
		key  Keysym
		want byte
	}{
		{'1', usbHIDKey1},
		{'9', usbHIDKey1 + 8},
		{Key0, usbHIDKey0},
		{KeyParenRight, usbHIDKey0},
		{KeyExclam, usbHIDKey1},
		{KeyAt, usbHIDKey1 + 1},
		{KeyParenLeft, usbHIDKey1 + 8},
	}
	for _, tt := range tests {
		if got := Scancode(tt.key); got != tt.want {
			t.Errorf("Scancode(%v) = 0x%02x, want 0x%02x", tt.key, got, tt.want)
		}
	}
}

func TestScancodeFunctionKeysAndKeypadAliases(t *testing.T) {
	if got := Scancode(KeyF1); got != usbHIDKeyF1 {
		t.Errorf("Scancode(F1) = 0x%02x, want 0x%02x", got, usbHIDKeyF1)
	}
	if got := Scancode(KeyF12); got != usbHIDKeyF1+11 {
		t.Errorf("Scancode(F12) = 0x%02x, want 0x%02x", got, usbHIDKeyF1+11)
	}
	if got := Scancode(KeyKPF2); got != usbHIDKeyF1+1 {
		t.Errorf("Scancode(KPF2) = 0x%02x, want F2 scancode", got)
	}
	if got := Scancode(KeyKP5); got != usbHIDKeyKP1+4 {
		t.Errorf("Scancode(KP5) = 0x%02x, want 0x%02x", got, usbHIDKeyKP1+4)
	}
	if got := Scancode(KeyKPDelete); got != usbHIDKeyDelete {
		t.Errorf("Scancode(KP_Delete) = 0x%02x, want alias to Delete 0x%02x", got, usbHIDKeyDelete)
	}
}

func TestScancodeUnknownDropsToZero(t *testing.T) {
	if got := Scancode(Keysym(0x12345678)); got != 0 {
		t.Errorf("Scancode(unknown) = 0x%02x, want 0", got)
	}
}

func TestModifierBits(t *testing.T) {
	tests := []struct {
		key  Keysym
		want byte
	}{
		{KeyShiftL, 0x02},
		{KeyShiftR, 0x20},
		{KeyControlL, 0x01},
		{KeyControlR, 0x10},
		{KeyMetaL, 0x08},
		{KeyMetaR, 0x80},
		{KeyAltL, 0x04},
		{KeyAltR, 0x40},
	}
	for _, tt := range tests {
		if got := Modifier(tt.key); got != tt.want {
			t.Errorf("Modifier(%v) = 0x%02x, want 0x%02x", tt.key, got, tt.want)
		}
	}

	if got := Modifier('a'); got != 0 {
		t.Errorf("Modifier('a') = 0x%02x, want 0 (not a modifier)", got)
	}
}
