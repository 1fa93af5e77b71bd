package transport

import (
	"testing"
	"time"
)

func TestFrameAppendsTerminator(t *testing.T) {
	got := string(frame("9"))
	if got != "9\r\n" {
		t.Errorf("frame(\"9\") = %q, want %q", got, "9\r\n")
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	if opts.ServiceHint != "ffe0" || opts.CharacteristicHint != "ffe1" {
		t.Errorf("hints = %q/%q, want ffe0/ffe1", opts.ServiceHint, opts.CharacteristicHint)
	}
	if opts.ConnectTimeout != 15*time.Second {
		t.Errorf("ConnectTimeout = %v, want 15s", opts.ConnectTimeout)
	}
}

func TestOptionsKeepsExplicitValues(t *testing.T) {
	opts := Options{ServiceHint: "FFE5", CharacteristicHint: "FFE9", ConnectTimeout: time.Second}.withDefaults()
	if opts.ServiceHint != "FFE5" || opts.CharacteristicHint != "FFE9" || opts.ConnectTimeout != time.Second {
		t.Errorf("withDefaults() overwrote explicit values: %+v", opts)
	}
}

func TestDeviceConstructors(t *testing.T) {
	ble := NewBLEDevice("PIC", "AA:BB:CC:DD:EE:FF")
	if ble.Kind != KindBLE || ble.objectPath != "" {
		t.Errorf("NewBLEDevice() = %+v, want KindBLE with no object path", ble)
	}
	classic := NewClassicDevice("PIC", "AA:BB:CC:DD:EE:FF", "/org/bluez/hci0/dev_AA")
	if classic.Kind != KindClassic || classic.objectPath != "/org/bluez/hci0/dev_AA" {
		t.Errorf("NewClassicDevice() = %+v, want KindClassic with object path", classic)
	}
}

func TestKindString(t *testing.T) {
	if KindBLE.String() != "ble" || KindClassic.String() != "classic" {
		t.Errorf("Kind strings = %q/%q, want ble/classic", KindBLE, KindClassic)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Connected:    "connected",
		Failed:       "failed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
