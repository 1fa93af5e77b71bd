// Package transport abstracts the two Bluetooth links to the coin
// controller — BLE UART emulation and classic Serial Port Profile —
// behind a single channel capability. Business logic depends only on
// Channel and never on a backend type.
package transport

import (
	"context"
	"errors"
	"time"
)

// Kind tags which Bluetooth technology backs a device or channel.
type Kind int

const (
	KindBLE Kind = iota
	KindClassic
)

func (k Kind) String() string {
	switch k {
	case KindBLE:
		return "ble"
	case KindClassic:
		return "classic"
	default:
		return "unknown"
	}
}

// State is the connection lifecycle of a channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Device identifies a discovered controller. Address is the dedup key
// within a discovery pass; Name may be an empty placeholder.
type Device struct {
	Name    string
	Address string
	Kind    Kind

	// objectPath is the BlueZ D-Bus path for classic devices. Opaque
	// to everything outside this package.
	objectPath string
}

// NewBLEDevice describes a peripheral seen in a BLE advertisement scan.
func NewBLEDevice(name, address string) Device {
	return Device{Name: name, Address: address, Kind: KindBLE}
}

// NewClassicDevice describes a bonded classic device by its BlueZ
// object path.
func NewClassicDevice(name, address, objectPath string) Device {
	return Device{Name: name, Address: address, Kind: KindClassic, objectPath: objectPath}
}

// Sentinel errors for the channel lifecycle. Backends wrap these with
// per-attempt detail so callers can classify with errors.Is.
var (
	ErrNotConnected           = errors.New("transport: not connected")
	ErrConnectTimeout         = errors.New("transport: connect timeout")
	ErrConnectFailed          = errors.New("transport: connect failed")
	ErrCharacteristicNotFound = errors.New("transport: uart characteristic not found")
	ErrSendFailed             = errors.New("transport: send failed")
)

// lineTerminator is appended to every outgoing command. Both backends
// use the same framing so the controller firmware is transport-agnostic.
const lineTerminator = "\r\n"

// frame converts a command into the bytes placed on the wire.
func frame(cmd string) []byte {
	return []byte(cmd + lineTerminator)
}

// Channel is the capability both backends implement.
//
// Connect blocks until the link is up or fails; the bound is the
// context deadline plus the backend's own connect timeout. Disconnect
// cancels the inbound subscription before tearing down the link, is
// idempotent, and never returns an error. Send appends the line
// terminator and returns once the write is handed to the transport
// layer. Chunks delivers raw inbound byte chunks and is closed when
// the link drops or Disconnect runs; a closed stream is an implicit
// disconnect. No chunk is delivered after Disconnect begins.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect()
	Send(cmd string) error
	Chunks() <-chan []byte
	Kind() Kind
	State() State
}

// Options tunes how a channel locates and reaches the controller.
type Options struct {
	// ServiceHint and CharacteristicHint are case-insensitive
	// substrings matched against discovered BLE UUIDs. Vendor modules
	// ship UUID variants around the ffe0/ffe1 UART convention, so an
	// exact match would reject working hardware.
	ServiceHint        string
	CharacteristicHint string
	ConnectTimeout     time.Duration
}

// withDefaults fills unset options with the values the common HM-10
// style UART modules use.
func (o Options) withDefaults() Options {
	if o.ServiceHint == "" {
		o.ServiceHint = "ffe0"
	}
	if o.CharacteristicHint == "" {
		o.CharacteristicHint = "ffe1"
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 15 * time.Second
	}
	return o
}
