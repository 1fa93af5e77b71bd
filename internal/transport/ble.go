package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// BLEChannel talks to the controller through a UART-emulation GATT
// characteristic. The service and characteristic are located by UUID
// substring so vendor variants of the ffe0/ffe1 modules still match.
type BLEChannel struct {
	adapter *bluetooth.Adapter
	device  Device
	opts    Options

	mu     sync.Mutex
	state  State
	dev    *bluetooth.Device
	uart   *bluetooth.DeviceCharacteristic
	chunks chan []byte
	closed bool // chunk delivery stopped; set before chunks is closed
}

// NewBLEChannel creates a channel for a device found by the BLE scan.
// The channel uses the platform default adapter.
func NewBLEChannel(device Device, opts Options) *BLEChannel {
	return &BLEChannel{
		adapter: bluetooth.DefaultAdapter,
		device:  device,
		opts:    opts.withDefaults(),
	}
}

var _ Channel = (*BLEChannel)(nil)

func (c *BLEChannel) Kind() Kind { return KindBLE }

func (c *BLEChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the physical link, locates the UART characteristic and
// enables notifications on it. Bounded by the configured timeout.
func (c *BLEChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.state = Connecting
	c.mu.Unlock()

	if err := c.adapter.Enable(); err != nil {
		return c.failf("%w: enable adapter: %v", ErrConnectFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	dev, err := c.dial(ctx)
	if err != nil {
		return err
	}

	uart, err := c.locateUART(dev)
	if err != nil {
		if derr := dev.Disconnect(); derr != nil {
			slog.Debug("[ble] teardown after failed discovery", "error", derr)
		}
		return c.fail(err)
	}

	chunks := make(chan []byte, 16)
	if err := uart.EnableNotifications(c.onNotify(chunks)); err != nil {
		if derr := dev.Disconnect(); derr != nil {
			slog.Debug("[ble] teardown after failed subscribe", "error", derr)
		}
		return c.failf("%w: enable notifications: %v", ErrConnectFailed, err)
	}

	// The adapter-level handler reports the implicit disconnect when
	// the peripheral drops the link on its own.
	c.adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
		if connected {
			return
		}
		if !strings.EqualFold(d.Address.String(), c.device.Address) {
			return
		}
		slog.Warn("[ble] link dropped", "address", c.device.Address)
		c.Disconnect()
	})

	c.mu.Lock()
	c.dev = dev
	c.uart = uart
	c.chunks = chunks
	c.closed = false
	c.state = Connected
	c.mu.Unlock()

	slog.Info("[ble] connected", "address", c.device.Address)
	return nil
}

// dial races the adapter connect against the context deadline. The
// underlying Connect cannot be aborted from here; on timeout the
// goroutine is left to finish and its result discarded.
func (c *BLEChannel) dial(ctx context.Context) (*bluetooth.Device, error) {
	var addr bluetooth.Address
	addr.Set(c.device.Address)

	type result struct {
		dev bluetooth.Device
		err error
	}
	ch := make(chan result, 1)
	go func() {
		dev, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- result{dev, err}
	}()

	select {
	case <-ctx.Done():
		return nil, c.failf("%w: %s", ErrConnectTimeout, c.device.Address)
	case res := <-ch:
		if res.err != nil {
			return nil, c.failf("%w: %s: %v", ErrConnectFailed, c.device.Address, res.err)
		}
		return &res.dev, nil
	}
}

// locateUART walks every advertised service for the configured UUID
// hints and returns the first matching characteristic.
func (c *BLEChannel) locateUART(dev *bluetooth.Device) (*bluetooth.DeviceCharacteristic, error) {
	svcs, err := dev.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: discover services: %v", ErrConnectFailed, err)
	}

	svcHint := strings.ToLower(c.opts.ServiceHint)
	charHint := strings.ToLower(c.opts.CharacteristicHint)
	for _, svc := range svcs {
		if !strings.Contains(strings.ToLower(svc.UUID().String()), svcHint) {
			continue
		}
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: discover characteristics: %v", ErrConnectFailed, err)
		}
		for i := range chars {
			if strings.Contains(strings.ToLower(chars[i].UUID().String()), charHint) {
				return &chars[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no uuid matching %q/%q on %s",
		ErrCharacteristicNotFound, c.opts.ServiceHint, c.opts.CharacteristicHint, c.device.Address)
}

// onNotify forwards notification payloads onto the chunk stream. The
// closed flag is checked under the lock so a notification racing
// Disconnect can never reach a consumer mid-teardown. Delivery is
// non-blocking; a stalled consumer drops the chunk rather than wedging
// the Bluetooth stack's callback thread.
func (c *BLEChannel) onNotify(chunks chan []byte) func([]byte) {
	return func(buf []byte) {
		cp := make([]byte, len(buf))
		copy(cp, buf)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || c.chunks != chunks {
			return
		}
		select {
		case chunks <- cp:
		default:
			slog.Warn("[ble] chunk dropped, consumer stalled", "len", len(cp))
		}
	}
}

// Send writes the framed command to the UART characteristic. The write
// is flushed to the Bluetooth stack when the call returns.
func (c *BLEChannel) Send(cmd string) error {
	c.mu.Lock()
	uart := c.uart
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected || uart == nil {
		return ErrNotConnected
	}
	if _, err := uart.WriteWithoutResponse(frame(cmd)); err != nil {
		return fmt.Errorf("%w: write %q: %v", ErrSendFailed, cmd, err)
	}
	return nil
}

func (c *BLEChannel) Chunks() <-chan []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunks
}

// Disconnect stops notification delivery, then drops the link, then
// closes the chunk stream. Idempotent; teardown errors are logged and
// swallowed so a broken link never blocks the caller.
func (c *BLEChannel) Disconnect() {
	c.mu.Lock()
	if c.state == Disconnected {
		c.mu.Unlock()
		return
	}
	c.state = Disconnected
	c.closed = true
	uart, dev, chunks := c.uart, c.dev, c.chunks
	c.uart, c.dev, c.chunks = nil, nil, nil
	c.mu.Unlock()

	if uart != nil {
		if err := uart.EnableNotifications(nil); err != nil {
			slog.Debug("[ble] disable notifications", "error", err)
		}
	}
	if dev != nil {
		if err := dev.Disconnect(); err != nil {
			slog.Warn("[ble] teardown", "error", err)
		}
	}
	if chunks != nil {
		close(chunks)
	}
}

// fail records the Failed state and returns err unchanged.
func (c *BLEChannel) fail(err error) error {
	c.mu.Lock()
	c.state = Failed
	c.mu.Unlock()
	return err
}

func (c *BLEChannel) failf(format string, args ...any) error {
	return c.fail(fmt.Errorf(format, args...))
}
