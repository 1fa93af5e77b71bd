//go:build linux

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	dbus "github.com/godbus/dbus/v5"
)

// SPPUUID is the Serial Port Profile UUID used for RFCOMM connections.
const SPPUUID = "00001101-0000-1000-8000-00805f9b34fb"

const (
	bluezService        = "org.bluez"
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
	deviceIface         = "org.bluez.Device1"
)

var profileCounter uint64

// sppProfile implements org.bluez.Profile1 and forwards the RFCOMM
// socket FD BlueZ hands us on NewConnection.
type sppProfile struct {
	fdCh chan int
}

func (p *sppProfile) Release() *dbus.Error { return nil }

func (p *sppProfile) Cancel() *dbus.Error { return nil }

func (p *sppProfile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

func (p *sppProfile) NewConnection(_ dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	select {
	case p.fdCh <- int(fd):
		return nil
	default:
		// No waiter; close the FD so BlueZ does not leak it on us.
		_ = os.NewFile(uintptr(fd), "rfcomm").Close()
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []any{"no receiver"}}
	}
}

// SPPChannel talks to the controller over a classic RFCOMM socket
// obtained through BlueZ's Profile1 client role.
type SPPChannel struct {
	device Device

	mu      sync.Mutex
	state   State
	file    *os.File
	chunks  chan []byte
	done    chan struct{} // closed first on Disconnect; gates chunk delivery
	cleanup []func()
}

// NewSPPChannel creates a channel for an already-bonded classic device.
func NewSPPChannel(device Device) *SPPChannel {
	return &SPPChannel{device: device}
}

var _ Channel = (*SPPChannel)(nil)

func (c *SPPChannel) Kind() Kind { return KindClassic }

func (c *SPPChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect registers a client-role SPP profile, asks the device to
// connect it, and waits for BlueZ to deliver the socket FD.
func (c *SPPChannel) Connect(ctx context.Context) error {
	if c.device.objectPath == "" {
		return c.fail(fmt.Errorf("%w: %s: no bluez object path", ErrConnectFailed, c.device.Address))
	}

	c.mu.Lock()
	c.state = Connecting
	c.mu.Unlock()

	// The system bus connection is shared process-wide; it is never
	// closed here, only our profile registration is undone.
	bus, err := dbus.SystemBus()
	if err != nil {
		return c.failf("%w: system bus: %v", ErrConnectFailed, err)
	}

	prof := &sppProfile{fdCh: make(chan int, 1)}
	id := atomic.AddUint64(&profileCounter, 1)
	path := dbus.ObjectPath("/com/parquimovil/spp/p" + strconv.FormatUint(id, 10))
	if err := bus.Export(prof, path, profileIface); err != nil {
		return c.failf("%w: export profile: %v", ErrConnectFailed, err)
	}

	pm := bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	opts := map[string]dbus.Variant{"Role": dbus.MakeVariant("client")}
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, path, SPPUUID, opts); call.Err != nil {
		_ = bus.Export(nil, path, profileIface)
		return c.failf("%w: register profile: %v", ErrConnectFailed, call.Err)
	}
	unregister := func() {
		_ = pm.Call(profileManagerIface+".UnregisterProfile", 0, path).Err
		_ = bus.Export(nil, path, profileIface)
	}

	devObj := bus.Object(bluezService, dbus.ObjectPath(c.device.objectPath))
	if call := devObj.Call(deviceIface+".ConnectProfile", 0, SPPUUID); call.Err != nil {
		unregister()
		return c.failf("%w: %s: %v", ErrConnectFailed, c.device.Address, call.Err)
	}

	select {
	case <-ctx.Done():
		unregister()
		return c.failf("%w: %s", ErrConnectTimeout, c.device.Address)
	case fd := <-prof.fdCh:
		file := os.NewFile(uintptr(fd), "rfcomm")
		chunks := make(chan []byte, 16)
		done := make(chan struct{})

		c.mu.Lock()
		c.file = file
		c.chunks = chunks
		c.done = done
		c.cleanup = []func(){unregister}
		c.state = Connected
		c.mu.Unlock()

		go c.readLoop(file, chunks, done)
		slog.Info("[spp] connected", "address", c.device.Address)
		return nil
	}
}

// readLoop pumps socket reads onto the chunk stream. It owns closing
// the stream: on read error or teardown it stops forwarding first,
// then closes the channel, so no chunk follows a disconnect.
func (c *SPPChannel) readLoop(file *os.File, chunks chan []byte, done chan struct{}) {
	defer close(chunks)
	buf := make([]byte, 256)
	for {
		n, err := file.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case <-done:
				return
			case chunks <- cp:
			}
		}
		if err != nil {
			select {
			case <-done:
				// Teardown in progress; the closing-socket error is
				// expected, not stream data.
			default:
				slog.Warn("[spp] link dropped", "address", c.device.Address, "error", err)
				c.teardown()
			}
			return
		}
	}
}

// Send writes the framed command to the RFCOMM socket. The kernel has
// accepted the bytes when Write returns.
func (c *SPPChannel) Send(cmd string) error {
	c.mu.Lock()
	file := c.file
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected || file == nil {
		return ErrNotConnected
	}
	if _, err := file.Write(frame(cmd)); err != nil {
		return fmt.Errorf("%w: write %q: %v", ErrSendFailed, cmd, err)
	}
	return nil
}

func (c *SPPChannel) Chunks() <-chan []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunks
}

// Disconnect cancels chunk delivery, closes the socket and unregisters
// the profile. Idempotent; errors are logged, never returned.
func (c *SPPChannel) Disconnect() {
	c.teardown()
}

func (c *SPPChannel) teardown() {
	c.mu.Lock()
	if c.state == Disconnected {
		c.mu.Unlock()
		return
	}
	c.state = Disconnected
	file, done, cleanup := c.file, c.done, c.cleanup
	c.file, c.chunks, c.done, c.cleanup = nil, nil, nil, nil
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	if file != nil {
		if err := file.Close(); err != nil {
			slog.Warn("[spp] teardown", "error", err)
		}
	}
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
}

func (c *SPPChannel) fail(err error) error {
	c.mu.Lock()
	c.state = Failed
	c.mu.Unlock()
	return err
}

func (c *SPPChannel) failf(format string, args ...any) error {
	return c.fail(fmt.Errorf(format, args...))
}
