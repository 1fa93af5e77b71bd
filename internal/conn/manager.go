// Package conn owns the single live transport channel. All sends and
// the inbound chunk stream go through the Manager; no other component
// touches a channel directly.
package conn

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tmaldonado/parquimovil/internal/transport"
)

// ErrNoActiveConnection is returned by Send and Chunks when no channel
// is connected.
var ErrNoActiveConnection = errors.New("conn: no active connection")

// Factory builds the backend channel matching a device's kind.
type Factory func(dev transport.Device) transport.Channel

// DefaultFactory selects BLE or SPP by the device kind, with the given
// transport options applied to BLE channels.
func DefaultFactory(opts transport.Options) Factory {
	return func(dev transport.Device) transport.Channel {
		if dev.Kind == transport.KindClassic {
			return transport.NewSPPChannel(dev)
		}
		return transport.NewBLEChannel(dev, opts)
	}
}

// Manager mediates connect/disconnect/send over whichever backend is
// active. At most one channel is connected at any time.
type Manager struct {
	factory Factory

	// lifecycle serializes Connect/Disconnect end to end; mu alone
	// cannot be held across the blocking channel dial, and two
	// interleaved Connect calls would otherwise each bring a link up.
	lifecycle sync.Mutex

	mu     sync.Mutex
	active transport.Channel
}

func NewManager(factory Factory) *Manager {
	return &Manager{factory: factory}
}

// Connect tears down any active channel first, then builds and
// connects a new one. The old physical link is fully released before
// the new one is attempted. On failure the active slot stays empty and
// the error is returned for the caller to surface.
func (m *Manager) Connect(ctx context.Context, dev transport.Device) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	old := m.active
	m.active = nil
	m.mu.Unlock()

	if old != nil {
		slog.Info("[conn] replacing active channel", "kind", old.Kind())
		old.Disconnect()
	}

	ch := m.factory(dev)
	if err := ch.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.active = ch
	m.mu.Unlock()
	slog.Info("[conn] channel up", "kind", dev.Kind, "address", dev.Address, "name", dev.Name)
	return nil
}

// Send delegates to the active channel.
func (m *Manager) Send(cmd string) error {
	m.mu.Lock()
	ch := m.active
	m.mu.Unlock()
	if ch == nil {
		return ErrNoActiveConnection
	}
	return ch.Send(cmd)
}

// Chunks returns the active channel's inbound stream. The stream
// closes when the link drops or Disconnect runs.
func (m *Manager) Chunks() (<-chan []byte, error) {
	m.mu.Lock()
	ch := m.active
	m.mu.Unlock()
	if ch == nil {
		return nil, ErrNoActiveConnection
	}
	return ch.Chunks(), nil
}

// State reports the active channel's state, or Disconnected when none.
func (m *Manager) State() transport.State {
	m.mu.Lock()
	ch := m.active
	m.mu.Unlock()
	if ch == nil {
		return transport.Disconnected
	}
	return ch.State()
}

// Disconnect releases the active channel. Idempotent; ordered after
// any in-flight Connect so a racing teardown cannot be lost.
func (m *Manager) Disconnect() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	ch := m.active
	m.active = nil
	m.mu.Unlock()
	if ch != nil {
		ch.Disconnect()
	}
}
