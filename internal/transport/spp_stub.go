//go:build !linux

package transport

import (
	"context"
	"fmt"
)

// SPPChannel requires BlueZ and is only available on Linux.
type SPPChannel struct {
	device Device
}

func NewSPPChannel(device Device) *SPPChannel {
	return &SPPChannel{device: device}
}

var _ Channel = (*SPPChannel)(nil)

func (c *SPPChannel) Kind() Kind { return KindClassic }

func (c *SPPChannel) State() State { return Disconnected }

func (c *SPPChannel) Connect(_ context.Context) error {
	return fmt.Errorf("%w: classic bluetooth is unsupported on this platform", ErrConnectFailed)
}

func (c *SPPChannel) Disconnect() {}

func (c *SPPChannel) Send(_ string) error { return ErrNotConnected }

func (c *SPPChannel) Chunks() <-chan []byte { return nil }
