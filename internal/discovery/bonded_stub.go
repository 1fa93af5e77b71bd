//go:build !linux

package discovery

import (
	"context"

	"github.com/tmaldonado/parquimovil/internal/transport"
)

// BlueZBonded is Linux-only; elsewhere the bonded list is empty and
// discovery runs on the BLE scan alone.
type BlueZBonded struct{}

func NewBlueZBonded() *BlueZBonded { return &BlueZBonded{} }

var _ BondedLister = (*BlueZBonded)(nil)

func (b *BlueZBonded) Bonded(_ context.Context) ([]transport.Device, error) {
	return nil, nil
}
