//go:build linux

package discovery

import (
	"context"
	"fmt"

	dbus "github.com/godbus/dbus/v5"

	"github.com/tmaldonado/parquimovil/internal/transport"
)

const (
	bluezService    = "org.bluez"
	deviceIface     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
)

// BlueZBonded lists already-paired classic devices from the BlueZ
// object tree.
type BlueZBonded struct{}

func NewBlueZBonded() *BlueZBonded { return &BlueZBonded{} }

var _ BondedLister = (*BlueZBonded)(nil)

// Bonded walks GetManagedObjects for paired devices. Entries without a
// resolvable name or alias are skipped.
func (b *BlueZBonded) Bonded(_ context.Context) ([]transport.Device, error) {
	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("discovery: system bus: %w", err)
	}

	obj := bus.Object(bluezService, dbus.ObjectPath("/"))
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := obj.Call(objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("discovery: GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("discovery: decode GetManagedObjects: %w", err)
	}

	var out []transport.Device
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if paired, _ := variantBool(props, "Paired"); !paired {
			continue
		}
		name, _ := variantString(props, "Name")
		if name == "" {
			name, _ = variantString(props, "Alias")
		}
		if name == "" {
			continue
		}
		addr, _ := variantString(props, "Address")
		if addr == "" {
			continue
		}
		out = append(out, transport.NewClassicDevice(name, addr, string(path)))
	}
	return out, nil
}

func variantBool(props map[string]dbus.Variant, key string) (bool, bool) {
	v, ok := props[key]
	if !ok {
		return false, false
	}
	b, ok := v.Value().(bool)
	return b, ok
}

func variantString(props map[string]dbus.Variant, key string) (string, bool) {
	v, ok := props[key]
	if !ok {
		return "", false
	}
	s, ok := v.Value().(string)
	return s, ok
}
