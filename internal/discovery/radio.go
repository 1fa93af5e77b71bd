package discovery

import (
	"context"
	"log/slog"

	"tinygo.org/x/bluetooth"

	"github.com/tmaldonado/parquimovil/internal/transport"
)

// BLERadio adapts the platform BLE adapter to the Radio interface.
type BLERadio struct {
	adapter *bluetooth.Adapter
}

// NewBLERadio returns a Radio over the default adapter.
func NewBLERadio() *BLERadio {
	return &BLERadio{adapter: bluetooth.DefaultAdapter}
}

var _ Radio = (*BLERadio)(nil)

// Scan runs the radio scan until ctx is done. Advertisements without a
// local name are not reported; the catalog keeps its own dedup, so
// every sighting is forwarded.
func (r *BLERadio) Scan(ctx context.Context, found func(transport.Device)) error {
	if err := r.adapter.Enable(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := r.adapter.StopScan(); err != nil {
				slog.Debug("[discovery] stop scan", "error", err)
			}
		case <-done:
		}
	}()

	err := r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if name == "" {
			return
		}
		found(transport.NewBLEDevice(name, result.Address.String()))
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Stop cancels a running scan. Safe with no scan active.
func (r *BLERadio) Stop() {
	if err := r.adapter.StopScan(); err != nil {
		slog.Debug("[discovery] stop scan", "error", err)
	}
}
