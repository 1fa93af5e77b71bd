// Package discovery merges two enumeration sources — an active BLE
// advertisement scan and the OS's bonded classic-device list — into a
// single catalog keyed by transport address.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tmaldonado/parquimovil/internal/transport"
)

// Radio is the active BLE scan capability. Scan blocks until ctx is
// done or the scan fails, invoking found for every advertisement.
type Radio interface {
	Scan(ctx context.Context, found func(transport.Device)) error
	Stop()
}

// BondedLister enumerates classic devices already paired at the OS
// level. No radio scan is performed for classic devices.
type BondedLister interface {
	Bonded(ctx context.Context) ([]transport.Device, error)
}

// ErrScanActive is returned when Scan is called while a previous scan
// is still running.
var ErrScanActive = errors.New("discovery: scan already running")

// Discovery owns one scan at a time.
type Discovery struct {
	radio   Radio
	bonded  BondedLister
	timeout time.Duration

	mu       sync.Mutex
	scanning bool
	cancel   context.CancelFunc
}

// New builds a Discovery over the given sources. timeout bounds the
// BLE radio scan; zero means the 10s default.
func New(radio Radio, bonded BondedLister, timeout time.Duration) *Discovery {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Discovery{radio: radio, bonded: bonded, timeout: timeout}
}

// Scan runs both sources and streams the de-duplicated catalog. The
// channel closes when the bonded query has returned and the radio scan
// has timed out or been stopped. Duplicate addresses keep the
// first-seen entry regardless of which source reported second; entries
// with an empty name are skipped on both paths.
func (d *Discovery) Scan(ctx context.Context) (<-chan transport.Device, error) {
	d.mu.Lock()
	if d.scanning {
		d.mu.Unlock()
		return nil, ErrScanActive
	}
	scanCtx, cancel := context.WithTimeout(ctx, d.timeout)
	d.scanning = true
	d.cancel = cancel
	d.mu.Unlock()

	out := make(chan transport.Device, 8)

	var catalogMu sync.Mutex
	seen := make(map[string]bool)
	emit := func(dev transport.Device) {
		if dev.Name == "" || dev.Address == "" {
			return
		}
		catalogMu.Lock()
		defer catalogMu.Unlock()
		if seen[dev.Address] {
			return
		}
		seen[dev.Address] = true
		select {
		case out <- dev:
		case <-scanCtx.Done():
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		devs, err := d.bonded.Bonded(scanCtx)
		if err != nil {
			slog.Warn("[discovery] bonded device query failed", "error", err)
			return
		}
		for _, dev := range devs {
			emit(dev)
		}
	}()

	go func() {
		defer wg.Done()
		if err := d.radio.Scan(scanCtx, emit); err != nil {
			slog.Warn("[discovery] ble scan failed", "error", err)
		}
	}()

	go func() {
		wg.Wait()
		cancel()
		close(out)
		d.mu.Lock()
		d.scanning = false
		d.cancel = nil
		d.mu.Unlock()
	}()

	return out, nil
}

// Stop cancels the radio scan. Safe to call with no scan active; never
// touches an established connection.
func (d *Discovery) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.radio.Stop()
}
