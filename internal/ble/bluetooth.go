package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// HostAdapter wraps tinygo-org/bluetooth. On macOS, device addresses are
// CoreBluetooth UUIDs (not MAC addresses), which is also what the iOS DFU
// engine expects as a peripheral identifier.
type HostAdapter struct {
	adapter *bluetooth.Adapter
}

// NewHostAdapter creates a BLE adapter on the default host radio.
func NewHostAdapter() *HostAdapter {
	return &HostAdapter{adapter: bluetooth.DefaultAdapter}
}

// Compile-time check that HostAdapter implements Adapter.
var _ Adapter = (*HostAdapter)(nil)

func (a *HostAdapter) Enable() error {
	return a.adapter.Enable()
}

func (a *HostAdapter) Scan(ctx context.Context, serviceUUIDs []string) ([]Device, error) {
	uuids := make([]bluetooth.UUID, 0, len(serviceUUIDs))
	for _, s := range serviceUUIDs {
		uuid, err := bluetooth.ParseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("ble: parse service UUID %q: %w", s, err)
		}
		uuids = append(uuids, uuid)
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		service := ""
		for i, uuid := range uuids {
			if result.HasServiceUUID(uuid) {
				service = serviceUUIDs[i]
				break
			}
		}
		if service == "" {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		devices = append(devices, Device{
			Name:    result.LocalName(),
			Address: addr,
			RSSI:    int(result.RSSI),
			Service: service,
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return devices, nil
}
