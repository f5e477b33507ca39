package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// ScanForDevices scans for peripherals advertising a DFU service, strongest
// signal first.
func ScanForDevices(adapter Adapter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, DFUServices)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].RSSI > devices[j].RSSI
	})
	slog.Debug("[BLE] scan finished", "found", len(devices), "timeout", timeout)
	return devices, nil
}

// FindDevice scans until a device with the given address or advertised name
// shows up or the timeout passes.
func FindDevice(adapter Adapter, nameOrAddress string, timeout time.Duration) (Device, error) {
	devices, err := ScanForDevices(adapter, timeout)
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if d.Address == nameOrAddress || d.Name == nameOrAddress {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("ble: no DFU device %q found within %s", nameOrAddress, timeout)
}
