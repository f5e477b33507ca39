// Package ble discovers peripherals that expose a Nordic DFU service, so a
// caller can pick the device address to hand to the DFU coordinator.
package ble

import "context"

// Nordic DFU service UUIDs
const (
	SecureDFUServiceUUID = "0000fe59-0000-1000-8000-00805f9b34fb"
	LegacyDFUServiceUUID = "00001530-1212-efde-1523-785feabcd123"
)

// DFUServices lists the services ScanForDevices looks for.
var DFUServices = []string{SecureDFUServiceUUID, LegacyDFUServiceUUID}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name string
	// Address is a MAC address on Linux and Windows, and a CoreBluetooth
	// peripheral UUID on macOS.
	Address string
	RSSI    int
	// Service is the DFU service UUID the device advertised.
	Service string
}

// Legacy reports whether the device advertised the legacy DFU service.
func (d Device) Legacy() bool {
	return d.Service == LegacyDFUServiceUUID
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals advertising any of the given service
	// UUIDs. Returns discovered devices once ctx is done.
	Scan(ctx context.Context, serviceUUIDs []string) ([]Device, error)
}
