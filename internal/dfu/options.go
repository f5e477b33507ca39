package dfu

import (
	"math"
	"time"
)

// Optional holds a value that may be absent. The zero Optional is absent,
// which keeps "unset" distinct from a present zero value.
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// None returns an absent Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// FromPtr converts a nil-able pointer (as produced by YAML or JSON decoding)
// into an Optional.
func FromPtr[T any](p *T) Optional[T] {
	if p == nil {
		return Optional[T]{}
	}
	return Some(*p)
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether a value is present.
func (o Optional[T]) IsSet() bool {
	return o.set
}

// TransferOptions are the platform-agnostic transfer tunables.
type TransferOptions struct {
	// DisableResume forbids resuming an interrupted secure transfer.
	DisableResume Optional[bool]
	// PacketReceiptNotificationParameter enables periodic acknowledgements
	// every N packets when > 0, and disables them at 0.
	PacketReceiptNotificationParameter Optional[int]
	// PrepareDataObjectDelay is waited before each data object is sent.
	PrepareDataObjectDelay Optional[time.Duration]
	// ForceScanningForNewAddressInLegacyDfu rediscovers the bootloader by
	// name instead of reusing the original address (legacy DFU only).
	ForceScanningForNewAddressInLegacyDfu Optional[bool]
}

// AndroidOptions are only forwarded to the Android engine.
type AndroidOptions struct {
	DeviceName      Optional[string]
	KeepBond        Optional[bool]
	NumberOfRetries Optional[int]
	RebootTime      Optional[time.Duration]
	RestoreBond     Optional[bool]
}

// IosOptions are only forwarded to the iOS engine.
type IosOptions struct {
	ConnectionTimeout Optional[time.Duration]
}

// Request is a single start-update request.
type Request struct {
	DeviceAddress string
	FileLocation  string
	Transfer      TransferOptions
	Android       AndroidOptions
	Ios           IosOptions
}

// AndroidParams is the exact argument set handed to the Android engine.
type AndroidParams struct {
	DeviceAddress string
	FileLocation  string

	DisableResume                         Optional[bool]
	PacketReceiptNotificationsEnabled     Optional[bool]
	NumberOfPackets                       Optional[int]
	PrepareDataObjectDelay                Optional[time.Duration]
	ForceScanningForNewAddressInLegacyDfu Optional[bool]

	DeviceName      Optional[string]
	KeepBond        Optional[bool]
	NumberOfRetries Optional[int]
	RebootTime      Optional[time.Duration]
	RestoreBond     Optional[bool]

	UnsafeExperimentalButtonlessServiceInSecureDfuEnabled bool
}

// IosParams is the exact argument set handed to the iOS engine.
type IosParams struct {
	PeripheralID string
	FileLocation string

	DisableResume                         Optional[bool]
	PacketReceiptNotificationParameter    Optional[uint16]
	PrepareDataObjectDelay                Optional[time.Duration]
	ForceScanningForNewAddressInLegacyDfu Optional[bool]

	ConnectionTimeout Optional[time.Duration]
}

// Normalized is the result of Normalize. Exactly one of Android and Ios is
// non-nil, matching Platform.
type Normalized struct {
	Platform Platform
	Android  *AndroidParams
	Ios      *IosParams
	// Ignored lists the options that were set but have no meaning on Platform.
	Ignored []string
}

// Normalize merges the common and platform options of req into the argument
// set expected by the engine for p. Options that the platform does not
// understand are dropped and reported in Ignored. It never fails.
func Normalize(req Request, p Platform) Normalized {
	t := req.Transfer
	switch p {
	case PlatformIOS:
		params := &IosParams{
			PeripheralID:                          req.DeviceAddress,
			FileLocation:                          req.FileLocation,
			DisableResume:                         t.DisableResume,
			PrepareDataObjectDelay:                t.PrepareDataObjectDelay,
			ForceScanningForNewAddressInLegacyDfu: t.ForceScanningForNewAddressInLegacyDfu,
			ConnectionTimeout:                     req.Ios.ConnectionTimeout,
		}
		if n, ok := t.PacketReceiptNotificationParameter.Get(); ok {
			params.PacketReceiptNotificationParameter = Some(clampPRN(n))
		}
		return Normalized{Platform: p, Ios: params, Ignored: setAndroidOptions(req.Android)}

	default:
		params := &AndroidParams{
			DeviceAddress:                         req.DeviceAddress,
			FileLocation:                          req.FileLocation,
			DisableResume:                         t.DisableResume,
			PrepareDataObjectDelay:                t.PrepareDataObjectDelay,
			ForceScanningForNewAddressInLegacyDfu: t.ForceScanningForNewAddressInLegacyDfu,
			DeviceName:                            req.Android.DeviceName,
			KeepBond:                              req.Android.KeepBond,
			NumberOfRetries:                       req.Android.NumberOfRetries,
			RebootTime:                            req.Android.RebootTime,
			RestoreBond:                           req.Android.RestoreBond,

			UnsafeExperimentalButtonlessServiceInSecureDfuEnabled: true,
		}
		if n, ok := t.PacketReceiptNotificationParameter.Get(); ok {
			if n > 0 {
				params.PacketReceiptNotificationsEnabled = Some(true)
				params.NumberOfPackets = Some(n)
			} else {
				params.PacketReceiptNotificationsEnabled = Some(false)
			}
		}
		var ignored []string
		if req.Ios.ConnectionTimeout.IsSet() {
			ignored = append(ignored, "connectionTimeout")
		}
		return Normalized{Platform: PlatformAndroid, Android: params, Ignored: ignored}
	}
}

// clampPRN maps the common PRN value onto the iOS uint16 parameter.
// Negative values disable notifications like 0 does.
func clampPRN(n int) uint16 {
	switch {
	case n <= 0:
		return 0
	case n > math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(n)
	}
}

func setAndroidOptions(o AndroidOptions) []string {
	var names []string
	if o.DeviceName.IsSet() {
		names = append(names, "deviceName")
	}
	if o.KeepBond.IsSet() {
		names = append(names, "keepBond")
	}
	if o.NumberOfRetries.IsSet() {
		names = append(names, "numberOfRetries")
	}
	if o.RebootTime.IsSet() {
		names = append(names, "rebootTime")
	}
	if o.RestoreBond.IsSet() {
		names = append(names, "restoreBond")
	}
	return names
}
