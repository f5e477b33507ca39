// Package dfu coordinates Device Firmware Update sessions against the
// platform-native Nordic DFU engines. It turns the engines' callback feeds
// into a single pending Completion per session plus two event channels
// (state changes and progress), and guarantees that the Completion settles
// exactly once and the session is cleared on every terminal path.
package dfu

import "runtime"

// Platform selects which native engine handles a session.
type Platform int

const (
	PlatformAndroid Platform = iota
	PlatformIOS
)

func (p Platform) String() string {
	switch p {
	case PlatformIOS:
		return "ios"
	default:
		return "android"
	}
}

// HostPlatform maps the running GOOS onto an engine platform. Apple hosts use
// the iOS engine, everything else the Android one.
func HostPlatform() Platform {
	return platformForGOOS(runtime.GOOS)
}

func platformForGOOS(goos string) Platform {
	switch goos {
	case "ios", "darwin":
		return PlatformIOS
	default:
		return PlatformAndroid
	}
}

// NativeProgress is the raw progress callback payload of an engine.
type NativeProgress struct {
	Part       int
	TotalParts int
	Percent    int
	Speed      float64 // bytes/ms, current
	AvgSpeed   float64 // bytes/ms, since start
}

// Listener receives the callback feed of a native engine. Engines may call it
// from any goroutine, but must not call it concurrently for the same session.
//
// The first terminal callback settles the session and later ones are
// ignored. An engine that has a native error code must report the failure
// through OnError, not OnStateChanged(StateFailed) followed by OnError,
// or the code and message are lost.
type Listener interface {
	// OnStateChanged reports a lifecycle transition, including the terminal
	// StateCompleted and StateAborted. StateFailed here settles the session
	// with ErrFailed.
	OnStateChanged(deviceAddress string, state State)
	// OnProgress reports transfer progress.
	OnProgress(deviceAddress string, p NativeProgress)
	// OnError reports a terminal transfer error. The coordinator emits
	// StateFailed itself before rejecting with the native error.
	OnError(deviceAddress string, code, errType int, message string)
}

// Controller is the engine's handle on a running transfer.
type Controller interface {
	// Abort asks the engine to stop the transfer. It reports whether the
	// engine accepted the request; the outcome still arrives as a callback.
	Abort() bool
}

// AndroidEngine starts transfers through the Android DFU service.
type AndroidEngine interface {
	StartAndroid(params AndroidParams, l Listener) (Controller, error)
}

// IosEngine starts transfers through the iOS DFU library.
type IosEngine interface {
	StartIos(params IosParams, l Listener) (Controller, error)
}

// Engines holds the engine strategy per platform. A nil entry makes that
// platform unsupported.
type Engines struct {
	Android AndroidEngine
	Ios     IosEngine
}
