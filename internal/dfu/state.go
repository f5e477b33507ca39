package dfu

import "fmt"

// State is a DFU lifecycle state as reported by the native engines.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateProcessStarting
	StateProcessStarted
	StateEnablingDfuMode
	StateFirmwareValidating
	StateDeviceDisconnecting
	StateDeviceDisconnected
	StateCompleted
	StateAborted
	StateFailed
)

var stateNames = [...]string{
	StateConnecting:          "CONNECTING",
	StateConnected:           "CONNECTED",
	StateProcessStarting:     "DFU_PROCESS_STARTING",
	StateProcessStarted:      "DFU_PROCESS_STARTED",
	StateEnablingDfuMode:     "ENABLING_DFU_MODE",
	StateFirmwareValidating:  "FIRMWARE_VALIDATING",
	StateDeviceDisconnecting: "DEVICE_DISCONNECTING",
	StateDeviceDisconnected:  "DEVICE_DISCONNECTED",
	StateCompleted:           "DFU_COMPLETED",
	StateAborted:             "DFU_ABORTED",
	StateFailed:              "DFU_FAILED",
}

// String returns the wire name of the state, e.g. "DFU_COMPLETED".
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no further events may follow s for a session.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateFailed
}

// ParseState is the inverse of String.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return 0, false
}

// MarshalText encodes s by its wire name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a wire name.
func (s *State) UnmarshalText(b []byte) error {
	v, ok := ParseState(string(b))
	if !ok {
		return fmt.Errorf("dfu: unknown state %q", b)
	}
	*s = v
	return nil
}

// StateEvent is published on the state channel for every lifecycle callback.
type StateEvent struct {
	State         State  `json:"state"`
	DeviceAddress string `json:"deviceAddress"`
}

// ProgressRecord is published on the progress channel. It is informational
// only and never drives the session.
type ProgressRecord struct {
	DeviceAddress string  `json:"deviceAddress"`
	Percent       int     `json:"percent"`
	Speed         float64 `json:"speed"`
	AvgSpeed      float64 `json:"avgSpeed"`
	CurrentPart   int     `json:"currentPart"`
	TotalParts    int     `json:"totalParts"`
}
