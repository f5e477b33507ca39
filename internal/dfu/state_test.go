package dfu

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestStateNames(t *testing.T) {
	tests := []struct {
		state    State
		name     string
		terminal bool
	}{
		{StateConnecting, "CONNECTING", false},
		{StateConnected, "CONNECTED", false},
		{StateProcessStarting, "DFU_PROCESS_STARTING", false},
		{StateProcessStarted, "DFU_PROCESS_STARTED", false},
		{StateEnablingDfuMode, "ENABLING_DFU_MODE", false},
		{StateFirmwareValidating, "FIRMWARE_VALIDATING", false},
		{StateDeviceDisconnecting, "DEVICE_DISCONNECTING", false},
		{StateDeviceDisconnected, "DEVICE_DISCONNECTED", false},
		{StateCompleted, "DFU_COMPLETED", true},
		{StateAborted, "DFU_ABORTED", true},
		{StateFailed, "DFU_FAILED", true},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.name {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.name)
		}
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.name, got, tt.terminal)
		}
		if got, ok := ParseState(tt.name); !ok || got != tt.state {
			t.Errorf("ParseState(%q) = %v, %v", tt.name, got, ok)
		}
	}

	if got := State(99).String(); got != "UNKNOWN" {
		t.Errorf("State(99).String() = %q, want UNKNOWN", got)
	}
	if _, ok := ParseState("REBOOTING"); ok {
		t.Error("ParseState should reject unknown names")
	}
}

func TestStateEventJSON(t *testing.T) {
	data, err := json.Marshal(StateEvent{State: StateProcessStarted, DeviceAddress: testAddr})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"state":"DFU_PROCESS_STARTED","deviceAddress":"AA:BB:CC:DD:EE:FF"}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}

	var ev StateEvent
	if err := json.Unmarshal([]byte(`{"state":"BOGUS"}`), &ev); err == nil {
		t.Error("Unmarshal() should reject an unknown state")
	}
}

func TestPlatformForGOOS(t *testing.T) {
	tests := map[string]Platform{
		"ios":     PlatformIOS,
		"darwin":  PlatformIOS,
		"android": PlatformAndroid,
		"linux":   PlatformAndroid,
		"windows": PlatformAndroid,
	}
	for goos, want := range tests {
		if got := platformForGOOS(goos); got != want {
			t.Errorf("platformForGOOS(%q) = %s, want %s", goos, got, want)
		}
	}
}

func TestCompletionSettlesOnce(t *testing.T) {
	c := newCompletion()
	if c.Settled() {
		t.Fatal("new completion should be pending")
	}
	if _, ok := c.Result(); ok {
		t.Fatal("Result() on a pending completion should report ok=false")
	}
	if !c.resolve(Result{DeviceAddress: testAddr}) {
		t.Fatal("first resolve should settle")
	}
	if c.reject(errors.New("late")) {
		t.Error("reject after resolve should be a no-op")
	}
	if c.resolve(Result{DeviceAddress: "other"}) {
		t.Error("second resolve should be a no-op")
	}

	res, err := c.Wait(context.Background())
	if err != nil || res.DeviceAddress != testAddr {
		t.Errorf("Wait() = %+v, %v, want first result", res, err)
	}
	if r, ok := c.Result(); !ok || r.DeviceAddress != testAddr {
		t.Errorf("Result() = %+v, %v", r, ok)
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err() = %v, want nil for a resolved completion", err)
	}
}

func TestCompletionErrAfterReject(t *testing.T) {
	c := newCompletion()
	if c.Err() != nil {
		t.Fatal("Err() on a pending completion should be nil")
	}
	boom := errors.New("boom")
	c.reject(boom)
	if !errors.Is(c.Err(), boom) {
		t.Errorf("Err() = %v, want %v", c.Err(), boom)
	}
	if r, ok := c.Result(); !ok || r != (Result{}) {
		t.Errorf("Result() = %+v, %v, want zero result and ok", r, ok)
	}
}

func TestCompletionWaitHonoursContext(t *testing.T) {
	c := newCompletion()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := c.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
	if c.Settled() {
		t.Error("timed-out wait must not settle the completion")
	}
}

func TestErrorCodes(t *testing.T) {
	err := newError(ErrInProgress, "busy with %s", testAddr)
	if !errors.Is(err, ErrInProgress) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(err, ErrNoRunningDFU) {
		t.Error("errors.Is matched a different code")
	}
	if got := err.Error(); got != "dfu: dfu_in_progress: busy with AA:BB:CC:DD:EE:FF" {
		t.Errorf("Error() = %q", got)
	}
	if got := Code(errors.New("plain")); got != "" {
		t.Errorf("Code(plain) = %q, want empty", got)
	}
	wrapped := errors.Join(errors.New("ctx"), &NativeError{Code: 5, Type: 2, Detail: "CRC mismatch"})
	if got := Code(wrapped); got != "5" {
		t.Errorf("Code(wrapped native) = %q, want 5", got)
	}
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	var b broadcaster[int]
	ch, unsub := b.subscribe(2)

	if missed := b.publish(1); missed != 0 {
		t.Errorf("publish() missed = %d, want 0", missed)
	}
	unsub()
	unsub()

	if missed := b.publish(2); missed != 0 {
		t.Errorf("publish() after unsubscribe missed = %d, want 0", missed)
	}
	if v, ok := <-ch; !ok || v != 1 {
		t.Errorf("first receive = %d, %v, want 1, true", v, ok)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}
