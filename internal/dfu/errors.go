package dfu

import (
	"errors"
	"fmt"
	"strconv"
)

// Error is a coordinator-level rejection identified by a stable code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "dfu: " + e.Code
	}
	return fmt.Sprintf("dfu: %s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same Code, so callers can use
// errors.Is(err, dfu.ErrInProgress) regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// ErrorCode returns the rejection code.
func (e *Error) ErrorCode() string { return e.Code }

var (
	// ErrInProgress rejects a start request while a session is active.
	ErrInProgress = &Error{Code: "dfu_in_progress"}
	// ErrNoRunningDFU rejects an abort request while no session is active.
	ErrNoRunningDFU = &Error{Code: "no_running_dfu"}
	// ErrAbortFailed rejects an abort request the engine refused.
	ErrAbortFailed = &Error{Code: "dfu_abort_failed"}
	// ErrStartFailed rejects a start request the engine could not begin.
	ErrStartFailed = &Error{Code: "dfu_start_failed"}
	// ErrUnsupportedPlatform rejects a start request for a platform without an engine.
	ErrUnsupportedPlatform = &Error{Code: "dfu_unsupported_platform"}
	// ErrFailed rejects a session that reached DFU_FAILED without an error callback.
	ErrFailed = &Error{Code: "dfu_failed"}
)

func newError(base *Error, format string, args ...any) *Error {
	return &Error{Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

// NativeError is a transfer error reported verbatim by a native engine.
type NativeError struct {
	Code   int
	Type   int
	Detail string
}

func (e *NativeError) Error() string {
	return fmt.Sprintf("Error: %d, Error Type: %d, Message: %s", e.Code, e.Type, e.Detail)
}

// ErrorCode returns the native code in decimal form, e.g. "5".
func (e *NativeError) ErrorCode() string {
	return strconv.Itoa(e.Code)
}

// Code extracts the rejection code of err, or "" if err carries none.
func Code(err error) string {
	var c interface{ ErrorCode() string }
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}
