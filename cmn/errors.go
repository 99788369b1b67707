// Package cmn provides the broker's ambient stack: status codes, error
// wrapping, structured logging, configuration, and the concurrency helpers
// shared by every other package.
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is the single-byte error code carried on the request bus, per the
// method table's "error" outputs.
type Status uint8

const (
	OK Status = iota
	Internal
	Interrupted
	InvalidID
	InvalidStrboURL
	NotSupported
	NotFound
	PhysicalMediaIO
	Busy
	Busy500
)

var statusNames = map[Status]string{
	OK:              "OK",
	Internal:        "INTERNAL",
	Interrupted:     "INTERRUPTED",
	InvalidID:       "INVALID_ID",
	InvalidStrboURL: "INVALID_STRBO_URL",
	NotSupported:    "NOT_SUPPORTED",
	NotFound:        "NOT_FOUND",
	PhysicalMediaIO: "PHYSICAL_MEDIA_IO",
	Busy:            "BUSY",
	Busy500:         "BUSY_500",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Error is the broker's error type: a status byte plus an optionally
// stack-wrapped cause. Validation-type errors (bad ID, bad URL...) carry no
// stack trace and are never logged as errors; INTERNAL errors wrap their
// cause with github.com/pkg/errors so the log line carries a stack.
type Error struct {
	status Status
	cause  error
}

// NewError builds a plain status error with no wrapped cause.
func NewError(status Status, format string, a ...interface{}) *Error {
	return &Error{status: status, cause: fmt.Errorf(format, a...)}
}

// NewInternalError wraps cause with a stack trace and tags it INTERNAL.
// Use for state-machine violations, missing parent links, and other bugs
// that must stay alive but get logged loudly.
func NewInternalError(cause error, format string, a ...interface{}) *Error {
	wrapped := errors.Wrapf(cause, format, a...)
	return &Error{status: Internal, cause: wrapped}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.status.String()
	}
	return fmt.Sprintf("%s: %s", e.status, e.cause)
}

// Status returns the status byte to report on the bus.
func (e *Error) Status() Status { return e.status }

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// StatusOf extracts the Status from err, defaulting to Internal for any
// error that isn't a *cmn.Error (an out-of-band panic-recovery path, a
// third-party library error bubbling up unexpectedly, etc).
func StatusOf(err error) Status {
	if err == nil {
		return OK
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.status
	}
	return Internal
}

// IsRetriable reports whether a client should retry rather than treat the
// status as a permanent failure.
func IsRetriable(s Status) bool {
	return s == Busy || s == Busy500 || s == Interrupted
}
