package trydan

import (
	"errors"
	"fmt"
)

// ErrTransport marks connection, timeout and non-2xx failures. Poll cycles
// retry these a bounded number of times; everything else fails the cycle
// immediately.
var ErrTransport = errors.New("trydan: transport error")

// MalformedResponseError is returned when the device body parses as neither
// valid nor repairable JSON. It keeps the original body for diagnostics.
type MalformedResponseError struct {
	Body string
	Err  error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("trydan: malformed device response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// RejectedError is returned when a write is refused before any network call
// (setpoint out of range) or by the device itself (literal ERROR body on a
// 2xx response).
type RejectedError struct {
	Field  string
	Value  string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("trydan: write %s=%s rejected: %s", e.Field, e.Value, e.Reason)
}

// IsRejected reports whether err is a local or device-side write rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// IsMalformed reports whether err is an unrepairable response body.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}
