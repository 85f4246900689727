// Package errors provides structured error types for the debug bridge.
// Every error carries a machine-readable code, a message, and an
// optional hint so a calling assistant can decide whether to retry,
// ask the user, or give up.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode categorizes an error for programmatic handling.
type ErrorCode string

const (
	// CodeInvalidArgument marks a tool call with a malformed or
	// out-of-range argument, caught before any adapter interaction.
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// CodeResourceUnavailable marks a reference to something that does
	// not exist: an unknown session ID, a missing interpreter, an
	// exhausted port range, too many concurrent sessions.
	CodeResourceUnavailable ErrorCode = "RESOURCE_UNAVAILABLE"

	// CodeTransport marks a failure below the DAP message layer: socket
	// connect failures, unexpected disconnects, frame decode errors.
	CodeTransport ErrorCode = "TRANSPORT_ERROR"

	// CodeProtocol marks a DAP-level failure: the adapter returned
	// success=false, or a response failed to decode into its expected
	// shape.
	CodeProtocol ErrorCode = "PROTOCOL_ERROR"

	// CodeTimeout marks an operation that did not complete inside its
	// deadline.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeLifecycle marks an operation requested against a session in
	// the wrong state: stepping a terminated session, attaching twice.
	CodeLifecycle ErrorCode = "LIFECYCLE_ERROR"

	// CodeInspection marks a failure specific to state inspection:
	// evaluate, get_variables, get_call_stack called with no paused
	// thread or frame to inspect.
	CodeInspection ErrorCode = "INSPECTION_FAILURE"
)

// DebugError is a structured error carrying a machine-readable code, a
// human-readable message, an optional hint, and optional structured
// details for the caller.
type DebugError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Hint    string                 `json:"hint,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}
	return sb.String()
}

// Unwrap returns the underlying cause, if any, for errors.Is/As chains.
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches a structured detail field.
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause.
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// InvalidArgument reports a malformed or out-of-range tool argument.
func InvalidArgument(name string, value interface{}, expected string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidArgument,
		Message: fmt.Sprintf("invalid value for '%s': %v", name, value),
		Hint:    fmt.Sprintf("expected %s", expected),
		Details: map[string]interface{}{"argument": name, "value": value},
	}
}

// MissingArgument reports a required tool argument that was omitted.
func MissingArgument(name, description string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidArgument,
		Message: fmt.Sprintf("required argument '%s' is missing", name),
		Hint:    description,
		Details: map[string]interface{}{"argument": name},
	}
}

// SessionNotFound reports an unknown session id.
func SessionNotFound(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeResourceUnavailable,
		Message: fmt.Sprintf("session '%s' not found", sessionID),
		Hint:    "use list_debug_sessions to see active sessions, or start_debug_session / attach_to_debugpy to create one",
		Details: map[string]interface{}{"sessionId": sessionID},
	}
}

// SessionLimitReached reports that the registry is at capacity.
func SessionLimitReached(max int) *DebugError {
	return &DebugError{
		Code:    CodeResourceUnavailable,
		Message: fmt.Sprintf("maximum number of sessions (%d) reached", max),
		Hint:    "stop_debug_session an existing session before starting another",
		Details: map[string]interface{}{"maxSessions": max},
	}
}

// ResourceUnavailable reports a missing external dependency: an
// interpreter that cannot be found, an exhausted port range, and
// similar preconditions that fail before any adapter is contacted.
func ResourceUnavailable(resource string, err error) *DebugError {
	d := &DebugError{
		Code:    CodeResourceUnavailable,
		Message: fmt.Sprintf("%s is unavailable", resource),
		Cause:   err,
	}
	if err != nil {
		d.Message = fmt.Sprintf("%s is unavailable: %v", resource, err)
	}
	return d
}

// Transport reports a failure below the DAP message layer.
func Transport(message string, err error) *DebugError {
	return &DebugError{
		Code:    CodeTransport,
		Message: message,
		Hint:    "the adapter process may have crashed or the socket may have closed; check check_python_setup and consider starting a new session",
		Cause:   err,
	}
}

// Protocol reports a DAP-level failure: an error response from the
// adapter, or a response body that failed to decode.
func Protocol(message string, err error) *DebugError {
	d := &DebugError{
		Code:    CodeProtocol,
		Message: message,
		Cause:   err,
	}
	if err != nil {
		d.Message = fmt.Sprintf("%s: %v", message, err)
	}
	return d
}

// Timeout reports an operation that exceeded its deadline.
func Timeout(operation string, d time.Duration) *DebugError {
	return &DebugError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("%s timed out after %s", operation, d),
		Hint:    "the target may be blocked or in an infinite loop; try stop_debug_session",
		Details: map[string]interface{}{"operation": operation, "timeout": d.String()},
	}
}

// Lifecycle reports an operation requested while the session is in the
// wrong state for it.
func Lifecycle(message string, err error) *DebugError {
	return &DebugError{
		Code:    CodeLifecycle,
		Message: message,
		Cause:   err,
	}
}

// Inspection reports a failure specific to state inspection: no
// active thread or frame to read from.
func Inspection(message string, err error) *DebugError {
	return &DebugError{
		Code:    CodeInspection,
		Message: message,
		Hint:    "the session must be paused (hit a breakpoint or been stepped) before inspecting variables or the call stack",
		Cause:   err,
	}
}

// Wrap builds a DebugError from an arbitrary code and cause.
func Wrap(code ErrorCode, message string, hint string, err error) *DebugError {
	return &DebugError{Code: code, Message: message, Hint: hint, Cause: err}
}

// FromError recovers a *DebugError from err if it already is one, or
// wraps it generically otherwise.
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    CodeProtocol,
		Message: err.Error(),
		Cause:   err,
	}
}
