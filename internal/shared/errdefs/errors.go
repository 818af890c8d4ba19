package errdefs

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies an error class on the wire
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeConnectionTimeout Code = "CONNECTION_TIMEOUT"
	CodeExecutionTimeout  Code = "EXECUTION_TIMEOUT"
	CodeTimeout           Code = "TIMEOUT"
	CodeConnectFailed     Code = "CONNECT_FAILED"
	CodeAuthFailed        Code = "AUTH_FAILED"
	CodeSpawnFailed       Code = "SPAWN_FAILED"
	CodeNoShellFound      Code = "NO_SHELL_FOUND"
	CodeExecFailed        Code = "EXEC_FAILED"
	CodeOutputTooLarge    Code = "OUTPUT_TOO_LARGE"
	CodeCircuitOpen       Code = "CIRCUIT_OPEN"
	CodeInvalidEncoding   Code = "INVALID_ENCODING"
	CodeInvalidRequest    Code = "INVALID_REQUEST"
)

// Error is a structured error with a stable code and contextual details
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Hint    string
	cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// WithHint attaches a plain-language remediation hint
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// NotFound reports an unknown identifier of the given kind
func NotFound(kind, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %q not found", kind, id),
		Details: map[string]interface{}{"kind": kind, "id": id},
	}
}

// ConnectTimeout reports that establishing a connection exceeded its bound
func ConnectTimeout(host string, timeout time.Duration) *Error {
	return &Error{
		Code:    CodeConnectionTimeout,
		Message: fmt.Sprintf("connection to %s timed out after %s", host, timeout),
		Details: map[string]interface{}{"host": host, "timeout_ms": timeout.Milliseconds()},
	}
}

// ExecTimeout reports that a running command exceeded its bound
func ExecTimeout(timeout time.Duration) *Error {
	return &Error{
		Code:    CodeExecutionTimeout,
		Message: fmt.Sprintf("execution timed out after %s", timeout),
		Details: map[string]interface{}{"timeout_ms": timeout.Milliseconds()},
	}
}

// WaitTimeout reports that an internal bounded wait expired
func WaitTimeout(waitingFor string, timeout time.Duration) *Error {
	return &Error{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("timed out after %s waiting for %s", timeout, waitingFor),
		Details: map[string]interface{}{"waiting_for": waitingFor, "timeout_ms": timeout.Milliseconds()},
	}
}

// ConnectFailed reports a failed connection attempt
func ConnectFailed(host string, cause error) *Error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return &Error{
		Code:    CodeConnectFailed,
		Message: fmt.Sprintf("failed to connect to %s", host),
		Details: map[string]interface{}{"host": host, "reason": reason},
		cause:   cause,
	}
}

// AuthFailed reports that a remote host rejected the supplied credential.
// Unlike ConnectFailed it is never classified as transient.
func AuthFailed(host string, cause error) *Error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return &Error{
		Code:    CodeAuthFailed,
		Message: fmt.Sprintf("authentication to %s rejected", host),
		Details: map[string]interface{}{"host": host, "reason": reason},
		cause:   cause,
	}
}

// SpawnFailed reports a failed process spawn
func SpawnFailed(shell string, cause error) *Error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return &Error{
		Code:    CodeSpawnFailed,
		Message: fmt.Sprintf("failed to spawn %s", shell),
		Details: map[string]interface{}{"shell": shell, "reason": reason},
		cause:   cause,
	}
}

// NoShellFound reports that no usable shell exists on this host
func NoShellFound(probed []string) *Error {
	return &Error{
		Code:    CodeNoShellFound,
		Message: "no usable shell found",
		Details: map[string]interface{}{"probed": probed},
		Hint:    "set the SHELL environment variable or pass an explicit shell path",
	}
}

// ExecFailed reports a command that ran and exited non-zero
func ExecFailed(exitCode int, stderr string) *Error {
	return &Error{
		Code:    CodeExecFailed,
		Message: fmt.Sprintf("command exited with code %d", exitCode),
		Details: map[string]interface{}{"exit_code": exitCode, "stderr": stderr},
	}
}

// OutputTooLarge reports that output capture would exceed its bound
func OutputTooLarge(maxBytes, actualBytes int) *Error {
	return &Error{
		Code:    CodeOutputTooLarge,
		Message: fmt.Sprintf("output of %d bytes exceeds limit of %d bytes", actualBytes, maxBytes),
		Details: map[string]interface{}{"max_bytes": maxBytes, "actual_bytes": actualBytes},
		Hint:    "raise the output limit or redirect command output to a file",
	}
}

// CircuitOpen reports that the failure isolator rejected the call
func CircuitOpen(key string) *Error {
	return &Error{
		Code:    CodeCircuitOpen,
		Message: fmt.Sprintf("circuit open for %s", key),
		Details: map[string]interface{}{"key": key},
		Hint:    "the endpoint is failing repeatedly; wait for the probe window",
	}
}

// InvalidEncoding reports binary output requested as text
func InvalidEncoding(detectedCharset string) *Error {
	return &Error{
		Code:    CodeInvalidEncoding,
		Message: "output is not valid UTF-8",
		Details: map[string]interface{}{"detected_charset": detectedCharset},
		Hint:    "request raw bytes instead of text",
	}
}

// InvalidRequest reports a malformed protocol envelope
func InvalidRequest(field, why string) *Error {
	return &Error{
		Code:    CodeInvalidRequest,
		Message: fmt.Sprintf("invalid request: %s %s", field, why),
		Details: map[string]interface{}{"field": field},
	}
}

// As extracts a structured error from an error chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or empty when unstructured
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// IsTransient reports whether err may be retried under a retry policy.
// Only timeouts and connection failures qualify; a command that ran and
// failed is definitive, and an open circuit must not be hammered.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeConnectionTimeout, CodeExecutionTimeout, CodeTimeout, CodeConnectFailed:
		return true
	default:
		return false
	}
}
