// Package protocol defines the versioned JSON envelope shared by every
// execution surface.
//
// A Request names a command (system_info, run_script, file_op) and an
// execution context (mode, target host, timeout, retry policy). A
// Response carries exactly one of success data or a structured error,
// plus metadata about how the result was produced.
//
// Key Components:
//   - Request/Response: the wire envelope, version "1.0"
//   - Validate: field-level checks reporting INVALID_REQUEST
//   - Success/Failure: response constructors preserving error structure
//   - RetryPolicy: exponential backoff schedule for transient failures
//
// Example Usage:
//
//	req, err := protocol.Decode(body)
//	if err == nil {
//	    err = req.Validate()
//	}
//	if err != nil {
//	    return protocol.Failure(err, protocol.Metadata{Attempts: 1})
//	}
package protocol
