// Package errdefs defines the structured error taxonomy for the substrate.
//
// Every failure that crosses a component boundary is an *errdefs.Error
// carrying a stable machine code, a human message, and structured details,
// so callers never have to string-match to decide what went wrong.
//
// Codes:
//   - NOT_FOUND: unknown session or connection id
//   - CONNECTION_TIMEOUT, EXECUTION_TIMEOUT, TIMEOUT: a bounded wait expired
//   - CONNECT_FAILED, SPAWN_FAILED, NO_SHELL_FOUND: resource setup failed
//   - EXEC_FAILED: the resource was fine, the command itself failed
//   - OUTPUT_TOO_LARGE: output capture hit its configured bound
//   - CIRCUIT_OPEN: the failure isolator rejected the call without trying
//   - INVALID_ENCODING: binary output requested as text
//   - INVALID_REQUEST: malformed protocol envelope
//
// Classification:
//   - IsTransient reports whether a retry policy may re-attempt the error
//   - CodeOf extracts the code from any error chain
//
// Example Usage:
//
//	if err := pool.Acquire(ctx, key, cred); err != nil {
//	    if errdefs.IsTransient(err) {
//	        // eligible for backoff and retry
//	    }
//	}
package errdefs
