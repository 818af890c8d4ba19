// Package executor runs protocol requests end to end.
//
// One Execute call validates the envelope, routes the command to its
// execution mode, and shapes the outcome into a response. Local mode
// runs scripts under a PTY on this host; ssh mode leases pooled
// connections gated by per-host circuit breakers; preview mode asks the
// preview runtime what a command would do without running it.
//
// Key Components:
//   - Executor: mode dispatch plus the retry loop
//   - remoteCommand: shell rendering and result parsing for ssh mode
//   - PreviewPlanner: injected preview runtime client
//
// Guarantees:
//   - Only transient failures are retried, with exponential backoff
//     from the request's retry policy
//   - Command exit codes never count against a host's circuit breaker
//   - Captured output is bounded; oversize output fails the execution
//     rather than growing without limit
//
// Example Usage:
//
//	exe := executor.New(executor.Config{}, p, creds, breakers, logger).
//	    WithMetrics(metrics)
//	resp := exe.Execute(ctx, req)
package executor
