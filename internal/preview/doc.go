// Package preview talks to the external preview runtime, which analyzes
// commands and reports their would-be effects without executing anything.
//
// The runtime is a separate service at the system boundary; this client
// protects it with rate limiting and a circuit breaker so a down or slow
// runtime cannot stall executions.
//
// Key Components:
//   - Client: resty-based HTTP client with breaker and limiter
//   - Plan: the runtime's effect analysis, Executed always false
//
// Example Usage:
//
//	client := preview.NewClient(preview.Config{BaseURL: "http://127.0.0.1:7373"})
//	plan, err := client.Plan(ctx, cmd)
package preview
