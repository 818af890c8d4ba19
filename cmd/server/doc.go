// Package main is the entry point for the substrate server.
//
// The server exposes a command execution substrate over HTTP: one-shot
// command envelopes, interactive terminal sessions with WebSocket
// streaming, and pooled SSH execution against remote hosts guarded by
// per-host circuit breakers.
//
// The server provides:
//   - POST /execute for command envelopes (local, ssh, preview modes)
//   - REST endpoints for terminal session lifecycle
//   - WebSocket streaming of live session output
//   - Prometheus metrics and aggregated JSON stats
//   - Rate limiting and CORS
//
// Configuration:
//   - Environment variables (12-factor)
//   - Defaults suitable for local development
//
// Usage:
//
//	# Defaults (listens on 0.0.0.0:8700)
//	./server
//
//	# Tuned via environment
//	PORT=9000 LOG_FORMAT=console ./server
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
