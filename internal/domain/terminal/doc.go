// Package terminal manages interactive PTY-backed shell sessions.
//
// Each session wraps a spawned shell process attached to a pseudo-terminal,
// keyed by an opaque session ID. Output is pumped into a bounded ring buffer
// so reads never block; input writes are serialized per session.
//
// Key Components:
//   - Manager: spawn/write/read/resize/close/list keyed by session ID
//   - Session: one live shell process plus its PTY handles
//   - Buffer: bounded ring buffer for pending output
//   - ResolveShell: explicit path, then $SHELL, then well-known shells
//
// Semantics:
//   - A session ID maps to at most one live process; after close the ID is
//     permanently invalid and never reused
//   - close is idempotent: closing an unknown or already-closed ID is not
//     an error
//   - Read returns immediately with whatever output is pending, possibly
//     nothing; it never waits for the process
//   - Operations on different sessions never block one another
//
// Example Usage:
//
//	mgr := terminal.NewManager(terminal.Config{}, logger)
//	info, err := mgr.Spawn(terminal.SpawnOptions{Rows: 24, Cols: 80})
//	mgr.Write(info.ID, []byte("ls -la\n"))
//	out, _ := mgr.Read(info.ID)
//	mgr.Close(info.ID)
package terminal
