// Package ws bridges WebSocket peers to terminal sessions.
//
// One connection attaches to one session. PTY output is drained on a
// short poll and streamed to the peer as binary frames; the peer sends
// either raw binary keystrokes or JSON text frames for structured
// operations. The socket has a single data writer, so queued responses
// and PTY output never interleave mid-frame.
//
// Message Types (Client → Server):
//   - input: Write data to the session's PTY
//   - resize: Change terminal dimensions
//   - ping: Keep-alive ping
//   - close: Terminate the session
//
// Message Types (Server → Client):
//   - attached: Connection established
//   - pong: Keep-alive reply
//   - error: A request failed, with its error code
//   - closed: The session ended
//
// Example Usage:
//
//	handler := ws.NewHandler(sessions, logger).WithMetrics(metrics)
//	router.GET("/sessions/:id/stream", handler.HandleSession)
package ws
