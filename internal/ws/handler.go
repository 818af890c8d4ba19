package ws

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/substratehq/substrate/internal/domain/terminal"
	"github.com/substratehq/substrate/internal/infrastructure/monitoring"
	"github.com/substratehq/substrate/internal/shared/errdefs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin policy is enforced at the CORS layer
	},
}

const (
	// pollInterval is how often pending session output is drained to the peer
	pollInterval = 30 * time.Millisecond

	// maxFrameBytes bounds a single inbound frame
	maxFrameBytes = 512 * 1024
)

// Message is one client-to-server JSON frame. Binary frames bypass this
// structure and are written to the PTY verbatim.
type Message struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Cols int    `json:"cols,omitempty"`
}

// Handler manages WebSocket connections
type Handler struct {
	sessions *terminal.Manager
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(sessions *terminal.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		logger:   logger,
	}
}

// WithMetrics attaches a metrics collector
func (h *Handler) WithMetrics(m *monitoring.Metrics) *Handler {
	h.metrics = m
	return h
}

// HandleSession upgrades the request and bridges the peer to a terminal
// session: PTY output streams out as binary frames, JSON text frames
// carry input, resize, and keep-alive messages in.
func (h *Handler) HandleSession(c *gin.Context) {
	sessionID := c.Param("id")

	if _, err := h.sessions.Get(sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": err.Error(),
			"code":  string(errdefs.CodeOf(err)),
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	h.logger.Info("websocket attached",
		zap.String("session_id", sessionID),
	)

	// The welcome frame goes out before the write pump starts so the
	// connection only ever has one data writer.
	conn.WriteJSON(map[string]interface{}{
		"type":       "attached",
		"session_id": sessionID,
		"timestamp":  time.Now().Unix(),
	})

	out := make(chan map[string]interface{}, 16)
	done := make(chan struct{})
	go h.writePump(conn, sessionID, out, done)

	h.readPump(conn, sessionID, out)
	close(done)
}

// readPump consumes peer frames until the connection drops. It never
// writes to the socket directly; responses are queued on out.
func (h *Handler) readPump(conn *websocket.Conn, sessionID string, out chan<- map[string]interface{}) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			h.recordMessage("in", "raw")
			if err := h.sessions.Write(sessionID, data); err != nil {
				h.queue(out, errorFrame(err))
			}

		case websocket.TextMessage:
			var msg Message
			if err := sonic.Unmarshal(data, &msg); err != nil {
				h.queue(out, errorFrame(errdefs.InvalidRequest("message", "malformed JSON frame")))
				continue
			}
			h.recordMessage("in", msg.Type)

			switch msg.Type {
			case "input":
				if err := h.sessions.Write(sessionID, []byte(msg.Data)); err != nil {
					h.queue(out, errorFrame(err))
				}
			case "resize":
				if err := h.sessions.Resize(sessionID, msg.Rows, msg.Cols); err != nil {
					h.queue(out, errorFrame(err))
				}
			case "ping":
				h.queue(out, map[string]interface{}{
					"type":      "pong",
					"timestamp": time.Now().Unix(),
				})
			case "close":
				h.sessions.Close(sessionID)
				return
			default:
				h.queue(out, errorFrame(errdefs.InvalidRequest("type", "unknown message type")))
			}
		}
	}
}

// writePump owns all data writes on the connection. It interleaves
// queued JSON frames with drained PTY output until the session dies or
// the peer goes away.
func (h *Handler) writePump(conn *websocket.Conn, sessionID string, out <-chan map[string]interface{}, done <-chan struct{}) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case frame := <-out:
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
			if t, ok := frame["type"].(string); ok {
				h.recordMessage("out", t)
			}

		case <-ticker.C:
			data, err := h.sessions.Read(sessionID)
			if err != nil {
				h.sendClosed(conn, sessionID)
				return
			}
			if len(data) == 0 {
				// Quiet ticks double as a liveness probe: once the shell
				// process has exited and its output is drained, the
				// stream ends rather than polling a dead session.
				if info, gerr := h.sessions.Get(sessionID); gerr != nil || !info.Active {
					h.sendClosed(conn, sessionID)
					return
				}
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
			h.recordMessage("out", "output")
		}
	}
}

// sendClosed tells the peer the session ended, then forces the read
// pump off the socket.
func (h *Handler) sendClosed(conn *websocket.Conn, sessionID string) {
	conn.WriteJSON(map[string]interface{}{
		"type":       "closed",
		"session_id": sessionID,
		"timestamp":  time.Now().Unix(),
	})
	h.recordMessage("out", "closed")
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
		time.Now().Add(time.Second))
	conn.Close()
}

// queue enqueues a frame without blocking; under backpressure the frame
// is dropped rather than stalling the read pump.
func (h *Handler) queue(out chan<- map[string]interface{}, frame map[string]interface{}) {
	select {
	case out <- frame:
	default:
		h.logger.Debug("websocket frame dropped",
			zap.Any("type", frame["type"]),
		)
	}
}

func (h *Handler) recordMessage(direction, msgType string) {
	if h.metrics != nil {
		h.metrics.RecordWSMessage(direction, msgType)
	}
}

func errorFrame(err error) map[string]interface{} {
	return map[string]interface{}{
		"type":      "error",
		"message":   err.Error(),
		"code":      string(errdefs.CodeOf(err)),
		"timestamp": time.Now().Unix(),
	}
}
