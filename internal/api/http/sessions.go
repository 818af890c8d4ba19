package http

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/substratehq/substrate/internal/domain/output"
	"github.com/substratehq/substrate/internal/domain/terminal"
	"github.com/substratehq/substrate/internal/shared/errdefs"
)

// SpawnSessionRequest configures a new terminal session. All fields are
// optional; zero values fall back to manager defaults.
type SpawnSessionRequest struct {
	Shell      string            `json:"shell"`
	WorkingDir string            `json:"working_dir"`
	Rows       int               `json:"rows"`
	Cols       int               `json:"cols"`
	Env        map[string]string `json:"env"`
}

// SessionInputRequest carries bytes destined for a session's PTY.
type SessionInputRequest struct {
	Data string `json:"data" binding:"required"`
}

// SessionResizeRequest carries new PTY dimensions.
type SessionResizeRequest struct {
	Rows int `json:"rows" binding:"required"`
	Cols int `json:"cols" binding:"required"`
}

// SpawnSession creates a new terminal session
func (h *Handlers) SpawnSession(c *gin.Context) {
	var req SpawnSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	info, err := h.sessions.Spawn(terminal.SpawnOptions{
		Shell:      req.Shell,
		WorkingDir: req.WorkingDir,
		Rows:       req.Rows,
		Cols:       req.Cols,
		Env:        req.Env,
	})
	if err != nil {
		h.logger.Warn("session spawn failed", zap.Error(err))
		sessionError(c, err)
		return
	}

	c.JSON(http.StatusCreated, info)
}

// ListSessions lists all live sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.sessions.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession returns one session's public state
func (h *Handlers) GetSession(c *gin.Context) {
	info, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		sessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

// SessionInput writes input bytes to a session's PTY
func (h *Handlers) SessionInput(c *gin.Context) {
	var req SessionInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sessions.Write(c.Param("id"), []byte(req.Data)); err != nil {
		sessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"written": len(req.Data)})
}

// SessionOutput drains pending output from a session. The read never
// blocks; an idle session yields zero bytes. Output that is not valid
// UTF-8 is carried base64-encoded.
func (h *Handlers) SessionOutput(c *gin.Context) {
	data, err := h.sessions.Read(c.Param("id"))
	if err != nil {
		sessionError(c, err)
		return
	}

	if text, terr := output.Text(data); terr == nil {
		c.JSON(http.StatusOK, gin.H{
			"data":  text,
			"bytes": len(data),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data_base64": base64.StdEncoding.EncodeToString(data),
		"encoding":    "base64",
		"bytes":       len(data),
	})
}

// ResizeSession changes a session's terminal dimensions
func (h *Handlers) ResizeSession(c *gin.Context) {
	var req SessionResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sessions.Resize(c.Param("id"), req.Rows, req.Cols); err != nil {
		sessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"resized": true,
		"rows":    req.Rows,
		"cols":    req.Cols,
	})
}

// CloseSession terminates a session. Unknown IDs succeed so teardown
// can be retried safely.
func (h *Handlers) CloseSession(c *gin.Context) {
	if err := h.sessions.Close(c.Param("id")); err != nil {
		sessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"closed": true})
}

// sessionError renders a classified error with a matching status
func sessionError(c *gin.Context, err error) {
	c.JSON(sessionStatus(err), gin.H{
		"error": err.Error(),
		"code":  string(errdefs.CodeOf(err)),
	})
}

// sessionStatus maps error codes to HTTP statuses for the session API
func sessionStatus(err error) int {
	switch errdefs.CodeOf(err) {
	case errdefs.CodeNotFound:
		return http.StatusNotFound
	case errdefs.CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
