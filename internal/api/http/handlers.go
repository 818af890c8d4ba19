package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/substratehq/substrate/internal/domain/executor"
	"github.com/substratehq/substrate/internal/domain/terminal"
	"github.com/substratehq/substrate/internal/protocol"
	"github.com/substratehq/substrate/internal/shared/errdefs"
)

// ServiceVersion is reported by the banner and health endpoints.
const ServiceVersion = "0.3.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	executor *executor.Executor
	sessions *terminal.Manager
	logger   *zap.Logger
	started  time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(exec *executor.Executor, sessions *terminal.Manager, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		executor: exec,
		sessions: sessions,
		logger:   logger,
		started:  time.Now(),
	}
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "online",
		"service":  "substrate",
		"version":  ServiceVersion,
		"protocol": protocol.Version,
	})
}

// Health handles the health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"sessions":       gin.H{"active": len(h.sessions.List())},
		"uptime_seconds": time.Since(h.started).Seconds(),
	})
}

// Execute runs one command envelope and renders the result envelope.
// The body is always a complete envelope; the HTTP status mirrors the
// envelope's error class so plain HTTP clients can branch without
// parsing the body.
func (h *Handlers) Execute(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		resp := protocol.Failure(errdefs.InvalidRequest("body", err.Error()), protocol.Metadata{})
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	req, err := protocol.Decode(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, protocol.Failure(err, protocol.Metadata{}))
		return
	}

	resp := h.executor.Execute(c.Request.Context(), req)
	c.JSON(envelopeStatus(resp), resp)
}

// envelopeStatus maps a result envelope to its transport status.
func envelopeStatus(resp *protocol.Response) int {
	if resp.Result.Status == protocol.StatusSuccess {
		return http.StatusOK
	}
	if resp.Result.Error == nil {
		return http.StatusInternalServerError
	}

	switch errdefs.Code(resp.Result.Error.Code) {
	case errdefs.CodeInvalidRequest:
		return http.StatusBadRequest
	case errdefs.CodeNotFound:
		return http.StatusNotFound
	case errdefs.CodeConnectFailed, errdefs.CodeAuthFailed:
		return http.StatusBadGateway
	case errdefs.CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case errdefs.CodeConnectionTimeout, errdefs.CodeExecutionTimeout, errdefs.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
