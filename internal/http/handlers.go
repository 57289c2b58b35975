package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/term/session"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	manager *session.Manager
	metrics *monitoring.Metrics
}

// NewHandlers creates a new handler set
func NewHandlers(manager *session.Manager, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{manager: manager, metrics: metrics}
}

// CreateSessionRequest is the body of POST /sessions
type CreateSessionRequest struct {
	Shell      string            `json:"shell"`
	WorkingDir string            `json:"working_dir"`
	Cols       int               `json:"cols"`
	Rows       int               `json:"rows"`
	Env        map[string]string `json:"env"`
}

// ExecuteRequest is the body of POST /sessions/:id/execute
type ExecuteRequest struct {
	Command string `json:"command" binding:"required"`
}

// ResizeRequest is the body of POST /sessions/:id/resize
type ResizeRequest struct {
	Cols int `json:"cols" binding:"required"`
	Rows int `json:"rows" binding:"required"`
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Terminal Session Host",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.manager.Count(),
	})
}

// Stats returns the metrics snapshot as JSON
func (h *Handlers) Stats(c *gin.Context) {
	snap := h.metrics.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"total_requests":  snap.TotalRequests,
		"total_errors":    snap.TotalErrors,
		"active_sessions": snap.ActiveSessions,
		"total_commands":  snap.TotalCommands,
	})
}

// CreateSession spawns a new interactive session and blocks until it
// is ready for input
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	sess, err := h.manager.Create(c.Request.Context(), session.Options{
		Shell:      req.Shell,
		WorkingDir: req.WorkingDir,
		Cols:       req.Cols,
		Rows:       req.Rows,
		Env:        req.Env,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.metrics.RecordSessionCreated()
	c.JSON(http.StatusCreated, sess.Info())
}

// ListSessions lists all active sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	infos := h.manager.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": infos,
		"count":    len(infos),
	})
}

// GetSession retrieves one session
func (h *Handlers) GetSession(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess.Info())
}

// Execute runs a command on a session and returns its result
func (h *Handlers) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timer := monitoring.NewTimer(h.metrics)
	result, err := h.manager.Execute(c.Request.Context(), c.Param("id"), req.Command)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			timer.Stop("not_found")
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrNotReady):
			timer.Stop("not_ready")
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrClosed):
			timer.Stop("closed")
			c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		default:
			timer.Stop("error")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	timer.Stop("success")
	c.JSON(http.StatusOK, gin.H{
		"output":      result.Output,
		"exit_code":   result.ExitCode,
		"executed_at": time.Now().Unix(),
	})
}

// Interrupt delivers a cooperative interrupt to the session
func (h *Handlers) Interrupt(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := sess.Interrupt(); err != nil {
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Resize changes a session's terminal dimensions
func (h *Handlers) Resize(c *gin.Context) {
	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := sess.Resize(req.Cols, req.Rows); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cols": req.Cols, "rows": req.Rows})
}

// CloseSession terminates a session
func (h *Handlers) CloseSession(c *gin.Context) {
	if err := h.manager.Close(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.metrics.RecordSessionClosed()
	c.JSON(http.StatusOK, gin.H{"success": true})
}
