package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/maestro/internal/application/orchestrator"
	"github.com/aescanero/maestro/pkg/maestro"
	"github.com/aescanero/maestro/pkg/ports"
)

// RunSubmitResponse represents a queued run
type RunSubmitResponse struct {
	RunID      string `json:"run_id"`
	Definition string `json:"definition"`
	Status     string `json:"status"`
	QueuedAt   string `json:"queued_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	checks := gin.H{
		"orchestrator": "ok",
		"active_runs":  len(s.orchestrator.ActiveRuns()),
	}
	if s.health != nil {
		workerStatus := s.health.GetStatus()
		checks["workers"] = workerStatus
		if !workerStatus.Healthy {
			status = "degraded"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).String(),
		"checks":    checks,
	})
}

// handleListDefinitions handles listing stored definitions
func (s *Server) handleListDefinitions(c *gin.Context) {
	names, err := s.orchestrator.ListDefinitions(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"definitions": names,
		"total":       len(names),
	})
}

// handleSaveDefinition handles storing a definition
func (s *Server) handleSaveDefinition(c *gin.Context) {
	name := c.Param("name")

	doc, err := maestro.DecodeDocument(c.Request.Body)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if err := s.orchestrator.SaveDefinition(c.Request.Context(), name, doc); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name": name,
		"jobs": len(doc.Jobs),
	})
}

// handleGetDefinition handles getting a stored definition
func (s *Server) handleGetDefinition(c *gin.Context) {
	doc, err := s.orchestrator.GetDefinition(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

// handleDeleteDefinition handles deleting a stored definition
func (s *Server) handleDeleteDefinition(c *gin.Context) {
	if err := s.orchestrator.DeleteDefinition(c.Request.Context(), c.Param("name")); err != nil {
		s.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// handleRunDefinition runs a stored definition. With ?async=true the run is
// queued and only its ID is returned.
func (s *Server) handleRunDefinition(c *gin.Context) {
	name := c.Param("name")

	async, _ := strconv.ParseBool(c.Query("async"))
	if async {
		runID, err := s.orchestrator.Submit(c.Request.Context(), name)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, RunSubmitResponse{
			RunID:      runID,
			Definition: name,
			Status:     string(orchestrator.RunStatusQueued),
			QueuedAt:   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	result, err := s.orchestrator.Run(c.Request.Context(), name, c.Query("run_id"))
	s.writeRunResult(c, result, err)
}

// handleRunDocument runs a document given in the request body without
// storing it
func (s *Server) handleRunDocument(c *gin.Context) {
	doc, err := maestro.DecodeDocument(c.Request.Body)
	if err != nil {
		s.writeError(c, err)
		return
	}

	result, err := s.orchestrator.RunDocument(c.Request.Context(), c.Query("run_id"), doc)
	s.writeRunResult(c, result, err)
}

// handleListRuns handles listing active runs
func (s *Server) handleListRuns(c *gin.Context) {
	runs := s.orchestrator.ActiveRuns()
	if runs == nil {
		runs = []orchestrator.RunInfo{}
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
	})
}

// handleGetRun handles getting an active run
func (s *Server) handleGetRun(c *gin.Context) {
	info, err := s.orchestrator.GetRun(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

// handleCancelRun handles run cancellation
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.CancelRun(runID); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       runID,
		"status":       orchestrator.RunStatusCancelled,
		"cancelled_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeRunResult reports a finished run. A run that fails after starting
// still returns its result body.
func (s *Server) writeRunResult(c *gin.Context, result *orchestrator.RunResult, err error) {
	if result == nil {
		s.writeError(c, err)
		return
	}

	switch result.Status {
	case orchestrator.RunStatusCompleted:
		c.JSON(http.StatusOK, result)
	case orchestrator.RunStatusCancelled:
		c.JSON(http.StatusConflict, result)
	default:
		c.JSON(http.StatusUnprocessableEntity, result)
	}
}

// writeError maps orchestrator errors to HTTP responses
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, ports.ErrDefinitionNotFound):
		status, code = http.StatusNotFound, "DEFINITION_NOT_FOUND"
	case errors.Is(err, orchestrator.ErrRunNotFound):
		status, code = http.StatusNotFound, "RUN_NOT_FOUND"
	case errors.Is(err, orchestrator.ErrInvalidDocument),
		errors.Is(err, maestro.ErrDocumentVersion):
		status, code = http.StatusUnprocessableEntity, "INVALID_DOCUMENT"
	case errors.Is(err, orchestrator.ErrRunExists),
		errors.Is(err, orchestrator.ErrRunFinished):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, orchestrator.ErrNoDispatcher):
		status, code = http.StatusServiceUnavailable, "ASYNC_DISABLED"
	case errors.Is(err, maestro.ErrMalformed):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}

	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: err.Error(),
		},
	})
}
