package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
)

// ExecutionsHandler serves execution history, logs and live progress.
type ExecutionsHandler struct {
	executions ExecutionReader
}

// NewExecutionsHandler creates an executions handler.
func NewExecutionsHandler(executions ExecutionReader) *ExecutionsHandler {
	return &ExecutionsHandler{executions: executions}
}

// ListExecutions handles GET /api/v1/executions
func (h *ExecutionsHandler) ListExecutions(c *gin.Context) {
	limit, offset := parseLimitOffset(c, defaultLimit, defaultOffset)
	scraperID, ok := queryInt64(c, "scraper_id")
	if !ok {
		return
	}
	jobID, ok := queryInt64(c, "job_id")
	if !ok {
		return
	}
	status := c.Query("status")
	if status != "" && !domain.ValidExecutionStatus(status) {
		respondBadRequest(c, "invalid status")
		return
	}

	executions, total, err := h.executions.List(c.Request.Context(), domain.ExecutionFilter{
		ScraperID: scraperID,
		JobID:     jobID,
		Status:    status,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		respondInternalError(c, "Failed to retrieve executions", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"executions": executions,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}

// GetStats handles GET /api/v1/executions/stats
func (h *ExecutionsHandler) GetStats(c *gin.Context) {
	scraperID, ok := queryInt64(c, "scraper_id")
	if !ok {
		return
	}

	stats, err := h.executions.Stats(c.Request.Context(), scraperID)
	if err != nil {
		respondInternalError(c, "Failed to compute execution stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetExecution handles GET /api/v1/executions/:id
func (h *ExecutionsHandler) GetExecution(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	exec, err := h.executions.Get(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, "execution", err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// GetLogs handles GET /api/v1/executions/:id/logs. Running executions are
// served from the live buffer.
func (h *ExecutionsHandler) GetLogs(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	text, err := h.executions.Logs(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, "execution", err)
		return
	}

	_, running := h.executions.Progress(id)
	c.JSON(http.StatusOK, gin.H{
		"execution_id": id,
		"running":      running,
		"logs":         text,
	})
}

// GetProgress handles GET /api/v1/executions/:id/progress. Finished
// executions report their final item count.
func (h *ExecutionsHandler) GetProgress(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if progress, running := h.executions.Progress(id); running {
		c.JSON(http.StatusOK, gin.H{
			"status":   domain.ExecutionStatusRunning,
			"progress": progress,
		})
		return
	}

	exec, err := h.executions.Get(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, "execution", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": exec.Status,
		"progress": domain.Progress{
			ExecutionID: exec.ID,
			Items:       exec.ItemsScraped,
			Message:     "execution " + exec.Status,
		},
	})
}

// DeleteExecution handles DELETE /api/v1/executions/:id. Running executions
// cannot be deleted.
func (h *ExecutionsHandler) DeleteExecution(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.executions.Delete(c.Request.Context(), id); err != nil {
		respondStoreError(c, "execution", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "execution deleted"})
}
