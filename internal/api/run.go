package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
	"github.com/jonesrussell/north-cloud/scraparr/internal/scheduler"
)

// awaitStart waits up to wait for the ticket's execution id and writes the
// 202 response. Invocations still queued after the wait are reported as
// queued; invocations that failed before starting are mapped to an error.
func awaitStart(c *gin.Context, ticket *scheduler.Ticket, wait time.Duration, resp RunResponse) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
	defer cancel()

	executionID, err := ticket.Started(ctx)
	switch {
	case err == nil:
		resp.Status = RunStatusStarted
		resp.ExecutionID = &executionID
		resp.Message = "execution started"
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		resp.Status = RunStatusQueued
		resp.Message = "execution queued, waiting for a free worker"
	default:
		respondStoreError(c, "scraper", err)
		return
	}

	logger.FromContext(c.Request.Context()).Info("Invocation submitted",
		logger.Int64("scraper_id", resp.ScraperID),
		logger.String("status", resp.Status),
	)
	c.JSON(http.StatusAccepted, resp)
}
