// Package api implements the scraparr management HTTP API.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/scraparr/internal/database"
	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
	"github.com/jonesrussell/north-cloud/scraparr/internal/runtime"
	"github.com/jonesrussell/north-cloud/scraparr/internal/scheduler"
)

const (
	defaultLimit  = 50
	defaultOffset = 0
	maxLimit      = 500
)

// parseLimitOffset parses limit and offset query params with defaults.
func parseLimitOffset(c *gin.Context, defaultLimit, defaultOffset int) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", strconv.Itoa(defaultOffset)))
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = defaultOffset
	}
	return limit, offset
}

// parseID reads a positive integer path parameter. It writes the 400 itself.
func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondBadRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryInt64 reads an optional integer query parameter.
func queryInt64(c *gin.Context, name string) (*int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondBadRequest(c, "invalid "+name)
		return nil, false
	}
	return &v, true
}

// queryBool reads an optional boolean query parameter.
func queryBool(c *gin.Context, name string) (*bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		respondBadRequest(c, "invalid "+name)
		return nil, false
	}
	return &v, true
}

// respondError sends a JSON error response.
func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// respondNotFound sends a 404 with resource not found message.
func respondNotFound(c *gin.Context, resource string) {
	respondError(c, http.StatusNotFound, resource+" not found")
}

// respondBadRequest sends a 400 with message.
func respondBadRequest(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, message)
}

// respondInternalError logs err with the request logger and sends a 500.
func respondInternalError(c *gin.Context, message string, err error) {
	logger.FromContext(c.Request.Context()).Error(message, logger.Error(err))
	_ = c.Error(err)
	respondError(c, http.StatusInternalServerError, message)
}

// respondStoreError maps domain and store errors onto HTTP statuses.
func respondStoreError(c *gin.Context, resource string, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		respondBadRequest(c, vErr.Error())
	case errors.Is(err, database.ErrNotFound), errors.Is(err, runtime.ErrScraperNotFound):
		respondNotFound(c, resource)
	case errors.Is(err, database.ErrConflict):
		respondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrExecutionRunning):
		respondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, runtime.ErrUnknownRoutine), errors.Is(err, runtime.ErrScraperInactive):
		respondBadRequest(c, err.Error())
	case errors.Is(err, scheduler.ErrDispatcherStopped), errors.Is(err, scheduler.ErrDispatcherNotRunning):
		respondError(c, http.StatusServiceUnavailable, err.Error())
	default:
		respondInternalError(c, "failed to process "+resource, err)
	}
}
