package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/scraparr/internal/database"
	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
	"github.com/jonesrussell/north-cloud/scraparr/internal/runtime"
	"github.com/jonesrussell/north-cloud/scraparr/internal/scheduler"
)

// ScrapersHandler handles scraper and routine requests.
type ScrapersHandler struct {
	scrapers     database.ScraperStore
	jobs         database.JobStore
	namespaces   Namespaces
	coverage     CoverageSource
	registry     *runtime.Registry
	validator    RunValidator
	dispatcher   Submitter
	scheduler    JobScheduler
	runStartWait time.Duration
}

// NewScrapersHandler creates a scrapers handler.
func NewScrapersHandler(deps Deps) *ScrapersHandler {
	return &ScrapersHandler{
		scrapers:     deps.Scrapers,
		jobs:         deps.Jobs,
		namespaces:   deps.Namespaces,
		coverage:     deps.Coverage,
		registry:     deps.Registry,
		validator:    deps.Validator,
		dispatcher:   deps.Dispatcher,
		scheduler:    deps.Scheduler,
		runStartWait: deps.RunStartWait,
	}
}

// ListRoutines handles GET /api/v1/routines
func (h *ScrapersHandler) ListRoutines(c *gin.Context) {
	routines := h.registry.List()
	c.JSON(http.StatusOK, gin.H{
		"routines": routines,
		"total":    len(routines),
	})
}

// ValidateRoutine handles POST /api/v1/scrapers/validate
func (h *ScrapersHandler) ValidateRoutine(c *gin.Context) {
	var req ValidateRoutineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	desc, err := h.registry.Lookup(req.Routine)
	if err != nil {
		c.JSON(http.StatusBadRequest, ValidateRoutineResponse{Valid: false, Routine: req.Routine, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ValidateRoutineResponse{
		Valid:       true,
		Routine:     desc.Name,
		Kind:        desc.Kind,
		Description: desc.Description,
	})
}

// ListScrapers handles GET /api/v1/scrapers
func (h *ScrapersHandler) ListScrapers(c *gin.Context) {
	limit, offset := parseLimitOffset(c, defaultLimit, defaultOffset)
	includeDeleted, ok := queryBool(c, "include_deleted")
	if !ok {
		return
	}

	filter := domain.ScraperFilter{Limit: limit, Offset: offset}
	if includeDeleted != nil {
		filter.IncludeDeleted = *includeDeleted
	}

	scrapers, total, err := h.scrapers.List(c.Request.Context(), filter)
	if err != nil {
		respondInternalError(c, "Failed to retrieve scrapers", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"scrapers": scrapers,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// CreateScraper handles POST /api/v1/scrapers
func (h *ScrapersHandler) CreateScraper(c *gin.Context) {
	var req CreateScraperRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	desc, err := h.registry.Lookup(req.Routine)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	scraper := &domain.Scraper{
		Name:        req.Name,
		Description: req.Description,
		ScraperType: req.ScraperType,
		Routine:     desc.Name,
		Config:      domain.JSONBMap(req.Config),
		Headers:     domain.JSONBMap(req.Headers),
		IsActive:    true,
	}
	if scraper.ScraperType == "" {
		scraper.ScraperType = desc.Kind
	}
	if scraper.ScraperType != domain.ScraperTypeAPI && scraper.ScraperType != domain.ScraperTypeWeb {
		respondBadRequest(c, "scraper_type must be api or web")
		return
	}
	if req.IsActive != nil {
		scraper.IsActive = *req.IsActive
	}

	ctx := c.Request.Context()
	if err = h.scrapers.Create(ctx, scraper); err != nil {
		respondStoreError(c, "scraper", err)
		return
	}
	if _, err = h.namespaces.EnsureNamespace(ctx, scraper.ID); err != nil {
		respondInternalError(c, "Failed to create scraper namespace", err)
		return
	}

	logger.FromContext(ctx).Info("Scraper registered",
		logger.Int64("scraper_id", scraper.ID),
		logger.String("routine", scraper.Routine),
		logger.String("schema_name", scraper.SchemaName),
	)
	c.JSON(http.StatusCreated, scraper)
}

// GetScraper handles GET /api/v1/scrapers/:id
func (h *ScrapersHandler) GetScraper(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	scraper, err := h.scrapers.GetByID(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, "scraper", err)
		return
	}
	c.JSON(http.StatusOK, scraper)
}

// UpdateScraper handles PUT /api/v1/scrapers/:id. Deactivating a scraper
// deactivates its jobs; a running execution is left to finish.
func (h *ScrapersHandler) UpdateScraper(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req UpdateScraperRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	scraper, err := h.scrapers.GetByID(ctx, id)
	if err != nil {
		respondStoreError(c, "scraper", err)
		return
	}
	wasActive := scraper.IsActive

	if req.Routine != nil {
		desc, lookupErr := h.registry.Lookup(*req.Routine)
		if lookupErr != nil {
			respondBadRequest(c, lookupErr.Error())
			return
		}
		scraper.Routine = desc.Name
	}
	if req.Name != nil {
		scraper.Name = *req.Name
	}
	if req.Description != nil {
		scraper.Description = *req.Description
	}
	if req.ScraperType != nil {
		if *req.ScraperType != domain.ScraperTypeAPI && *req.ScraperType != domain.ScraperTypeWeb {
			respondBadRequest(c, "scraper_type must be api or web")
			return
		}
		scraper.ScraperType = *req.ScraperType
	}
	if req.Config != nil {
		scraper.Config = domain.JSONBMap(req.Config)
	}
	if req.Headers != nil {
		scraper.Headers = domain.JSONBMap(req.Headers)
	}
	if req.IsActive != nil {
		scraper.IsActive = *req.IsActive
	}

	if err = h.scrapers.Update(ctx, scraper); err != nil {
		respondStoreError(c, "scraper", err)
		return
	}

	if wasActive && !scraper.IsActive {
		if err = h.deactivateJobs(c, scraper.ID); err != nil {
			respondInternalError(c, "Failed to deactivate scraper jobs", err)
			return
		}
	}

	c.JSON(http.StatusOK, scraper)
}

// DeleteScraper handles DELETE /api/v1/scrapers/:id. Scrapers referenced by
// executions are soft-deleted and keep their namespace.
func (h *ScrapersHandler) DeleteScraper(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.scrapers.GetByID(ctx, id); err != nil {
		respondStoreError(c, "scraper", err)
		return
	}

	referenced, err := h.scrapers.HasExecutions(ctx, id)
	if err != nil {
		respondInternalError(c, "Failed to check scraper executions", err)
		return
	}

	if referenced {
		if err = h.deactivateJobs(c, id); err != nil {
			respondInternalError(c, "Failed to deactivate scraper jobs", err)
			return
		}
		if err = h.scrapers.SoftDelete(ctx, id); err != nil {
			respondStoreError(c, "scraper", err)
			return
		}
		c.JSON(http.StatusOK, DeleteResponse{Message: "scraper deactivated and soft-deleted", SoftDeleted: true})
		return
	}

	if err = h.unscheduleJobs(c, id); err != nil {
		respondInternalError(c, "Failed to unschedule scraper jobs", err)
		return
	}
	if err = h.scrapers.Delete(ctx, id); err != nil {
		respondStoreError(c, "scraper", err)
		return
	}
	if err = h.namespaces.DropNamespace(ctx, id); err != nil {
		logger.FromContext(ctx).Warn("Failed to drop scraper namespace",
			logger.Int64("scraper_id", id),
			logger.Error(err),
		)
	}

	c.JSON(http.StatusOK, DeleteResponse{Message: "scraper deleted"})
}

// RunScraper handles POST /api/v1/scrapers/:id/run
func (h *ScrapersHandler) RunScraper(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req RunScraperRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "Invalid request: "+err.Error())
			return
		}
	}

	if _, _, err := h.validator.Validate(c.Request.Context(), id, req.Params); err != nil {
		respondStoreError(c, "scraper", err)
		return
	}

	ticket, err := h.dispatcher.Submit(runtime.Invocation{
		ScraperID: id,
		Params:    req.Params,
		Trigger:   scheduler.TriggerManual,
	})
	if err != nil {
		respondStoreError(c, "scraper", err)
		return
	}

	awaitStart(c, ticket, h.runStartWait, RunResponse{ScraperID: id})
}

// GetCoverage handles GET /api/v1/scrapers/:id/coverage
func (h *ScrapersHandler) GetCoverage(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.scrapers.GetByID(ctx, id); err != nil {
		respondStoreError(c, "scraper", err)
		return
	}

	regions, err := h.coverage.Summary(ctx, id)
	if err != nil {
		respondInternalError(c, "Failed to read coverage", err)
		return
	}
	c.JSON(http.StatusOK, CoverageResponse{ScraperID: id, Regions: regions})
}

func (h *ScrapersHandler) deactivateJobs(c *gin.Context, scraperID int64) error {
	ctx := c.Request.Context()
	ids, err := h.jobs.DeactivateByScraper(ctx, scraperID)
	if err != nil {
		return err
	}
	for _, jobID := range ids {
		if unErr := h.scheduler.Unschedule(ctx, jobID); unErr != nil {
			return unErr
		}
	}
	if len(ids) > 0 {
		logger.FromContext(ctx).Info("Scraper jobs deactivated",
			logger.Int64("scraper_id", scraperID),
			logger.Int("jobs", len(ids)),
		)
	}
	return nil
}

func (h *ScrapersHandler) unscheduleJobs(c *gin.Context, scraperID int64) error {
	ctx := c.Request.Context()
	jobs, _, err := h.jobs.List(ctx, domain.JobFilter{ScraperID: &scraperID, IncludeDeleted: true, Limit: maxLimit})
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if unErr := h.scheduler.Unschedule(ctx, job.ID); unErr != nil && !errors.Is(unErr, database.ErrNotFound) {
			return unErr
		}
	}
	return nil
}
