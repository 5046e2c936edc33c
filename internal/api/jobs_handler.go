package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/scraparr/internal/database"
	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
	"github.com/jonesrussell/north-cloud/scraparr/internal/scheduler"
)

// JobsHandler handles job-related HTTP requests.
type JobsHandler struct {
	jobs         database.JobStore
	scrapers     database.ScraperStore
	validator    RunValidator
	scheduler    JobScheduler
	runStartWait time.Duration
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(deps Deps) *JobsHandler {
	return &JobsHandler{
		jobs:         deps.Jobs,
		scrapers:     deps.Scrapers,
		validator:    deps.Validator,
		scheduler:    deps.Scheduler,
		runStartWait: deps.RunStartWait,
	}
}

// ListJobs handles GET /api/v1/jobs
func (h *JobsHandler) ListJobs(c *gin.Context) {
	limit, offset := parseLimitOffset(c, defaultLimit, defaultOffset)
	scraperID, ok := queryInt64(c, "scraper_id")
	if !ok {
		return
	}
	isActive, ok := queryBool(c, "is_active")
	if !ok {
		return
	}

	jobs, total, err := h.jobs.List(c.Request.Context(), domain.JobFilter{
		ScraperID: scraperID,
		IsActive:  isActive,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		respondInternalError(c, "Failed to retrieve jobs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetJob handles GET /api/v1/jobs/:id
func (h *JobsHandler) GetJob(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	job, err := h.jobs.GetByID(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, "job", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CreateJob handles POST /api/v1/jobs. The schedule is validated before the
// job is stored; active jobs are scheduled immediately.
func (h *JobsHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	if err := scheduler.ValidateSchedule(req.ScheduleType, req.ScheduleConfig); err != nil {
		respondStoreError(c, "job", err)
		return
	}

	ctx := c.Request.Context()
	scraper, err := h.scrapers.GetByID(ctx, req.ScraperID)
	if err != nil {
		respondStoreError(c, "scraper", err)
		return
	}
	if err = h.validator.CheckParams(scraper, req.Params); err != nil {
		respondStoreError(c, "job", err)
		return
	}

	job := &domain.Job{
		ScraperID:      req.ScraperID,
		Name:           req.Name,
		Description:    req.Description,
		ScheduleType:   req.ScheduleType,
		ScheduleConfig: domain.JSONBMap(req.ScheduleConfig),
		Params:         domain.JSONBMap(req.Params),
		IsActive:       true,
	}
	if req.IsActive != nil {
		job.IsActive = *req.IsActive
	}

	if err = h.jobs.Create(ctx, job); err != nil {
		respondStoreError(c, "job", err)
		return
	}

	if job.IsActive {
		if err = h.scheduler.Schedule(ctx, job); err != nil {
			respondInternalError(c, "Job created but could not be scheduled", err)
			return
		}
	}

	logger.FromContext(ctx).Info("Job created",
		logger.Int64("job_id", job.ID),
		logger.Int64("scraper_id", job.ScraperID),
		logger.String("schedule_type", job.ScheduleType),
	)
	h.respondFresh(c, http.StatusCreated, job)
}

// UpdateJob handles PUT /api/v1/jobs/:id. The trigger is rebuilt from the
// updated job, or removed when the job became inactive.
func (h *JobsHandler) UpdateJob(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	job, err := h.jobs.GetByID(ctx, id)
	if err != nil {
		respondStoreError(c, "job", err)
		return
	}

	scheduleChanged := req.ScheduleType != nil || req.ScheduleConfig != nil
	if req.ScheduleType != nil {
		job.ScheduleType = *req.ScheduleType
	}
	if req.ScheduleConfig != nil {
		job.ScheduleConfig = domain.JSONBMap(req.ScheduleConfig)
	}
	if scheduleChanged {
		if err = scheduler.ValidateSchedule(job.ScheduleType, job.ScheduleConfig); err != nil {
			respondStoreError(c, "job", err)
			return
		}
	}
	if req.Name != nil {
		job.Name = *req.Name
	}
	if req.Description != nil {
		job.Description = *req.Description
	}
	if req.Params != nil {
		job.Params = domain.JSONBMap(req.Params)
		scraper, scraperErr := h.scrapers.GetByID(ctx, job.ScraperID)
		if scraperErr != nil {
			respondStoreError(c, "scraper", scraperErr)
			return
		}
		if err = h.validator.CheckParams(scraper, req.Params); err != nil {
			respondStoreError(c, "job", err)
			return
		}
	}
	if req.IsActive != nil {
		job.IsActive = *req.IsActive
	}

	if err = h.jobs.Update(ctx, job); err != nil {
		respondStoreError(c, "job", err)
		return
	}
	if err = h.scheduler.Schedule(ctx, job); err != nil {
		respondInternalError(c, "Job updated but could not be rescheduled", err)
		return
	}

	h.respondFresh(c, http.StatusOK, job)
}

// PauseJob handles POST /api/v1/jobs/:id/pause
func (h *JobsHandler) PauseJob(c *gin.Context) {
	h.setActive(c, false)
}

// ResumeJob handles POST /api/v1/jobs/:id/resume
func (h *JobsHandler) ResumeJob(c *gin.Context) {
	h.setActive(c, true)
}

func (h *JobsHandler) setActive(c *gin.Context, active bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	job, err := h.jobs.GetByID(ctx, id)
	if err != nil {
		respondStoreError(c, "job", err)
		return
	}

	if active {
		if _, scraperErr := h.scrapers.GetByID(ctx, job.ScraperID); scraperErr != nil {
			respondBadRequest(c, "job's scraper no longer exists")
			return
		}
	}

	job.IsActive = active
	if err = h.jobs.Update(ctx, job); err != nil {
		respondStoreError(c, "job", err)
		return
	}
	if err = h.scheduler.Schedule(ctx, job); err != nil {
		respondInternalError(c, "Failed to update job trigger", err)
		return
	}

	h.respondFresh(c, http.StatusOK, job)
}

// DeleteJob handles DELETE /api/v1/jobs/:id
func (h *JobsHandler) DeleteJob(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.jobs.GetByID(ctx, id); err != nil {
		respondStoreError(c, "job", err)
		return
	}
	if err := h.scheduler.Unschedule(ctx, id); err != nil {
		respondInternalError(c, "Failed to unschedule job", err)
		return
	}

	referenced, err := h.jobs.HasExecutions(ctx, id)
	if err != nil {
		respondInternalError(c, "Failed to check job executions", err)
		return
	}

	if referenced {
		if err = h.jobs.SoftDelete(ctx, id); err != nil {
			respondStoreError(c, "job", err)
			return
		}
		c.JSON(http.StatusOK, DeleteResponse{Message: "job deactivated and soft-deleted", SoftDeleted: true})
		return
	}

	if err = h.jobs.Delete(ctx, id); err != nil {
		respondStoreError(c, "job", err)
		return
	}
	c.JSON(http.StatusOK, DeleteResponse{Message: "job deleted"})
}

// RunJob handles POST /api/v1/jobs/:id/run with the job's stored params.
func (h *JobsHandler) RunJob(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	job, err := h.jobs.GetByID(ctx, id)
	if err != nil {
		respondStoreError(c, "job", err)
		return
	}
	if _, _, err = h.validator.Validate(ctx, job.ScraperID, job.Params); err != nil {
		respondStoreError(c, "scraper", err)
		return
	}

	ticket, err := h.scheduler.RunNow(job)
	if err != nil {
		respondStoreError(c, "job", err)
		return
	}

	jobID := job.ID
	awaitStart(c, ticket, h.runStartWait, RunResponse{ScraperID: job.ScraperID, JobID: &jobID})
}

// respondFresh re-reads the job so trigger columns written by the scheduler
// are included.
func (h *JobsHandler) respondFresh(c *gin.Context, status int, job *domain.Job) {
	fresh, err := h.jobs.GetByID(c.Request.Context(), job.ID)
	if err != nil {
		fresh = job
	}
	c.JSON(status, fresh)
}
