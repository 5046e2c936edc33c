package api

import "github.com/jonesrussell/north-cloud/scraparr/internal/coverage"

// CreateScraperRequest registers a scraper.
type CreateScraperRequest struct {
	Name        string         `binding:"required" json:"name"`
	Description string         `json:"description"`
	ScraperType string         `json:"scraper_type"`
	Routine     string         `binding:"required" json:"routine"`
	Config      map[string]any `json:"config"`
	Headers     map[string]any `json:"headers"`
	IsActive    *bool          `json:"is_active"`
}

// UpdateScraperRequest changes the fields that are set.
type UpdateScraperRequest struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	ScraperType *string        `json:"scraper_type"`
	Routine     *string        `json:"routine"`
	Config      map[string]any `json:"config"`
	Headers     map[string]any `json:"headers"`
	IsActive    *bool          `json:"is_active"`
}

// ValidateRoutineRequest asks whether a routine name is registered.
type ValidateRoutineRequest struct {
	Routine string `binding:"required" json:"routine"`
}

// ValidateRoutineResponse answers ValidateRoutineRequest.
type ValidateRoutineResponse struct {
	Valid       bool   `json:"valid"`
	Routine     string `json:"routine"`
	Kind        string `json:"kind,omitempty"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RunScraperRequest carries ad hoc invocation params.
type RunScraperRequest struct {
	Params map[string]any `json:"params"`
}

// RunResponse reports a submitted invocation. ExecutionID is set once the
// execution started within the wait window.
type RunResponse struct {
	Status      string `json:"status"`
	ExecutionID *int64 `json:"execution_id,omitempty"`
	ScraperID   int64  `json:"scraper_id"`
	JobID       *int64 `json:"job_id,omitempty"`
	Message     string `json:"message"`
}

// Run statuses.
const (
	RunStatusStarted = "started"
	RunStatusQueued  = "queued"
)

// CoverageResponse summarizes grid progress of a scraper.
type CoverageResponse struct {
	ScraperID int64                    `json:"scraper_id"`
	Regions   []coverage.RegionSummary `json:"regions"`
}

// CreateJobRequest binds a schedule to a scraper.
type CreateJobRequest struct {
	ScraperID      int64          `binding:"required" json:"scraper_id"`
	Name           string         `binding:"required" json:"name"`
	Description    string         `json:"description"`
	ScheduleType   string         `binding:"required" json:"schedule_type"`
	ScheduleConfig map[string]any `json:"schedule_config"`
	Params         map[string]any `json:"params"`
	IsActive       *bool          `json:"is_active"`
}

// UpdateJobRequest changes the fields that are set.
type UpdateJobRequest struct {
	Name           *string        `json:"name"`
	Description    *string        `json:"description"`
	ScheduleType   *string        `json:"schedule_type"`
	ScheduleConfig map[string]any `json:"schedule_config"`
	Params         map[string]any `json:"params"`
	IsActive       *bool          `json:"is_active"`
}

// DeleteResponse reports whether a row was removed or only soft-deleted.
type DeleteResponse struct {
	Message     string `json:"message"`
	SoftDeleted bool   `json:"soft_deleted"`
}
