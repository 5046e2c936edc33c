package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/scraparr/internal/coverage"
	"github.com/jonesrussell/north-cloud/scraparr/internal/database"
	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
	"github.com/jonesrussell/north-cloud/scraparr/internal/runtime"
	"github.com/jonesrussell/north-cloud/scraparr/internal/scheduler"
	"github.com/jonesrussell/north-cloud/scraparr/internal/schema"
)

// Namespaces creates and drops isolated scraper schemas.
type Namespaces interface {
	EnsureNamespace(ctx context.Context, scraperID int64) (*schema.Namespace, error)
	DropNamespace(ctx context.Context, scraperID int64) error
}

// CoverageSource reads grid progress of a scraper.
type CoverageSource interface {
	Summary(ctx context.Context, scraperID int64) ([]coverage.RegionSummary, error)
}

// RunValidator checks a scraper can be invoked with the given params without
// creating an execution.
type RunValidator interface {
	Validate(ctx context.Context, scraperID int64, params runtime.Params) (*domain.Scraper, runtime.Descriptor, error)
	CheckParams(scraper *domain.Scraper, params runtime.Params) error
}

// Submitter queues one-off invocations.
type Submitter interface {
	Submit(inv runtime.Invocation) (*scheduler.Ticket, error)
}

// JobScheduler installs and removes job triggers.
type JobScheduler interface {
	Schedule(ctx context.Context, job *domain.Job) error
	Unschedule(ctx context.Context, jobID int64) error
	RunNow(job *domain.Job) (*scheduler.Ticket, error)
}

// ExecutionReader exposes executions and live execution state.
type ExecutionReader interface {
	Get(ctx context.Context, executionID int64) (*domain.Execution, error)
	List(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.Execution, int, error)
	Delete(ctx context.Context, executionID int64) error
	Stats(ctx context.Context, scraperID *int64) (*domain.ExecutionStats, error)
	Logs(ctx context.Context, executionID int64) (string, error)
	Progress(executionID int64) (domain.Progress, bool)
}

// Deps are the collaborators of the handlers.
type Deps struct {
	Scrapers   database.ScraperStore
	Jobs       database.JobStore
	Executions ExecutionReader
	Namespaces Namespaces
	Coverage   CoverageSource
	Registry   *runtime.Registry
	Validator  RunValidator
	Dispatcher Submitter
	Scheduler  JobScheduler
	// RunStartWait bounds how long run endpoints wait for an execution id.
	RunStartWait time.Duration
}

// SetupRoutes registers every /api/v1 route.
func SetupRoutes(router *gin.Engine, deps Deps) {
	scrapers := NewScrapersHandler(deps)
	jobs := NewJobsHandler(deps)
	executions := NewExecutionsHandler(deps.Executions)

	v1 := router.Group("/api/v1")

	v1.GET("/routines", scrapers.ListRoutines)

	v1.GET("/scrapers", scrapers.ListScrapers)
	v1.POST("/scrapers", scrapers.CreateScraper)
	v1.POST("/scrapers/validate", scrapers.ValidateRoutine)
	v1.GET("/scrapers/:id", scrapers.GetScraper)
	v1.PUT("/scrapers/:id", scrapers.UpdateScraper)
	v1.DELETE("/scrapers/:id", scrapers.DeleteScraper)
	v1.POST("/scrapers/:id/run", scrapers.RunScraper)
	v1.GET("/scrapers/:id/coverage", scrapers.GetCoverage)

	v1.GET("/jobs", jobs.ListJobs)
	v1.POST("/jobs", jobs.CreateJob)
	v1.GET("/jobs/:id", jobs.GetJob)
	v1.PUT("/jobs/:id", jobs.UpdateJob)
	v1.DELETE("/jobs/:id", jobs.DeleteJob)
	v1.POST("/jobs/:id/pause", jobs.PauseJob)
	v1.POST("/jobs/:id/resume", jobs.ResumeJob)
	v1.POST("/jobs/:id/run", jobs.RunJob)

	v1.GET("/executions", executions.ListExecutions)
	v1.GET("/executions/stats", executions.GetStats)
	v1.GET("/executions/:id", executions.GetExecution)
	v1.GET("/executions/:id/logs", executions.GetLogs)
	v1.GET("/executions/:id/progress", executions.GetProgress)
	v1.DELETE("/executions/:id", executions.DeleteExecution)
}

// NamespaceCoverage reads grid progress from scraper namespaces.
type NamespaceCoverage struct {
	Manager *schema.Manager
}

// Summary returns per-region progress; empty when nothing was checkpointed.
func (n NamespaceCoverage) Summary(ctx context.Context, scraperID int64) ([]coverage.RegionSummary, error) {
	return coverage.NewNamespaceProgress(n.Manager.Namespace(scraperID)).Summary(ctx)
}
