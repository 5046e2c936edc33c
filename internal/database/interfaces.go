package database

import (
	"context"
	"time"

	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
)

// ScraperStore is the scraper persistence contract.
type ScraperStore interface {
	Create(ctx context.Context, s *domain.Scraper) error
	GetByID(ctx context.Context, id int64) (*domain.Scraper, error)
	List(ctx context.Context, filter domain.ScraperFilter) ([]*domain.Scraper, int, error)
	Update(ctx context.Context, s *domain.Scraper) error
	HasExecutions(ctx context.Context, id int64) (bool, error)
	SoftDelete(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// JobStore is the job persistence contract.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id int64) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int, error)
	Update(ctx context.Context, job *domain.Job) error
	HasExecutions(ctx context.Context, id int64) (bool, error)
	SoftDelete(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	DeactivateByScraper(ctx context.Context, scraperID int64) ([]int64, error)

	// Scheduler operations
	ListSchedulable(ctx context.Context) ([]*domain.Job, error)
	SetTrigger(ctx context.Context, id int64, triggerID *string, nextRunAt *time.Time) error
	RecordFire(ctx context.Context, id int64, firedAt time.Time, triggerID *string, nextRunAt *time.Time) error
}

// ExecutionStore is the execution persistence contract.
type ExecutionStore interface {
	Create(ctx context.Context, e *domain.Execution) error
	AppendLogs(ctx context.Context, id int64, text string) (bool, error)
	Finish(ctx context.Context, id int64, p FinishParams) (bool, error)
	FailOrphaned(ctx context.Context, message string) (int64, error)
	Exists(ctx context.Context, id int64) (bool, error)
	GetByID(ctx context.Context, id int64) (*domain.Execution, error)
	List(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.Execution, int, error)
	Delete(ctx context.Context, id int64) error
	Stats(ctx context.Context, scraperID *int64) (*domain.ExecutionStats, error)
}

var (
	_ ScraperStore   = (*ScraperRepository)(nil)
	_ JobStore       = (*JobRepository)(nil)
	_ ExecutionStore = (*ExecutionRepository)(nil)
)
