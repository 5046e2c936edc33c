package domain

import (
	"fmt"
	"time"
)

// Job binds a schedule and invocation parameters to one scraper.
type Job struct {
	ID             int64    `db:"id"              json:"id"`
	ScraperID      int64    `db:"scraper_id"      json:"scraper_id"`
	Name           string   `db:"name"            json:"name"`
	Description    string   `db:"description"     json:"description"`
	ScheduleType   string   `db:"schedule_type"   json:"schedule_type"`
	ScheduleConfig JSONBMap `db:"schedule_config" json:"schedule_config"`
	Params         JSONBMap `db:"params"          json:"params"`
	IsActive       bool     `db:"is_active"       json:"is_active"`

	LastRunAt *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	NextRunAt *time.Time `db:"next_run_at" json:"next_run_at,omitempty"`
	// SchedulerJobID is the live trigger handle, nil when no trigger exists.
	SchedulerJobID *string `db:"scheduler_job_id" json:"scheduler_job_id,omitempty"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TriggerID returns the trigger handle name for this job.
func (j *Job) TriggerID() string {
	return fmt.Sprintf("job_%d", j.ID)
}

// Schedulable reports whether the job should hold a live trigger.
func (j *Job) Schedulable() bool {
	return j.IsActive && j.DeletedAt == nil
}

// JobFilter narrows job listings.
type JobFilter struct {
	ScraperID      *int64
	IsActive       *bool
	IncludeDeleted bool
	Limit          int
	Offset         int
}
