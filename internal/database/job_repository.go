package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
)

const jobColumns = `id, scraper_id, name, description, schedule_type, schedule_config, params,
	is_active, last_run_at, next_run_at, scheduler_job_id, created_at, updated_at, deleted_at`

// JobRepository handles database operations for jobs.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (scraper_id, name, description, schedule_type, schedule_config, params, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		job.ScraperID,
		job.Name,
		job.Description,
		job.ScheduleType,
		job.ScheduleConfig,
		job.Params,
		job.IsActive,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetByID retrieves a non-deleted job.
func (r *JobRepository) GetByID(ctx context.Context, id int64) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND deleted_at IS NULL`

	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// List returns jobs matching the filter and the total match count.
func (r *JobRepository) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int, error) {
	var w whereBuilder
	if !filter.IncludeDeleted {
		w.addRaw("deleted_at IS NULL")
	}
	if filter.ScraperID != nil {
		w.add("scraper_id = $%d", *filter.ScraperID)
	}
	if filter.IsActive != nil {
		w.add("is_active = $%d", *filter.IsActive)
	}
	where := w.clause()

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM jobs %s", where)
	if err := r.db.GetContext(ctx, &total, countQuery, w.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	limitArg, offsetArg := w.page(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM jobs
		%s
		ORDER BY id
		LIMIT $%d OFFSET $%d
	`, jobColumns, where, limitArg, offsetArg)

	var jobs []*domain.Job
	if err := r.db.SelectContext(ctx, &jobs, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}

	return jobs, total, nil
}

// ListSchedulable returns active, non-deleted jobs, used to rebuild triggers on start.
func (r *JobRepository) ListSchedulable(ctx context.Context) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE is_active AND deleted_at IS NULL
		ORDER BY id
	`

	var jobs []*domain.Job
	if err := r.db.SelectContext(ctx, &jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list schedulable jobs: %w", err)
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}
	return jobs, nil
}

// Update persists mutable job fields.
func (r *JobRepository) Update(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE jobs
		SET name = $1, description = $2, schedule_type = $3, schedule_config = $4,
		    params = $5, is_active = $6, updated_at = NOW()
		WHERE id = $7 AND deleted_at IS NULL
		RETURNING updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		job.Name,
		job.Description,
		job.ScheduleType,
		job.ScheduleConfig,
		job.Params,
		job.IsActive,
		job.ID,
	).Scan(&job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %d: %w", job.ID, ErrNotFound)
		}
		return fmt.Errorf("failed to update job: %w", err)
	}

	return nil
}

// SetTrigger records the live trigger handle and its next fire time.
// Passing nil for both clears them when the trigger is removed.
func (r *JobRepository) SetTrigger(ctx context.Context, id int64, triggerID *string, nextRunAt *time.Time) error {
	query := `UPDATE jobs SET scheduler_job_id = $1, next_run_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, triggerID, nextRunAt, id)
	if err = execRequireRows(result, err, fmt.Errorf("job %d: %w", id, ErrNotFound)); err != nil {
		return fmt.Errorf("failed to set job trigger: %w", err)
	}
	return nil
}

// RecordFire stamps last_run_at and the trigger state after a fire.
func (r *JobRepository) RecordFire(
	ctx context.Context,
	id int64,
	firedAt time.Time,
	triggerID *string,
	nextRunAt *time.Time,
) error {
	query := `
		UPDATE jobs
		SET last_run_at = $1, scheduler_job_id = $2, next_run_at = $3
		WHERE id = $4
	`
	result, err := r.db.ExecContext(ctx, query, firedAt, triggerID, nextRunAt, id)
	if err = execRequireRows(result, err, fmt.Errorf("job %d: %w", id, ErrNotFound)); err != nil {
		return fmt.Errorf("failed to record job fire: %w", err)
	}
	return nil
}

// DeactivateByScraper deactivates every active job of a scraper and returns their ids.
func (r *JobRepository) DeactivateByScraper(ctx context.Context, scraperID int64) ([]int64, error) {
	query := `
		UPDATE jobs
		SET is_active = false, scheduler_job_id = NULL, next_run_at = NULL, updated_at = NOW()
		WHERE scraper_id = $1 AND is_active
		RETURNING id
	`

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, scraperID); err != nil {
		return nil, fmt.Errorf("failed to deactivate scraper jobs: %w", err)
	}
	return ids, nil
}

// HasExecutions reports whether any execution references the job.
func (r *JobRepository) HasExecutions(ctx context.Context, id int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM executions WHERE job_id = $1)`
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("failed to check job executions: %w", err)
	}
	return exists, nil
}

// SoftDelete marks the job deleted and inactive, keeping the row for executions.
func (r *JobRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `
		UPDATE jobs
		SET deleted_at = NOW(), is_active = false, scheduler_job_id = NULL,
		    next_run_at = NULL, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err = execRequireRows(result, err, fmt.Errorf("job %d: %w", id, ErrNotFound)); err != nil {
		return fmt.Errorf("failed to soft delete job: %w", err)
	}
	return nil
}

// Delete removes the job row.
func (r *JobRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err = execRequireRows(result, err, fmt.Errorf("job %d: %w", id, ErrNotFound)); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}
