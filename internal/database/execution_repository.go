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

// executionListColumns omits logs, which can be large.
const executionListColumns = `id, scraper_id, job_id, status, started_at, completed_at,
	items_scraped, error_message, params, metrics`

const executionColumns = executionListColumns + `, logs`

// FinishParams carries the terminal state of an execution.
type FinishParams struct {
	Status       string
	CompletedAt  time.Time
	ItemsScraped int
	ErrorMessage *string
	Metrics      domain.JSONBMap
	// LogTail is appended to the persisted logs in the same statement.
	LogTail string
}

// ExecutionRepository handles database operations for executions.
type ExecutionRepository struct {
	db *sqlx.DB
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sqlx.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Create inserts a running execution and fills its id.
func (r *ExecutionRepository) Create(ctx context.Context, e *domain.Execution) error {
	query := `
		INSERT INTO executions (scraper_id, job_id, status, started_at, params)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query, e.ScraperID, e.JobID, e.Status, e.StartedAt, e.Params).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// AppendLogs appends text to a running execution's logs.
// It reports false when the execution is missing or already terminal.
func (r *ExecutionRepository) AppendLogs(ctx context.Context, id int64, text string) (bool, error) {
	query := `UPDATE executions SET logs = logs || $1 WHERE id = $2 AND status = 'running'`
	result, err := r.db.ExecContext(ctx, query, text, id)
	if err != nil {
		return false, fmt.Errorf("failed to append execution logs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to append execution logs: %w", err)
	}
	return n > 0, nil
}

// Finish moves a running execution to a terminal status. It reports false
// without changing anything when the execution is not running.
func (r *ExecutionRepository) Finish(ctx context.Context, id int64, p FinishParams) (bool, error) {
	query := `
		UPDATE executions
		SET status = $1, completed_at = $2, items_scraped = $3, error_message = $4,
		    metrics = $5, logs = logs || $6
		WHERE id = $7 AND status = 'running'
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		p.Status,
		p.CompletedAt,
		p.ItemsScraped,
		p.ErrorMessage,
		p.Metrics,
		p.LogTail,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to finish execution: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to finish execution: %w", err)
	}
	return n > 0, nil
}

// FailOrphaned fails executions left running by a previous process.
func (r *ExecutionRepository) FailOrphaned(ctx context.Context, message string) (int64, error) {
	query := `
		UPDATE executions
		SET status = 'failed', completed_at = NOW(), error_message = $1
		WHERE status = 'running'
	`
	result, err := r.db.ExecContext(ctx, query, message)
	if err != nil {
		return 0, fmt.Errorf("failed to fail orphaned executions: %w", err)
	}
	return result.RowsAffected()
}

// Exists reports whether the execution row exists.
func (r *ExecutionRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM executions WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("failed to check execution: %w", err)
	}
	return exists, nil
}

// GetByID retrieves an execution including its logs.
func (r *ExecutionRepository) GetByID(ctx context.Context, id int64) (*domain.Execution, error) {
	var e domain.Execution
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	if err := r.db.GetContext(ctx, &e, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("execution %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return &e, nil
}

// List returns executions matching the filter, newest first, and the total count.
func (r *ExecutionRepository) List(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.Execution, int, error) {
	var w whereBuilder
	if filter.ScraperID != nil {
		w.add("scraper_id = $%d", *filter.ScraperID)
	}
	if filter.JobID != nil {
		w.add("job_id = $%d", *filter.JobID)
	}
	if filter.Status != "" {
		w.add("status = $%d", filter.Status)
	}
	where := w.clause()

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM executions %s", where)
	if err := r.db.GetContext(ctx, &total, countQuery, w.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	limitArg, offsetArg := w.page(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM executions
		%s
		ORDER BY started_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, executionListColumns, where, limitArg, offsetArg)

	var executions []*domain.Execution
	if err := r.db.SelectContext(ctx, &executions, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list executions: %w", err)
	}
	if executions == nil {
		executions = []*domain.Execution{}
	}

	return executions, total, nil
}

// Delete removes a terminal execution.
func (r *ExecutionRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM executions WHERE id = $1 AND status <> 'running'`, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	if n > 0 {
		return nil
	}

	exists, err := r.Exists(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("execution %d: %w", id, ErrExecutionRunning)
	}
	return fmt.Errorf("execution %d: %w", id, ErrNotFound)
}

// Stats computes aggregate execution statistics, optionally for one scraper.
func (r *ExecutionRepository) Stats(ctx context.Context, scraperID *int64) (*domain.ExecutionStats, error) {
	var w whereBuilder
	if scraperID != nil {
		w.add("scraper_id = $%d", *scraperID)
	}

	query := fmt.Sprintf(`
		SELECT
			COUNT(*) AS total_executions,
			COUNT(*) FILTER (WHERE status = 'success') AS successful_executions,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed_executions,
			COUNT(*) FILTER (WHERE status = 'running') AS running_executions,
			COALESCE(SUM(items_scraped), 0) AS total_items,
			COALESCE(AVG(items_scraped) FILTER (WHERE status <> 'running'), 0) AS average_items
		FROM executions
		%s
	`, w.clause())

	var stats domain.ExecutionStats
	if err := r.db.GetContext(ctx, &stats, query, w.args...); err != nil {
		return nil, fmt.Errorf("failed to get execution stats: %w", err)
	}

	stats.ComputeRates()
	return &stats, nil
}
