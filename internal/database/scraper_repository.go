package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
)

const scraperColumns = `id, name, description, scraper_type, routine, config, headers,
	schema_name, is_active, created_at, updated_at, deleted_at`

// ScraperRepository handles database operations for scrapers.
type ScraperRepository struct {
	db *sqlx.DB
}

// NewScraperRepository creates a new scraper repository.
func NewScraperRepository(db *sqlx.DB) *ScraperRepository {
	return &ScraperRepository{db: db}
}

// Create inserts a scraper and assigns its namespace name from the new id.
func (r *ScraperRepository) Create(ctx context.Context, s *domain.Scraper) error {
	query := `
		WITH next AS (SELECT nextval(pg_get_serial_sequence('scrapers', 'id')) AS id)
		INSERT INTO scrapers (id, name, description, scraper_type, routine, config, headers, schema_name, is_active)
		SELECT next.id, $1, $2, $3, $4, $5, $6, $7::text || next.id, $8 FROM next
		RETURNING id, schema_name, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		s.Name,
		s.Description,
		s.ScraperType,
		s.Routine,
		s.Config,
		s.Headers,
		domain.SchemaPrefix,
		s.IsActive,
	).Scan(&s.ID, &s.SchemaName, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("scraper %q: %w", s.Name, ErrConflict)
		}
		return fmt.Errorf("failed to create scraper: %w", err)
	}

	return nil
}

// GetByID retrieves a non-deleted scraper.
func (r *ScraperRepository) GetByID(ctx context.Context, id int64) (*domain.Scraper, error) {
	var s domain.Scraper
	query := `SELECT ` + scraperColumns + ` FROM scrapers WHERE id = $1 AND deleted_at IS NULL`

	if err := r.db.GetContext(ctx, &s, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("scraper %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get scraper: %w", err)
	}

	return &s, nil
}

// List returns scrapers matching the filter and the total match count.
func (r *ScraperRepository) List(ctx context.Context, filter domain.ScraperFilter) ([]*domain.Scraper, int, error) {
	var w whereBuilder
	if !filter.IncludeDeleted {
		w.addRaw("deleted_at IS NULL")
	}
	if filter.ActiveOnly {
		w.addRaw("is_active")
	}
	where := w.clause()

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM scrapers %s", where)
	if err := r.db.GetContext(ctx, &total, countQuery, w.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count scrapers: %w", err)
	}

	limitArg, offsetArg := w.page(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM scrapers
		%s
		ORDER BY id
		LIMIT $%d OFFSET $%d
	`, scraperColumns, where, limitArg, offsetArg)

	var scrapers []*domain.Scraper
	if err := r.db.SelectContext(ctx, &scrapers, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list scrapers: %w", err)
	}
	if scrapers == nil {
		scrapers = []*domain.Scraper{}
	}

	return scrapers, total, nil
}

// Update persists mutable scraper fields.
func (r *ScraperRepository) Update(ctx context.Context, s *domain.Scraper) error {
	query := `
		UPDATE scrapers
		SET name = $1, description = $2, scraper_type = $3, routine = $4,
		    config = $5, headers = $6, is_active = $7, updated_at = NOW()
		WHERE id = $8 AND deleted_at IS NULL
		RETURNING updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		s.Name,
		s.Description,
		s.ScraperType,
		s.Routine,
		s.Config,
		s.Headers,
		s.IsActive,
		s.ID,
	).Scan(&s.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("scraper %d: %w", s.ID, ErrNotFound)
		case isUniqueViolation(err):
			return fmt.Errorf("scraper %q: %w", s.Name, ErrConflict)
		}
		return fmt.Errorf("failed to update scraper: %w", err)
	}

	return nil
}

// HasExecutions reports whether any execution references the scraper.
func (r *ScraperRepository) HasExecutions(ctx context.Context, id int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM executions WHERE scraper_id = $1)`
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("failed to check scraper executions: %w", err)
	}
	return exists, nil
}

// SoftDelete marks the scraper deleted and inactive, keeping the row.
func (r *ScraperRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `
		UPDATE scrapers
		SET deleted_at = NOW(), is_active = false, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err = execRequireRows(result, err, fmt.Errorf("scraper %d: %w", id, ErrNotFound)); err != nil {
		return fmt.Errorf("failed to soft delete scraper: %w", err)
	}
	return nil
}

// Delete removes the scraper row. Its jobs are removed by cascade.
func (r *ScraperRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM scrapers WHERE id = $1`, id)
	if err = execRequireRows(result, err, fmt.Errorf("scraper %d: %w", id, ErrNotFound)); err != nil {
		return fmt.Errorf("failed to delete scraper: %w", err)
	}
	return nil
}
