package database_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/scraparr/internal/database"
	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
)

var scraperRowColumns = []string{
	"id", "name", "description", "scraper_type", "routine", "config", "headers",
	"schema_name", "is_active", "created_at", "updated_at", "deleted_at",
}

func TestScraperRepository_Create_AssignsSchemaName(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewScraperRepository(db)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO scrapers").
		WithArgs("poi", "", domain.ScraperTypeAPI, "geo_grid", sqlmock.AnyArg(), sqlmock.AnyArg(), "scraper_", true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "schema_name", "created_at", "updated_at"}).
			AddRow(int64(3), "scraper_3", now, now))

	s := &domain.Scraper{Name: "poi", ScraperType: domain.ScraperTypeAPI, Routine: "geo_grid", IsActive: true}
	require.NoError(t, repo.Create(context.Background(), s))

	assert.Equal(t, int64(3), s.ID)
	assert.Equal(t, "scraper_3", s.SchemaName)
	assertExpectations(t, mock)
}

func TestScraperRepository_Create_DuplicateName(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewScraperRepository(db)

	mock.ExpectQuery("INSERT INTO scrapers").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &domain.Scraper{Name: "dup", Routine: "json_api"})
	require.ErrorIs(t, err, database.ErrConflict)
	assertExpectations(t, mock)
}

func TestScraperRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewScraperRepository(db)

	mock.ExpectQuery("SELECT .+ FROM scrapers WHERE id = \\$1 AND deleted_at IS NULL").
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 9)
	require.ErrorIs(t, err, database.ErrNotFound)
	assertExpectations(t, mock)
}

func TestScraperRepository_GetByID_ScansJSONB(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewScraperRepository(db)
	now := time.Now()

	mock.ExpectQuery("SELECT .+ FROM scrapers").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(scraperRowColumns).AddRow(
			int64(1), "poi", "desc", "api", "geo_grid",
			[]byte(`{"endpoint":"https://x"}`), []byte(`{"X-Key":"abc"}`),
			"scraper_1", true, now, now, nil,
		))

	s, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "https://x", s.Config["endpoint"])
	assert.Equal(t, map[string]string{"X-Key": "abc"}, s.Headers.StringMap())
	assert.False(t, s.IsDeleted())
	assertExpectations(t, mock)
}

func TestScraperRepository_List_DefaultsAndCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewScraperRepository(db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM scrapers WHERE deleted_at IS NULL").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT .+ FROM scrapers").
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows(scraperRowColumns))

	scrapers, total, err := repo.List(context.Background(), domain.ScraperFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.NotNil(t, scrapers)
	assert.Empty(t, scrapers)
	assertExpectations(t, mock)
}

func TestScraperRepository_SoftDelete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewScraperRepository(db)

	mock.ExpectExec("UPDATE scrapers\\s+SET deleted_at = NOW\\(\\), is_active = false").
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SoftDelete(context.Background(), 4))

	mock.ExpectExec("UPDATE scrapers").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.SoftDelete(context.Background(), 5), database.ErrNotFound)

	assertExpectations(t, mock)
}

func TestScraperRepository_HasExecutions(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewScraperRepository(db)

	mock.ExpectQuery("SELECT EXISTS \\(SELECT 1 FROM executions WHERE scraper_id = \\$1\\)").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	has, err := repo.HasExecutions(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, has)
	assertExpectations(t, mock)
}
