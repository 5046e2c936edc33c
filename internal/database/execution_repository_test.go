package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/scraparr/internal/database"
	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
)

func TestExecutionRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewExecutionRepository(db)
	started := time.Now()
	jobID := int64(5)

	mock.ExpectQuery("INSERT INTO executions").
		WithArgs(int64(2), jobID, domain.ExecutionStatusRunning, started, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(77)))

	e := &domain.Execution{ScraperID: 2, JobID: &jobID, Status: domain.ExecutionStatusRunning, StartedAt: started}
	require.NoError(t, repo.Create(context.Background(), e))
	assert.Equal(t, int64(77), e.ID)
	assertExpectations(t, mock)
}

func TestExecutionRepository_Finish_OnlyFromRunning(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewExecutionRepository(db)
	done := time.Now()

	mock.ExpectExec("UPDATE executions\\s+SET status = \\$1.+WHERE id = \\$7 AND status = 'running'").
		WithArgs(domain.ExecutionStatusSuccess, done, 3, nil, sqlmock.AnyArg(), "tail", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE executions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	p := database.FinishParams{Status: domain.ExecutionStatusSuccess, CompletedAt: done, ItemsScraped: 3, LogTail: "tail"}

	updated, err := repo.Finish(context.Background(), 1, p)
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = repo.Finish(context.Background(), 1, p)
	require.NoError(t, err)
	assert.False(t, updated)

	assertExpectations(t, mock)
}

func TestExecutionRepository_Delete(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "terminal execution deleted",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("DELETE FROM executions").WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "running execution kept",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("DELETE FROM executions").WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(1)).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			},
			wantErr: database.ErrExecutionRunning,
		},
		{
			name: "missing execution",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("DELETE FROM executions").WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(1)).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
			},
			wantErr: database.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := database.NewExecutionRepository(db)
			tt.setup(mock)

			err := repo.Delete(context.Background(), 1)
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
			assertExpectations(t, mock)
		})
	}
}

func TestExecutionRepository_Stats(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewExecutionRepository(db)
	scraperID := int64(4)

	mock.ExpectQuery("COUNT\\(\\*\\) FILTER \\(WHERE status = 'success'\\).+WHERE scraper_id = \\$1").
		WithArgs(scraperID).
		WillReturnRows(sqlmock.NewRows([]string{
			"total_executions", "successful_executions", "failed_executions",
			"running_executions", "total_items", "average_items",
		}).AddRow(10, 6, 2, 2, 400, 50.0))

	stats, err := repo.Stats(context.Background(), &scraperID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.TotalExecutions)
	assert.Equal(t, int64(400), stats.TotalItems)
	assert.InDelta(t, 0.75, stats.SuccessRate, 0.0001)
	assertExpectations(t, mock)
}

func TestExecutionRepository_List_ByStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewExecutionRepository(db)
	now := time.Now()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM executions WHERE status = \\$1").
		WithArgs("failed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("ORDER BY started_at DESC").
		WithArgs("failed", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "scraper_id", "job_id", "status", "started_at", "completed_at",
			"items_scraped", "error_message", "params", "metrics",
		}).AddRow(int64(9), int64(1), nil, "failed", now, now, 0, "boom", []byte(`{}`), []byte(`{"duration_ms":12}`)))

	executions, total, err := repo.List(context.Background(), domain.ExecutionFilter{Status: "failed"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, executions, 1)
	assert.Nil(t, executions[0].JobID)
	require.NotNil(t, executions[0].ErrorMessage)
	assert.Equal(t, "boom", *executions[0].ErrorMessage)
	assertExpectations(t, mock)
}
