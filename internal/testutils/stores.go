// Package testutils provides in-memory stores shared by package tests.
// They follow the semantics of the SQL repositories: soft-deleted rows are
// invisible to GetByID and executions only change while running.
package testutils

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/scraparr/internal/database"
	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
)

var (
	_ database.ScraperStore   = (*ScraperStore)(nil)
	_ database.JobStore       = (*JobStore)(nil)
	_ database.ExecutionStore = (*ExecutionStore)(nil)
)

// ScraperStore is an in-memory database.ScraperStore.
type ScraperStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Scraper
	// Executions reports HasExecutions per scraper id.
	Executions map[int64]bool
	Err        error
}

// NewScraperStore creates an empty store.
func NewScraperStore() *ScraperStore {
	return &ScraperStore{rows: map[int64]*domain.Scraper{}, Executions: map[int64]bool{}}
}

// Add stores s as is, assigning an id when zero.
func (m *ScraperStore) Add(s *domain.Scraper) *domain.Scraper {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		m.nextID++
		s.ID = m.nextID
	} else if s.ID > m.nextID {
		m.nextID = s.ID
	}
	if s.SchemaName == "" {
		s.SchemaName = domain.SchemaNameFor(s.ID)
	}
	cp := *s
	m.rows[s.ID] = &cp
	return s
}

func (m *ScraperStore) Create(_ context.Context, s *domain.Scraper) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	for _, row := range m.rows {
		if row.Name == s.Name {
			m.mu.Unlock()
			return fmt.Errorf("scraper %q: %w", s.Name, database.ErrConflict)
		}
	}
	m.mu.Unlock()

	now := time.Now()
	s.ID = 0
	s.CreatedAt, s.UpdatedAt = now, now
	m.Add(s)
	return nil
}

func (m *ScraperStore) GetByID(_ context.Context, id int64) (*domain.Scraper, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.DeletedAt != nil {
		return nil, fmt.Errorf("scraper %d: %w", id, database.ErrNotFound)
	}
	cp := *row
	return &cp, nil
}

// Raw returns the row including soft-deleted ones.
func (m *ScraperStore) Raw(id int64) (*domain.Scraper, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, false
	}
	cp := *row
	return &cp, true
}

func (m *ScraperStore) List(_ context.Context, filter domain.ScraperFilter) ([]*domain.Scraper, int, error) {
	if m.Err != nil {
		return nil, 0, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Scraper{}
	for _, row := range m.rows {
		if row.DeletedAt != nil && !filter.IncludeDeleted {
			continue
		}
		if filter.ActiveOnly && !row.IsActive {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, filter.Limit, filter.Offset), len(out), nil
}

func (m *ScraperStore) Update(_ context.Context, s *domain.Scraper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[s.ID]
	if !ok || row.DeletedAt != nil {
		return fmt.Errorf("scraper %d: %w", s.ID, database.ErrNotFound)
	}
	s.UpdatedAt = time.Now()
	cp := *s
	m.rows[s.ID] = &cp
	return nil
}

func (m *ScraperStore) HasExecutions(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Executions[id], nil
}

func (m *ScraperStore) SoftDelete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.DeletedAt != nil {
		return fmt.Errorf("scraper %d: %w", id, database.ErrNotFound)
	}
	now := time.Now()
	row.DeletedAt = &now
	row.IsActive = false
	return nil
}

func (m *ScraperStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return fmt.Errorf("scraper %d: %w", id, database.ErrNotFound)
	}
	delete(m.rows, id)
	return nil
}

// JobStore is an in-memory database.JobStore.
type JobStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Job
	// Executions reports HasExecutions per job id.
	Executions map[int64]bool
	// ListErr fails ListSchedulable.
	ListErr error
}

// NewJobStore creates an empty store.
func NewJobStore() *JobStore {
	return &JobStore{rows: map[int64]*domain.Job{}, Executions: map[int64]bool{}}
}

// Add stores j as is, assigning an id when zero.
func (m *JobStore) Add(j *domain.Job) *domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == 0 {
		m.nextID++
		j.ID = m.nextID
	} else if j.ID > m.nextID {
		m.nextID = j.ID
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	cp := *j
	m.rows[j.ID] = &cp
	return j
}

// Raw returns the row including soft-deleted ones.
func (m *JobStore) Raw(id int64) (*domain.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, false
	}
	cp := *row
	return &cp, true
}

func (m *JobStore) Create(_ context.Context, j *domain.Job) error {
	j.ID = 0
	j.CreatedAt, j.UpdatedAt = time.Now(), time.Now()
	m.Add(j)
	return nil
}

func (m *JobStore) GetByID(_ context.Context, id int64) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.DeletedAt != nil {
		return nil, fmt.Errorf("job %d: %w", id, database.ErrNotFound)
	}
	cp := *row
	return &cp, nil
}

func (m *JobStore) List(_ context.Context, filter domain.JobFilter) ([]*domain.Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Job{}
	for _, row := range m.rows {
		switch {
		case row.DeletedAt != nil && !filter.IncludeDeleted:
			continue
		case filter.ScraperID != nil && row.ScraperID != *filter.ScraperID:
			continue
		case filter.IsActive != nil && row.IsActive != *filter.IsActive:
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, filter.Limit, filter.Offset), len(out), nil
}

func (m *JobStore) ListSchedulable(context.Context) ([]*domain.Job, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Job{}
	for _, row := range m.rows {
		if row.Schedulable() {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *JobStore) Update(_ context.Context, j *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[j.ID]
	if !ok || row.DeletedAt != nil {
		return fmt.Errorf("job %d: %w", j.ID, database.ErrNotFound)
	}
	row.Name = j.Name
	row.Description = j.Description
	row.ScheduleType = j.ScheduleType
	row.ScheduleConfig = j.ScheduleConfig
	row.Params = j.Params
	row.IsActive = j.IsActive
	row.UpdatedAt = time.Now()
	j.UpdatedAt = row.UpdatedAt
	return nil
}

func (m *JobStore) SetTrigger(_ context.Context, id int64, triggerID *string, nextRunAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, database.ErrNotFound)
	}
	row.SchedulerJobID = triggerID
	row.NextRunAt = nextRunAt
	return nil
}

func (m *JobStore) RecordFire(_ context.Context, id int64, firedAt time.Time, triggerID *string, nextRunAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, database.ErrNotFound)
	}
	row.LastRunAt = &firedAt
	row.SchedulerJobID = triggerID
	row.NextRunAt = nextRunAt
	return nil
}

func (m *JobStore) DeactivateByScraper(_ context.Context, scraperID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, row := range m.rows {
		if row.ScraperID == scraperID && row.IsActive {
			row.IsActive = false
			row.SchedulerJobID = nil
			row.NextRunAt = nil
			ids = append(ids, row.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *JobStore) HasExecutions(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Executions[id], nil
}

func (m *JobStore) SoftDelete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.DeletedAt != nil {
		return fmt.Errorf("job %d: %w", id, database.ErrNotFound)
	}
	now := time.Now()
	row.DeletedAt = &now
	row.IsActive = false
	row.SchedulerJobID = nil
	row.NextRunAt = nil
	return nil
}

func (m *JobStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return fmt.Errorf("job %d: %w", id, database.ErrNotFound)
	}
	delete(m.rows, id)
	return nil
}

// ExecutionStore is an in-memory database.ExecutionStore with the same
// conditional update semantics as the SQL repository.
type ExecutionStore struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[int64]*domain.Execution
	appends int
	// CreateErr fails Create.
	CreateErr error
	// FinishErr fails the next FinishFailures calls to Finish.
	FinishErr      error
	FinishFailures int
}

// NewExecutionStore creates an empty store.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{rows: map[int64]*domain.Execution{}}
}

// Appends returns how many AppendLogs calls changed a row.
func (m *ExecutionStore) Appends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appends
}

// All returns every row ordered by id.
func (m *ExecutionStore) All() []*domain.Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Execution, 0, len(m.rows))
	for _, row := range m.rows {
		cp := *row
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *ExecutionStore) Create(_ context.Context, e *domain.Execution) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	cp := *e
	m.rows[e.ID] = &cp
	return nil
}

func (m *ExecutionStore) AppendLogs(_ context.Context, id int64, text string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != domain.ExecutionStatusRunning {
		return false, nil
	}
	row.Logs += text
	m.appends++
	return true, nil
}

func (m *ExecutionStore) Finish(_ context.Context, id int64, p database.FinishParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FinishFailures > 0 {
		m.FinishFailures--
		return false, m.FinishErr
	}
	row, ok := m.rows[id]
	if !ok || row.Status != domain.ExecutionStatusRunning {
		return false, nil
	}
	completed := p.CompletedAt
	row.Status = p.Status
	row.CompletedAt = &completed
	row.ItemsScraped = p.ItemsScraped
	row.ErrorMessage = p.ErrorMessage
	row.Metrics = p.Metrics
	row.Logs += p.LogTail
	return true, nil
}

func (m *ExecutionStore) FailOrphaned(_ context.Context, message string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for _, row := range m.rows {
		if row.Status == domain.ExecutionStatusRunning {
			msg := message
			row.Status = domain.ExecutionStatusFailed
			row.ErrorMessage = &msg
			row.CompletedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *ExecutionStore) Exists(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	return ok, nil
}

func (m *ExecutionStore) GetByID(_ context.Context, id int64) (*domain.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("execution %d: %w", id, database.ErrNotFound)
	}
	cp := *row
	return &cp, nil
}

func (m *ExecutionStore) List(_ context.Context, filter domain.ExecutionFilter) ([]*domain.Execution, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Execution{}
	for _, row := range m.rows {
		switch {
		case filter.ScraperID != nil && row.ScraperID != *filter.ScraperID:
			continue
		case filter.JobID != nil && (row.JobID == nil || *row.JobID != *filter.JobID):
			continue
		case filter.Status != "" && row.Status != filter.Status:
			continue
		}
		cp := *row
		cp.Logs = ""
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, filter.Limit, filter.Offset), len(out), nil
}

func (m *ExecutionStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("execution %d: %w", id, database.ErrNotFound)
	}
	if row.Status == domain.ExecutionStatusRunning {
		return fmt.Errorf("execution %d: %w", id, database.ErrExecutionRunning)
	}
	delete(m.rows, id)
	return nil
}

func (m *ExecutionStore) Stats(_ context.Context, scraperID *int64) (*domain.ExecutionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &domain.ExecutionStats{}
	for _, row := range m.rows {
		if scraperID != nil && row.ScraperID != *scraperID {
			continue
		}
		stats.TotalExecutions++
		stats.TotalItems += int64(row.ItemsScraped)
		switch row.Status {
		case domain.ExecutionStatusSuccess:
			stats.SuccessfulExecutions++
		case domain.ExecutionStatusFailed:
			stats.FailedExecutions++
		case domain.ExecutionStatusRunning:
			stats.RunningExecutions++
		}
	}
	if stats.TotalExecutions > 0 {
		stats.AverageItems = float64(stats.TotalItems) / float64(stats.TotalExecutions)
	}
	stats.ComputeRates()
	return stats, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
