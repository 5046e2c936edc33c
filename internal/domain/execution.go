package domain

import "time"

// Execution statuses. running is the only non-terminal state.
const (
	ExecutionStatusRunning = "running"
	ExecutionStatusSuccess = "success"
	ExecutionStatusFailed  = "failed"
)

// Execution is one recorded invocation of a routine.
type Execution struct {
	ID        int64  `db:"id"         json:"id"`
	ScraperID int64  `db:"scraper_id" json:"scraper_id"`
	JobID     *int64 `db:"job_id"     json:"job_id,omitempty"` // nil for manual runs
	Status    string `db:"status"     json:"status"`

	StartedAt   time.Time  `db:"started_at"   json:"started_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	ItemsScraped int     `db:"items_scraped" json:"items_scraped"`
	ErrorMessage *string `db:"error_message" json:"error_message,omitempty"`
	Logs         string  `db:"logs"          json:"logs,omitempty"`

	Params  JSONBMap `db:"params"  json:"params,omitempty"`
	Metrics JSONBMap `db:"metrics" json:"metrics,omitempty"`
}

// IsTerminal reports whether the execution has finished.
func (e *Execution) IsTerminal() bool {
	return e.Status != ExecutionStatusRunning
}

// ValidExecutionStatus reports whether s names a known status.
func ValidExecutionStatus(s string) bool {
	switch s {
	case ExecutionStatusRunning, ExecutionStatusSuccess, ExecutionStatusFailed:
		return true
	}
	return false
}

// ExecutionFilter narrows execution listings.
type ExecutionFilter struct {
	ScraperID *int64
	JobID     *int64
	Status    string
	Limit     int
	Offset    int
}

// ExecutionStats is computed at query time from the executions table.
type ExecutionStats struct {
	TotalExecutions      int64   `db:"total_executions"      json:"total_executions"`
	SuccessfulExecutions int64   `db:"successful_executions" json:"successful_executions"`
	FailedExecutions     int64   `db:"failed_executions"     json:"failed_executions"`
	RunningExecutions    int64   `db:"running_executions"    json:"running_executions"`
	TotalItems           int64   `db:"total_items"           json:"total_items"`
	AverageItems         float64 `db:"average_items"         json:"average_items"`
	SuccessRate          float64 `json:"success_rate"` // 0.0 to 1.0 over finished executions
}

// ComputeRates fills derived fields.
func (s *ExecutionStats) ComputeRates() {
	finished := s.SuccessfulExecutions + s.FailedExecutions
	if finished == 0 {
		s.SuccessRate = 0
		return
	}
	s.SuccessRate = float64(s.SuccessfulExecutions) / float64(finished)
}

// Progress is the latest progress report of a running execution.
type Progress struct {
	ExecutionID int64     `json:"execution_id"`
	Items       int       `json:"items"`
	Message     string    `json:"message"`
	UpdatedAt   time.Time `json:"updated_at"`
	Elapsed     string    `json:"elapsed"`
}
