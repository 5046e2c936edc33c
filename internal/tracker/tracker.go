// Package tracker records the lifecycle of executions: a running row at
// start, streamed log lines and live progress while running, and exactly one
// terminal transition.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/scraparr/internal/database"
	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
	"github.com/jonesrussell/north-cloud/scraparr/internal/observability"
)

const defaultFlushLines = 20

// ErrExecutionNotFound is returned for unknown execution ids.
var ErrExecutionNotFound = fmt.Errorf("execution %w", database.ErrNotFound)

// orphanedMessage is stored on executions found running at startup.
const orphanedMessage = "execution interrupted by process restart"

// Options configures a Tracker.
type Options struct {
	// FlushLines is how many log lines are batched per database append.
	FlushLines int
	// BufferLines sizes the in-memory live log view.
	BufferLines int
	Metrics     *observability.Metrics
	// Now overrides the clock in tests.
	Now func() time.Time
}

// StartParams identifies a new execution.
type StartParams struct {
	ScraperID int64
	JobID     *int64
	Routine   string
	Params    map[string]any
}

// Outcome is the terminal result of an execution.
type Outcome struct {
	// Status defaults to failed when Err is set, success otherwise.
	Status  string
	Items   int
	Err     error
	Metrics map[string]any
}

// Tracker owns execution rows and the live state of running executions.
type Tracker struct {
	repo        database.ExecutionStore
	logger      logger.Logger
	metrics     *observability.Metrics
	flushLines  int
	bufferLines int
	now         func() time.Time

	mu   sync.RWMutex
	live map[int64]*liveExecution
}

// New creates a tracker.
func New(repo database.ExecutionStore, log logger.Logger, opts Options) *Tracker {
	if opts.FlushLines <= 0 {
		opts.FlushLines = defaultFlushLines
	}
	if opts.BufferLines <= 0 {
		opts.BufferLines = defaultBufferLines
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Tracker{
		repo:        repo,
		logger:      log,
		metrics:     opts.Metrics,
		flushLines:  opts.FlushLines,
		bufferLines: opts.BufferLines,
		now:         opts.Now,
		live:        make(map[int64]*liveExecution),
	}
}

// Recover fails executions left running by a previous process.
func (t *Tracker) Recover(ctx context.Context) error {
	n, err := t.repo.FailOrphaned(ctx, orphanedMessage)
	if err != nil {
		return err
	}
	if n > 0 {
		t.logger.Warn("Failed orphaned executions from previous run", logger.Int64("count", n))
	}
	return nil
}

// Start persists a running execution stamped now and returns its sink.
func (t *Tracker) Start(ctx context.Context, p StartParams) (*Sink, error) {
	startedAt := t.now()
	exec := &domain.Execution{
		ScraperID: p.ScraperID,
		JobID:     p.JobID,
		Status:    domain.ExecutionStatusRunning,
		StartedAt: startedAt,
		Params:    domain.JSONBMap(p.Params),
	}
	if err := t.repo.Create(ctx, exec); err != nil {
		return nil, err
	}

	live := &liveExecution{
		id:        exec.ID,
		routine:   p.Routine,
		startedAt: startedAt,
		buffer:    newLineBuffer(t.bufferLines),
	}

	t.mu.Lock()
	t.live[exec.ID] = live
	t.mu.Unlock()

	t.metrics.RecordExecutionStarted(p.Routine)
	t.logger.Info("Execution started",
		logger.Int64("execution_id", exec.ID),
		logger.Int64("scraper_id", p.ScraperID),
		logger.String("routine", p.Routine),
	)

	return &Sink{tracker: t, live: live}, nil
}

// AppendLog appends text to a running execution's persisted logs.
func (t *Tracker) AppendLog(ctx context.Context, executionID int64, text string) error {
	if live := t.get(executionID); live != nil {
		(&Sink{tracker: t, live: live}).Log(ctx, LevelInfo, strings.TrimRight(text, "\n"))
		return nil
	}

	ok, err := t.repo.AppendLogs(ctx, executionID, text)
	if err != nil {
		return err
	}
	if !ok {
		notRunning := t.notRunningError(ctx, executionID)
		if errors.Is(notRunning, errAlreadyFinished) {
			t.logger.Debug("Dropped log line for finished execution", logger.Int64("execution_id", executionID))
			return nil
		}
		return notRunning
	}
	return nil
}

// Finish moves a running execution to its terminal status. Calling it again
// for the same execution logs a warning and changes nothing. A failed write
// is retried once; if that fails too the execution stays live.
func (t *Tracker) Finish(ctx context.Context, executionID int64, out Outcome) error {
	live := t.take(executionID)

	status := out.Status
	if status == "" {
		status = domain.ExecutionStatusSuccess
		if out.Err != nil {
			status = domain.ExecutionStatusFailed
		}
	}

	metrics := make(map[string]any, len(out.Metrics)+1)
	maps.Copy(metrics, out.Metrics)

	params := database.FinishParams{
		Status:       status,
		CompletedAt:  t.now(),
		ItemsScraped: out.Items,
		Metrics:      metrics,
	}
	if out.Err != nil {
		msg := out.Err.Error()
		params.ErrorMessage = &msg
	}

	var duration time.Duration
	if live != nil {
		duration = params.CompletedAt.Sub(live.startedAt)
		metrics["duration_ms"] = duration.Milliseconds()
		metrics["log_lines"] = live.buffer.LineCount()
		params.LogTail = live.drain()
	}

	updated, err := t.repo.Finish(ctx, executionID, params)
	if err != nil {
		t.logger.Warn("Failed to persist execution finish, retrying",
			logger.Int64("execution_id", executionID),
			logger.Error(err),
		)
		updated, err = t.repo.Finish(ctx, executionID, params)
	}
	if err != nil {
		// Still running as far as the store knows; keep it live with its tail
		// so a later Finish or Recover does not lose lines.
		if live != nil {
			t.restore(live, params.LogTail)
		}
		return fmt.Errorf("failed to finish execution %d: %w", executionID, err)
	}
	if !updated {
		if notRunning := t.notRunningError(ctx, executionID); !errors.Is(notRunning, errAlreadyFinished) {
			return notRunning
		}
		t.logger.Warn("Execution already finished, ignoring second finish",
			logger.Int64("execution_id", executionID),
			logger.String("status", status),
		)
		return nil
	}

	if live != nil {
		t.metrics.RecordExecutionFinished(live.routine, status, out.Items, duration.Seconds())
	}

	fields := []logger.Field{
		logger.Int64("execution_id", executionID),
		logger.String("status", status),
		logger.Int("items_scraped", out.Items),
		logger.Duration("duration", duration),
	}
	if out.Err != nil {
		t.logger.Warn("Execution failed", append(fields, logger.Error(out.Err))...)
	} else {
		t.logger.Info("Execution finished", fields...)
	}
	return nil
}

var errAlreadyFinished = errors.New("execution already finished")

func (t *Tracker) notRunningError(ctx context.Context, executionID int64) error {
	exists, err := t.repo.Exists(ctx, executionID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", ErrExecutionNotFound, executionID)
	}
	return errAlreadyFinished
}

// Progress returns the latest progress of a running execution.
func (t *Tracker) Progress(executionID int64) (domain.Progress, bool) {
	live := t.get(executionID)
	if live == nil {
		return domain.Progress{}, false
	}

	live.mu.Lock()
	defer live.mu.Unlock()

	p := live.progress
	p.ExecutionID = executionID
	if !live.hasProgress {
		p.UpdatedAt = live.startedAt
	}
	p.Elapsed = t.now().Sub(live.startedAt).Round(time.Second).String()
	return p, true
}

// IsRunning reports whether this process is running the execution.
func (t *Tracker) IsRunning(executionID int64) bool {
	return t.get(executionID) != nil
}

// RunningCount returns the number of executions running in this process.
func (t *Tracker) RunningCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.live)
}

// Logs returns the live buffer while running, the persisted logs otherwise.
func (t *Tracker) Logs(ctx context.Context, executionID int64) (string, error) {
	if live := t.get(executionID); live != nil {
		return strings.Join(live.buffer.ReadAll(), ""), nil
	}

	exec, err := t.repo.GetByID(ctx, executionID)
	if err != nil {
		return "", err
	}
	return exec.Logs, nil
}

// Get returns one execution.
func (t *Tracker) Get(ctx context.Context, executionID int64) (*domain.Execution, error) {
	return t.repo.GetByID(ctx, executionID)
}

// List returns executions matching the filter and the total count.
func (t *Tracker) List(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.Execution, int, error) {
	return t.repo.List(ctx, filter)
}

// Delete removes a finished execution.
func (t *Tracker) Delete(ctx context.Context, executionID int64) error {
	if t.IsRunning(executionID) {
		return fmt.Errorf("execution %d: %w", executionID, database.ErrExecutionRunning)
	}
	return t.repo.Delete(ctx, executionID)
}

// Stats computes aggregate statistics at query time.
func (t *Tracker) Stats(ctx context.Context, scraperID *int64) (*domain.ExecutionStats, error) {
	return t.repo.Stats(ctx, scraperID)
}

func (t *Tracker) get(executionID int64) *liveExecution {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live[executionID]
}

// restore puts a taken execution back with its undelivered tail first.
func (t *Tracker) restore(live *liveExecution, tail string) {
	live.mu.Lock()
	if tail != "" {
		live.pending = append([]string{tail}, live.pending...)
	}
	live.mu.Unlock()

	t.mu.Lock()
	t.live[live.id] = live
	t.mu.Unlock()
}

func (t *Tracker) take(executionID int64) *liveExecution {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := t.live[executionID]
	delete(t.live, executionID)
	return live
}
