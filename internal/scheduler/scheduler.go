package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/scraparr/internal/database"
	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
	"github.com/jonesrussell/north-cloud/scraparr/internal/observability"
	"github.com/jonesrussell/north-cloud/scraparr/internal/runtime"
)

// Trigger names recorded on invocations.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// JobStore is the subset of job persistence the scheduler needs.
type JobStore interface {
	GetByID(ctx context.Context, id int64) (*domain.Job, error)
	ListSchedulable(ctx context.Context) ([]*domain.Job, error)
	SetTrigger(ctx context.Context, id int64, triggerID *string, nextRunAt *time.Time) error
	RecordFire(ctx context.Context, id int64, firedAt time.Time, triggerID *string, nextRunAt *time.Time) error
}

// Submitter queues invocations.
type Submitter interface {
	Submit(inv runtime.Invocation) (*Ticket, error)
}

type trigger struct {
	entryID      cron.EntryID
	schedule     cron.Schedule
	scheduleType string
}

// Scheduler owns one live trigger per schedulable job. Firing a trigger
// records the fire on the job row and hands the invocation to the dispatcher.
type Scheduler struct {
	jobs       JobStore
	dispatcher Submitter
	cron       *cron.Cron
	logger     logger.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	mu       sync.Mutex
	triggers map[int64]trigger
	ctx      context.Context
}

// New creates a scheduler.
func New(jobs JobStore, dispatcher Submitter, log logger.Logger, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		jobs:       jobs,
		dispatcher: dispatcher,
		cron:       cron.New(cron.WithLocation(time.UTC), cron.WithParser(cronParser)),
		logger:     log,
		metrics:    metrics,
		now:        time.Now,
		triggers:   make(map[int64]trigger),
		ctx:        context.Background(),
	}
}

// Start rebuilds triggers from persisted jobs and starts firing. Failing to
// read jobs is fatal; a job with a bad schedule is logged and skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	jobs, err := s.jobs.ListSchedulable(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedulable jobs: %w", err)
	}

	scheduled := 0
	for _, job := range jobs {
		if scheduleErr := s.Schedule(ctx, job); scheduleErr != nil {
			s.logger.Error("Failed to schedule job",
				logger.Int64("job_id", job.ID),
				logger.String("schedule_type", job.ScheduleType),
				logger.Error(scheduleErr),
			)
			continue
		}
		scheduled++
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		logger.Int("jobs_loaded", len(jobs)),
		logger.Int("triggers_active", s.ActiveCount()),
	)
	return nil
}

// Stop stops firing triggers and waits for running fire callbacks. It does
// not wait for executions; the dispatcher drains those.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule installs the job's trigger, replacing any existing one. Jobs that
// are inactive, deleted or spent have their trigger removed instead.
func (s *Scheduler) Schedule(ctx context.Context, job *domain.Job) error {
	if !job.Schedulable() {
		return s.Unschedule(ctx, job.ID)
	}

	sched, err := buildSchedule(job, s.now())
	if errors.Is(err, errAlreadyFired) {
		s.logger.Debug("Once job already fired, not rescheduling", logger.Int64("job_id", job.ID))
		return s.Unschedule(ctx, job.ID)
	}
	if err != nil {
		return err
	}

	jobID := job.ID
	scheduleType := job.ScheduleType

	s.mu.Lock()
	if existing, ok := s.triggers[jobID]; ok {
		s.cron.Remove(existing.entryID)
	}
	entryID := s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(jobID) }))
	s.triggers[jobID] = trigger{entryID: entryID, schedule: sched, scheduleType: scheduleType}
	active := len(s.triggers)
	s.mu.Unlock()

	s.metrics.SetTriggersActive(active)

	triggerID := job.TriggerID()
	next := nextFire(sched, s.now())
	if err = s.jobs.SetTrigger(ctx, jobID, &triggerID, next); err != nil {
		return fmt.Errorf("failed to record trigger for job %d: %w", jobID, err)
	}

	fields := []logger.Field{
		logger.Int64("job_id", jobID),
		logger.String("schedule_type", scheduleType),
	}
	if next != nil {
		fields = append(fields, logger.Time("next_run_at", *next))
	}
	s.logger.Info("Job scheduled", fields...)
	return nil
}

// Unschedule removes the job's trigger without touching an in-flight
// execution, and clears next_run_at.
func (s *Scheduler) Unschedule(ctx context.Context, jobID int64) error {
	s.removeTrigger(jobID)

	if err := s.jobs.SetTrigger(ctx, jobID, nil, nil); err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("failed to clear trigger for job %d: %w", jobID, err)
	}
	return nil
}

// RunNow submits the job's invocation immediately with its stored params.
func (s *Scheduler) RunNow(job *domain.Job) (*Ticket, error) {
	jobID := job.ID
	return s.dispatcher.Submit(runtime.Invocation{
		ScraperID: job.ScraperID,
		JobID:     &jobID,
		Params:    job.Params,
		Trigger:   TriggerManual,
	})
}

// IsScheduled reports whether the job holds a live trigger.
func (s *Scheduler) IsScheduled(jobID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.triggers[jobID]
	return ok
}

// ActiveCount returns the number of live triggers.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggers)
}

func (s *Scheduler) removeTrigger(jobID int64) {
	s.mu.Lock()
	t, ok := s.triggers[jobID]
	if ok {
		s.cron.Remove(t.entryID)
		delete(s.triggers, jobID)
	}
	active := len(s.triggers)
	s.mu.Unlock()

	if ok {
		s.metrics.SetTriggersActive(active)
		s.logger.Info("Job unscheduled", logger.Int64("job_id", jobID))
	}
}

// fire runs on the cron goroutine when a trigger is due.
func (s *Scheduler) fire(jobID int64) {
	s.mu.Lock()
	t, ok := s.triggers[jobID]
	ctx := s.ctx
	s.mu.Unlock()
	if !ok {
		return
	}

	firedAt := s.now().UTC()
	s.metrics.RecordTriggerFired(t.scheduleType)

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		s.logger.Warn("Fired trigger for missing job, removing it", logger.Int64("job_id", jobID), logger.Error(err))
		s.removeTrigger(jobID)
		return
	}
	if !job.Schedulable() {
		s.removeTrigger(jobID)
		return
	}

	var triggerID *string
	next := nextFire(t.schedule, firedAt)
	if next == nil {
		s.removeTrigger(jobID)
	} else {
		id := job.TriggerID()
		triggerID = &id
	}
	if recordErr := s.jobs.RecordFire(ctx, jobID, firedAt, triggerID, next); recordErr != nil {
		s.logger.Error("Failed to record job fire", logger.Int64("job_id", jobID), logger.Error(recordErr))
	}

	s.logger.Info("Job triggered",
		logger.Int64("job_id", jobID),
		logger.Int64("scraper_id", job.ScraperID),
		logger.String("schedule_type", t.scheduleType),
	)

	if _, submitErr := s.dispatcher.Submit(runtime.Invocation{
		ScraperID: job.ScraperID,
		JobID:     &jobID,
		Params:    job.Params,
		Trigger:   TriggerSchedule,
	}); submitErr != nil {
		s.logger.Warn("Failed to submit job invocation", logger.Int64("job_id", jobID), logger.Error(submitErr))
	}
}
