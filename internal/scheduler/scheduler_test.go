package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
	"github.com/jonesrussell/north-cloud/scraparr/internal/runtime"
	"github.com/jonesrussell/north-cloud/scraparr/internal/scheduler"
	"github.com/jonesrussell/north-cloud/scraparr/internal/testutils"
)

// recordingSubmitter captures submitted invocations.
type recordingSubmitter struct {
	mu   sync.Mutex
	invs []runtime.Invocation
	sent chan runtime.Invocation
}

func newRecordingSubmitter() *recordingSubmitter {
	return &recordingSubmitter{sent: make(chan runtime.Invocation, 16)}
}

func (r *recordingSubmitter) Submit(inv runtime.Invocation) (*scheduler.Ticket, error) {
	r.mu.Lock()
	r.invs = append(r.invs, inv)
	r.mu.Unlock()
	r.sent <- inv
	return nil, nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.invs)
}

func waitInvocation(t *testing.T, sub *recordingSubmitter, within time.Duration) runtime.Invocation {
	t.Helper()
	select {
	case inv := <-sub.sent:
		return inv
	case <-time.After(within):
		t.Fatalf("no invocation within %s", within)
		return runtime.Invocation{}
	}
}

func newScheduler(t *testing.T, jobs *testutils.JobStore) (*scheduler.Scheduler, *recordingSubmitter) {
	t.Helper()
	sub := newRecordingSubmitter()
	s := scheduler.New(jobs, sub, logger.NewNop(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, sub
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		typ     string
		cfg     map[string]any
		wantErr bool
	}{
		{"once delay", domain.ScheduleOnce, map[string]any{"delay_seconds": 0}, false},
		{"once run_at", domain.ScheduleOnce, map[string]any{"run_at": "2026-05-01T10:00:00Z"}, false},
		{"once both", domain.ScheduleOnce, map[string]any{"delay_seconds": 1, "run_at": "2026-05-01T10:00:00Z"}, true},
		{"interval minutes", domain.ScheduleInterval, map[string]any{"minutes": 15}, false},
		{"interval two units", domain.ScheduleInterval, map[string]any{"minutes": 1, "hours": 1}, true},
		{"interval zero", domain.ScheduleInterval, map[string]any{"seconds": 0}, true},
		{"cron daily", domain.ScheduleCron, map[string]any{"expression": "0 3 * * 0"}, false},
		{"cron out of range", domain.ScheduleCron, map[string]any{"expression": "61 * * * *"}, true},
		{"cron six fields", domain.ScheduleCron, map[string]any{"expression": "0 0 3 * * *"}, true},
		{"unknown type", "weekly", map[string]any{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := scheduler.ValidateSchedule(tt.typ, tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.IsValidationError(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestScheduler_StartFailsWhenJobsUnreadable(t *testing.T) {
	t.Parallel()

	jobs := testutils.NewJobStore()
	jobs.ListErr = errors.New("connection refused")
	s, _ := newScheduler(t, jobs)

	require.Error(t, s.Start(context.Background()))
}

func TestScheduler_StartSkipsBadJob(t *testing.T) {
	t.Parallel()

	jobs := testutils.NewJobStore()
	bad := jobs.Add(&domain.Job{ScraperID: 1, ScheduleType: domain.ScheduleCron,
		ScheduleConfig: domain.JSONBMap{"expression": "not a cron"}, IsActive: true})
	good := jobs.Add(&domain.Job{ScraperID: 1, ScheduleType: domain.ScheduleInterval,
		ScheduleConfig: domain.JSONBMap{"hours": 1}, IsActive: true})
	jobs.Add(&domain.Job{ScraperID: 1, ScheduleType: domain.ScheduleInterval,
		ScheduleConfig: domain.JSONBMap{"hours": 1}, IsActive: false})

	s, _ := newScheduler(t, jobs)
	require.NoError(t, s.Start(context.Background()))

	assert.False(t, s.IsScheduled(bad.ID))
	assert.True(t, s.IsScheduled(good.ID))
	assert.Equal(t, 1, s.ActiveCount())

	row, _ := jobs.Raw(good.ID)
	require.NotNil(t, row.SchedulerJobID)
	assert.Equal(t, "job_2", *row.SchedulerJobID)
	require.NotNil(t, row.NextRunAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *row.NextRunAt, 2*time.Second)
}

func TestScheduler_OnceFiresExactlyOnce(t *testing.T) {
	t.Parallel()

	jobs := testutils.NewJobStore()
	job := jobs.Add(&domain.Job{
		ScraperID:      3,
		ScheduleType:   domain.ScheduleOnce,
		ScheduleConfig: domain.JSONBMap{"delay_seconds": 0},
		Params:         domain.JSONBMap{"region": "benelux"},
		IsActive:       true,
	})

	s, sub := newScheduler(t, jobs)
	require.NoError(t, s.Start(context.Background()))

	inv := waitInvocation(t, sub, 3*time.Second)
	assert.Equal(t, int64(3), inv.ScraperID)
	require.NotNil(t, inv.JobID)
	assert.Equal(t, job.ID, *inv.JobID)
	assert.Equal(t, "benelux", inv.Params["region"])
	assert.Equal(t, scheduler.TriggerSchedule, inv.Trigger)

	require.Eventually(t, func() bool { return !s.IsScheduled(job.ID) }, time.Second, 10*time.Millisecond)
	row, _ := jobs.Raw(job.ID)
	assert.NotNil(t, row.LastRunAt)
	assert.Nil(t, row.NextRunAt)
	assert.Nil(t, row.SchedulerJobID)

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 1, sub.count())
}

func TestScheduler_FiredOnceJobNotRescheduled(t *testing.T) {
	t.Parallel()

	fired := time.Now().Add(-time.Hour)
	jobs := testutils.NewJobStore()
	job := jobs.Add(&domain.Job{
		ScraperID:      1,
		ScheduleType:   domain.ScheduleOnce,
		ScheduleConfig: domain.JSONBMap{"delay_seconds": 0},
		IsActive:       true,
		LastRunAt:      &fired,
	})

	s, sub := newScheduler(t, jobs)
	require.NoError(t, s.Start(context.Background()))

	assert.False(t, s.IsScheduled(job.ID))
	time.Sleep(400 * time.Millisecond)
	assert.Zero(t, sub.count())
}

func TestScheduler_IntervalFiresRepeatedly(t *testing.T) {
	t.Parallel()

	jobs := testutils.NewJobStore()
	job := jobs.Add(&domain.Job{
		ScraperID:      1,
		ScheduleType:   domain.ScheduleInterval,
		ScheduleConfig: domain.JSONBMap{"seconds": 1},
		IsActive:       true,
	})

	s, sub := newScheduler(t, jobs)
	require.NoError(t, s.Start(context.Background()))

	waitInvocation(t, sub, 3*time.Second)
	waitInvocation(t, sub, 3*time.Second)

	row, _ := jobs.Raw(job.ID)
	require.NotNil(t, row.LastRunAt)
	require.NotNil(t, row.NextRunAt)
	assert.True(t, row.NextRunAt.After(*row.LastRunAt))
	assert.True(t, s.IsScheduled(job.ID))
}

func TestScheduler_UnscheduleStopsFiring(t *testing.T) {
	t.Parallel()

	jobs := testutils.NewJobStore()
	job := jobs.Add(&domain.Job{
		ScraperID:      1,
		ScheduleType:   domain.ScheduleInterval,
		ScheduleConfig: domain.JSONBMap{"seconds": 1},
		IsActive:       true,
	})

	s, sub := newScheduler(t, jobs)
	require.NoError(t, s.Start(context.Background()))
	waitInvocation(t, sub, 3*time.Second)

	require.NoError(t, s.Unschedule(context.Background(), job.ID))
	fires := sub.count()

	row, _ := jobs.Raw(job.ID)
	assert.Nil(t, row.NextRunAt)
	assert.Nil(t, row.SchedulerJobID)

	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, fires, sub.count())
}

func TestScheduler_ScheduleReplacesAndDeactivates(t *testing.T) {
	t.Parallel()

	jobs := testutils.NewJobStore()
	job := jobs.Add(&domain.Job{
		ScraperID:      1,
		ScheduleType:   domain.ScheduleInterval,
		ScheduleConfig: domain.JSONBMap{"hours": 1},
		IsActive:       true,
	})

	s, _ := newScheduler(t, jobs)
	require.NoError(t, s.Start(context.Background()))
	ctx := context.Background()

	job.ScheduleType = domain.ScheduleCron
	job.ScheduleConfig = domain.JSONBMap{"expression": "30 3 * * *"}
	require.NoError(t, s.Schedule(ctx, job))
	assert.Equal(t, 1, s.ActiveCount())

	row, _ := jobs.Raw(job.ID)
	require.NotNil(t, row.NextRunAt)
	assert.Equal(t, 3, row.NextRunAt.UTC().Hour())
	assert.Equal(t, 30, row.NextRunAt.UTC().Minute())

	job.IsActive = false
	require.NoError(t, s.Schedule(ctx, job))
	assert.Zero(t, s.ActiveCount())
	row, _ = jobs.Raw(job.ID)
	assert.Nil(t, row.NextRunAt)
}

func TestScheduler_RunNow(t *testing.T) {
	t.Parallel()

	jobs := testutils.NewJobStore()
	job := jobs.Add(&domain.Job{ScraperID: 8, Params: domain.JSONBMap{"page": 2}})

	s, sub := newScheduler(t, jobs)
	_, err := s.RunNow(job)
	require.NoError(t, err)

	inv := waitInvocation(t, sub, time.Second)
	assert.Equal(t, int64(8), inv.ScraperID)
	assert.Equal(t, scheduler.TriggerManual, inv.Trigger)
	assert.Equal(t, 2, inv.Params["page"])
}
