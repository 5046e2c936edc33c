package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
)

func TestBuildSchedule_CronMondayOneAMUTC(t *testing.T) {
	job := &domain.Job{
		ScheduleType:   domain.ScheduleCron,
		ScheduleConfig: domain.JSONBMap{"expression": "0 1 * * 1"},
	}
	// Wednesday afternoon.
	from := time.Date(2026, time.October, 14, 15, 30, 0, 0, time.UTC)

	sched, err := buildSchedule(job, from)
	require.NoError(t, err)

	next := sched.Next(from)
	assert.True(t, next.Equal(time.Date(2026, time.October, 19, 1, 0, 0, 0, time.UTC)), next)

	prev := next
	for range 8 {
		next = sched.Next(prev)
		assert.Equal(t, time.Monday, next.UTC().Weekday())
		assert.Equal(t, 1, next.UTC().Hour())
		assert.Equal(t, 0, next.UTC().Minute())
		assert.Equal(t, 7*24*time.Hour, next.Sub(prev))
		prev = next
	}

	// Exactly on the fire time moves to the following week.
	monday := time.Date(2026, time.October, 19, 1, 0, 0, 0, time.UTC)
	assert.True(t, sched.Next(monday).Equal(monday.AddDate(0, 0, 7)))

	// Sunday 19:59 at UTC-5 is one minute before the UTC fire time.
	eastern := time.FixedZone("UTC-5", -5*60*60)
	sunday := time.Date(2026, time.October, 18, 19, 59, 0, 0, eastern)
	assert.True(t, sched.Next(sunday).Equal(monday), sched.Next(sunday))

	// Local Monday morning ahead of UTC still resolves to 01:00 UTC.
	ahead := time.FixedZone("UTC+3", 3*60*60)
	localMonday := time.Date(2026, time.October, 19, 0, 30, 0, 0, ahead)
	got := sched.Next(localMonday).UTC()
	assert.True(t, got.Equal(monday), got)
}

func TestBuildSchedule_Interval(t *testing.T) {
	now := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)

	sched, err := buildSchedule(&domain.Job{
		ScheduleType:   domain.ScheduleInterval,
		ScheduleConfig: domain.JSONBMap{"hours": 2},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(2*time.Hour), sched.Next(now))

	_, err = buildSchedule(&domain.Job{
		ScheduleType:   domain.ScheduleInterval,
		ScheduleConfig: domain.JSONBMap{"hours": 1.7},
	}, now)
	require.Error(t, err)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "schedule_config.hours", ve.Field)
}

func TestBuildSchedule_OnceFiresOnce(t *testing.T) {
	now := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)
	job := &domain.Job{
		ScheduleType:   domain.ScheduleOnce,
		ScheduleConfig: domain.JSONBMap{"delay_seconds": 30},
		CreatedAt:      now,
	}

	sched, err := buildSchedule(job, now)
	require.NoError(t, err)
	at := sched.Next(now)
	assert.Equal(t, now.Add(30*time.Second), at)
	assert.Nil(t, nextFire(sched, at))

	job.LastRunAt = &at
	_, err = buildSchedule(job, now)
	assert.Error(t, err)
}
