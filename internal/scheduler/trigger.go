// Package scheduler turns persisted jobs into live triggers and runs their
// invocations on a bounded dispatcher.
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
)

// immediateDelay is how far ahead a past-due once trigger is placed.
const immediateDelay = 200 * time.Millisecond

// errAlreadyFired marks once jobs that already ran.
var errAlreadyFired = errors.New("once job already fired")

// cronParser accepts standard five-field expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// onceSchedule fires a single time at `at`.
type onceSchedule struct {
	at time.Time
}

// Next returns at until it has passed, then the zero time, which cron
// treats as never.
func (o onceSchedule) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

// ValidateSchedule checks a schedule config without building a trigger.
func ValidateSchedule(scheduleType string, cfg map[string]any) error {
	switch scheduleType {
	case domain.ScheduleOnce:
		_, err := domain.DecodeOnce(cfg)
		return err
	case domain.ScheduleInterval:
		_, err := domain.DecodeInterval(cfg)
		return err
	case domain.ScheduleCron:
		c, err := domain.DecodeCron(cfg)
		if err != nil {
			return err
		}
		if _, parseErr := cronParser.Parse(c.Expression); parseErr != nil {
			return &domain.ValidationError{Field: "schedule_config.expression", Message: parseErr.Error()}
		}
		return nil
	default:
		return &domain.ValidationError{
			Field:   "schedule_type",
			Message: fmt.Sprintf("must be one of %s, %s, %s", domain.ScheduleOnce, domain.ScheduleInterval, domain.ScheduleCron),
		}
	}
}

// buildSchedule returns the trigger schedule of a job as of now.
func buildSchedule(job *domain.Job, now time.Time) (cron.Schedule, error) {
	if err := ValidateSchedule(job.ScheduleType, job.ScheduleConfig); err != nil {
		return nil, err
	}

	switch job.ScheduleType {
	case domain.ScheduleOnce:
		if job.LastRunAt != nil {
			return nil, errAlreadyFired
		}
		o, _ := domain.DecodeOnce(job.ScheduleConfig)
		at, err := o.FireTime(job.CreatedAt)
		if err != nil {
			return nil, err
		}
		if !at.After(now) {
			at = now.Add(immediateDelay)
		}
		return onceSchedule{at: at}, nil

	case domain.ScheduleInterval:
		i, _ := domain.DecodeInterval(job.ScheduleConfig)
		return cron.Every(i.Period()), nil

	default:
		c, _ := domain.DecodeCron(job.ScheduleConfig)
		sched, err := cronParser.Parse(c.Expression)
		if err != nil {
			return nil, err
		}
		if spec, ok := sched.(*cron.SpecSchedule); ok {
			spec.Location = time.UTC
		}
		return sched, nil
	}
}

// nextFire returns the next fire time after t, nil when the schedule is spent.
func nextFire(sched cron.Schedule, t time.Time) *time.Time {
	next := sched.Next(t)
	if next.IsZero() {
		return nil
	}
	next = next.UTC()
	return &next
}
