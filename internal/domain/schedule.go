package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Schedule types.
const (
	ScheduleOnce     = "once"
	ScheduleInterval = "interval"
	ScheduleCron     = "cron"
)

// ValidationError is returned for malformed schedules or invocation parameters.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// OnceSchedule fires a single time, at RunAt or DelaySeconds after creation.
type OnceSchedule struct {
	DelaySeconds *int   `mapstructure:"delay_seconds"`
	RunAt        string `mapstructure:"run_at"`
}

// FireTime resolves the absolute fire time relative to the job creation time.
func (o OnceSchedule) FireTime(createdAt time.Time) (time.Time, error) {
	if o.RunAt != "" {
		at, err := time.Parse(time.RFC3339, o.RunAt)
		if err != nil {
			return time.Time{}, &ValidationError{Field: "schedule_config.run_at", Message: "must be an RFC3339 timestamp"}
		}
		return at, nil
	}
	return createdAt.Add(time.Duration(*o.DelaySeconds) * time.Second), nil
}

// IntervalSchedule fires every fixed period. Exactly one unit is set.
type IntervalSchedule struct {
	Seconds int `mapstructure:"seconds"`
	Minutes int `mapstructure:"minutes"`
	Hours   int `mapstructure:"hours"`
	Days    int `mapstructure:"days"`
}

// Period returns the interval as a duration.
func (i IntervalSchedule) Period() time.Duration {
	switch {
	case i.Seconds > 0:
		return time.Duration(i.Seconds) * time.Second
	case i.Minutes > 0:
		return time.Duration(i.Minutes) * time.Minute
	case i.Hours > 0:
		return time.Duration(i.Hours) * time.Hour
	default:
		return time.Duration(i.Days) * 24 * time.Hour
	}
}

// CronSchedule fires on a five-field calendar expression.
type CronSchedule struct {
	Expression string `mapstructure:"expression"`
}

func decodeSchedule(cfg map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	if decodeErr := decoder.Decode(cfg); decodeErr != nil {
		return &ValidationError{Field: "schedule_config", Message: decodeErr.Error()}
	}
	return nil
}

// wholeNumber converts a decoded schedule number to int. Numbers are decoded
// as float64 so fractions are rejected instead of truncated.
func wholeNumber(field string, v float64) (int, error) {
	if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) || math.Abs(v) > math.MaxInt32 {
		return 0, &ValidationError{Field: "schedule_config." + field, Message: "must be an integer"}
	}
	return int(v), nil
}

// DecodeOnce decodes and validates a once schedule config.
func DecodeOnce(cfg map[string]any) (OnceSchedule, error) {
	var in struct {
		DelaySeconds *float64 `mapstructure:"delay_seconds"`
		RunAt        string          `mapstructure:"run_at"`
	}
	var o OnceSchedule
	if err := decodeSchedule(cfg, &in); err != nil {
		return o, err
	}
	o.RunAt = in.RunAt
	if in.DelaySeconds != nil {
		delay, err := wholeNumber("delay_seconds", *in.DelaySeconds)
		if err != nil {
			return o, err
		}
		o.DelaySeconds = &delay
	}

	hasDelay := o.DelaySeconds != nil
	hasRunAt := o.RunAt != ""
	switch {
	case hasDelay == hasRunAt:
		return o, &ValidationError{Field: "schedule_config", Message: "once requires exactly one of delay_seconds or run_at"}
	case hasDelay && *o.DelaySeconds < 0:
		return o, &ValidationError{Field: "schedule_config.delay_seconds", Message: "must not be negative"}
	case hasRunAt:
		if _, err := time.Parse(time.RFC3339, o.RunAt); err != nil {
			return o, &ValidationError{Field: "schedule_config.run_at", Message: "must be an RFC3339 timestamp"}
		}
	}
	return o, nil
}

// DecodeInterval decodes and validates an interval schedule config. Units
// must be whole numbers.
func DecodeInterval(cfg map[string]any) (IntervalSchedule, error) {
	var in struct {
		Seconds float64 `mapstructure:"seconds"`
		Minutes float64 `mapstructure:"minutes"`
		Hours   float64 `mapstructure:"hours"`
		Days    float64 `mapstructure:"days"`
	}
	var i IntervalSchedule
	if err := decodeSchedule(cfg, &in); err != nil {
		return i, err
	}

	units := []struct {
		name string
		raw  float64
		dst  *int
	}{
		{"seconds", in.Seconds, &i.Seconds},
		{"minutes", in.Minutes, &i.Minutes},
		{"hours", in.Hours, &i.Hours},
		{"days", in.Days, &i.Days},
	}

	set := 0
	for _, u := range units {
		v, err := wholeNumber(u.name, u.raw)
		if err != nil {
			return i, err
		}
		if v < 0 {
			return i, &ValidationError{Field: "schedule_config." + u.name, Message: "must be a positive integer"}
		}
		if v > 0 {
			set++
		}
		*u.dst = v
	}
	if set != 1 {
		return i, &ValidationError{
			Field:   "schedule_config",
			Message: "interval requires exactly one of seconds, minutes, hours or days",
		}
	}
	return i, nil
}

// DecodeCron decodes a cron schedule config. The expression itself is parsed
// by the scheduler.
func DecodeCron(cfg map[string]any) (CronSchedule, error) {
	var c CronSchedule
	if err := decodeSchedule(cfg, &c); err != nil {
		return c, err
	}
	c.Expression = strings.TrimSpace(c.Expression)
	if c.Expression == "" {
		return c, &ValidationError{Field: "schedule_config.expression", Message: "is required"}
	}
	if fields := strings.Fields(c.Expression); len(fields) != 5 {
		return c, &ValidationError{
			Field:   "schedule_config.expression",
			Message: "must have five fields: minute hour day-of-month month day-of-week",
		}
	}
	return c, nil
}
