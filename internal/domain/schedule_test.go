package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
)

func TestDecodeOnce(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("delay relative to creation", func(t *testing.T) {
		t.Parallel()
		o, err := domain.DecodeOnce(map[string]any{"delay_seconds": float64(90)})
		require.NoError(t, err)
		at, err := o.FireTime(created)
		require.NoError(t, err)
		assert.Equal(t, created.Add(90*time.Second), at)
	})

	t.Run("zero delay is allowed", func(t *testing.T) {
		t.Parallel()
		o, err := domain.DecodeOnce(map[string]any{"delay_seconds": 0})
		require.NoError(t, err)
		at, err := o.FireTime(created)
		require.NoError(t, err)
		assert.Equal(t, created, at)
	})

	t.Run("explicit timestamp", func(t *testing.T) {
		t.Parallel()
		o, err := domain.DecodeOnce(map[string]any{"run_at": "2026-04-01T01:00:00Z"})
		require.NoError(t, err)
		at, err := o.FireTime(created)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 4, 1, 1, 0, 0, 0, time.UTC), at.UTC())
	})

	for name, cfg := range map[string]map[string]any{
		"empty":          {},
		"both":           {"delay_seconds": 1, "run_at": "2026-04-01T01:00:00Z"},
		"negative delay": {"delay_seconds": -5},
		"bad timestamp":  {"run_at": "tomorrow"},
		"unknown key":    {"delay": 5},
		"fractional":     {"delay_seconds": 1.5},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := domain.DecodeOnce(cfg)
			require.Error(t, err)
			assert.True(t, domain.IsValidationError(err))
		})
	}
}

func TestDecodeInterval(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cfg  map[string]any
		want time.Duration
	}{
		{map[string]any{"seconds": 30}, 30 * time.Second},
		{map[string]any{"minutes": float64(15)}, 15 * time.Minute},
		{map[string]any{"hours": "1"}, time.Hour},
		{map[string]any{"days": 7}, 7 * 24 * time.Hour},
	}
	for _, tc := range cases {
		i, err := domain.DecodeInterval(tc.cfg)
		require.NoError(t, err)
		assert.Equal(t, tc.want, i.Period())
	}

	for _, bad := range []map[string]any{
		{},
		{"hours": 1, "minutes": 30},
		{"hours": -1},
		{"weeks": 1},
		{"hours": 1.7},
		{"minutes": "2.5"},
	} {
		_, err := domain.DecodeInterval(bad)
		require.Error(t, err, "config %v", bad)
		assert.True(t, domain.IsValidationError(err))
	}

	_, err := domain.DecodeInterval(map[string]any{"hours": 1.7})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "schedule_config.hours", vErr.Field)

	i, err := domain.DecodeInterval(map[string]any{"hours": 2.0})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, i.Period())
}

func TestDecodeCron(t *testing.T) {
	t.Parallel()

	c, err := domain.DecodeCron(map[string]any{"expression": " 0 1 * * 1 "})
	require.NoError(t, err)
	assert.Equal(t, "0 1 * * 1", c.Expression)

	_, err = domain.DecodeCron(map[string]any{})
	require.Error(t, err)

	_, err = domain.DecodeCron(map[string]any{"expression": "0 0 1 * * 1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "five fields")
}

func TestExecutionStats_ComputeRates(t *testing.T) {
	t.Parallel()

	s := domain.ExecutionStats{SuccessfulExecutions: 3, FailedExecutions: 1, RunningExecutions: 2}
	s.ComputeRates()
	assert.InDelta(t, 0.75, s.SuccessRate, 0.0001)

	empty := domain.ExecutionStats{}
	empty.ComputeRates()
	assert.InDelta(t, 0.0, empty.SuccessRate, 0.0001)
}

func TestJSONBMap_ScanAndValue(t *testing.T) {
	t.Parallel()

	var m domain.JSONBMap
	require.NoError(t, m.Scan([]byte(`{"a":1,"b":"x"}`)))
	assert.Equal(t, "x", m["b"])

	v, err := domain.JSONBMap(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)

	require.Error(t, m.Scan(42))

	headers := domain.JSONBMap{"Authorization": "Bearer t", "X-Retry": float64(3), "Skip": nil}.StringMap()
	assert.Equal(t, map[string]string{"Authorization": "Bearer t", "X-Retry": "3"}, headers)
}

func TestSchemaNameFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "scraper_42", domain.SchemaNameFor(42))

	job := &domain.Job{ID: 7, IsActive: true}
	assert.Equal(t, "job_7", job.TriggerID())
	assert.True(t, job.Schedulable())
}
