package logger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
)

func TestFromContext_ReturnsStoredLogger(t *testing.T) {
	t.Parallel()

	log, logs := logger.NewObserved(zapcore.InfoLevel)
	ctx := logger.WithContext(context.Background(), log)

	logger.FromContext(ctx).Info("Stored logger used", logger.String("scraper_id", "7"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Stored logger used", entry.Message)
	assert.Equal(t, "7", entry.ContextMap()["scraper_id"])
}

func TestFromContext_FallsBackWhenMissing(t *testing.T) {
	t.Parallel()

	l := logger.FromContext(context.Background())
	require.NotNil(t, l)
	assert.Same(t, l, logger.FromContext(context.Background()))
}

func TestWithExecution_TagsLoggerAndContext(t *testing.T) {
	t.Parallel()

	base, logs := logger.NewObserved(zapcore.InfoLevel)
	jobID := int64(9)
	ctx, log := logger.WithExecution(context.Background(), base, logger.Execution{
		ID: 42, ScraperID: 7, JobID: &jobID, Routine: "geo_grid",
	})

	log.Info("Direct")
	logger.FromContext(ctx).Info("Through context")

	require.Equal(t, 2, logs.Len())
	for _, entry := range logs.All() {
		fields := entry.ContextMap()
		assert.Equal(t, int64(42), fields[logger.KeyExecutionID])
		assert.Equal(t, int64(7), fields[logger.KeyScraperID])
		assert.Equal(t, int64(9), fields[logger.KeyJobID])
		assert.Equal(t, "geo_grid", fields[logger.KeyRoutine])
	}
}

func TestWithExecution_ManualRunOmitsJob(t *testing.T) {
	t.Parallel()

	base, logs := logger.NewObserved(zapcore.InfoLevel)
	ctx := logger.WithContext(context.Background(), base)
	ctx, _ = logger.WithExecution(ctx, nil, logger.Execution{ID: 1, ScraperID: 2})

	logger.FromContext(ctx).Info("Manual")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, int64(1), fields[logger.KeyExecutionID])
	assert.NotContains(t, fields, logger.KeyJobID)
	assert.NotContains(t, fields, logger.KeyRoutine)
}

func TestWith_AttachesFields(t *testing.T) {
	t.Parallel()

	log, logs := logger.NewObserved(zapcore.DebugLevel)
	log.With(logger.Int64("job_id", 3)).Warn("Trigger removed")

	require.Equal(t, 1, logs.FilterMessage("Trigger removed").Len())
	assert.Equal(t, int64(3), logs.All()[0].ContextMap()["job_id"])
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	cfg := logger.Config{}
	cfg.SetDefaults()

	assert.Equal(t, logger.DefaultLevel, cfg.Level)
	assert.Equal(t, logger.DefaultFormat, cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
}

func TestNop_DoesNothing(t *testing.T) {
	t.Parallel()

	l := logger.NewNop()
	l.Fatal("not exiting")
	assert.NoError(t, l.With(logger.String("k", "v")).Sync())
}
