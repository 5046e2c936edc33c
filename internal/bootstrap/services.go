package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
	"github.com/jonesrussell/north-cloud/scraparr/internal/observability"
	"github.com/jonesrussell/north-cloud/scraparr/internal/routines"
	"github.com/jonesrussell/north-cloud/scraparr/internal/runtime"
	"github.com/jonesrussell/north-cloud/scraparr/internal/scheduler"
	"github.com/jonesrussell/north-cloud/scraparr/internal/tracker"
)

// ServiceComponents holds the execution pipeline.
type ServiceComponents struct {
	Registry   *runtime.Registry
	Tracker    *tracker.Tracker
	Runner     *runtime.Runner
	Dispatcher *scheduler.Dispatcher
	Scheduler  *scheduler.Scheduler
	Metrics    *prometheus.Registry
	// cancel stops every execution context once draining timed out.
	cancel context.CancelFunc
}

// NewRegistry returns a registry holding the built-in routines.
func NewRegistry() (*runtime.Registry, error) {
	reg := runtime.NewRegistry()
	if err := routines.Register(reg); err != nil {
		return nil, fmt.Errorf("failed to register routines: %w", err)
	}
	return reg, nil
}

// SetupServices recovers orphaned executions, then starts the dispatcher and
// loads every schedulable job into the scheduler. Failing to read jobs is fatal.
func SetupServices(ctx context.Context, deps *CommandDeps, db *DatabaseComponents) (*ServiceComponents, error) {
	cfg := deps.Config

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promRegistry)

	registry, err := NewRegistry()
	if err != nil {
		return nil, err
	}

	trk := tracker.New(db.ExecutionRepo, deps.Logger, tracker.Options{
		FlushLines:  cfg.Runtime.LogFlushLines,
		BufferLines: cfg.Runtime.LogBufferLines,
		Metrics:     metrics,
	})
	if err = trk.Recover(ctx); err != nil {
		return nil, fmt.Errorf("failed to recover executions: %w", err)
	}

	runner := runtime.NewRunner(
		db.ScraperRepo,
		db.Schemas,
		registry,
		trk,
		runtime.HTTPOptions{UserAgent: cfg.Runtime.UserAgent, Timeout: cfg.Runtime.RequestTimeout},
		deps.Logger,
	)

	runCtx, cancel := context.WithCancel(ctx)

	dispatcher := scheduler.NewDispatcher(runner, cfg.Scheduler.MaxConcurrent, deps.Logger, metrics)
	if err = dispatcher.Start(runCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start dispatcher: %w", err)
	}

	sched := scheduler.New(db.JobRepo, dispatcher, deps.Logger, metrics)
	if err = sched.Start(runCtx); err != nil {
		_ = dispatcher.Stop(context.Background())
		cancel()
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	descriptors := registry.List()
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.Name)
	}
	deps.Logger.Info("Services started",
		logger.Int("max_concurrent", cfg.Scheduler.MaxConcurrent),
		logger.Int("scheduled_jobs", sched.ActiveCount()),
		logger.Strings("routines", names),
	)

	return &ServiceComponents{
		Registry:   registry,
		Tracker:    trk,
		Runner:     runner,
		Dispatcher: dispatcher,
		Scheduler:  sched,
		Metrics:    promRegistry,
		cancel:     cancel,
	}, nil
}
