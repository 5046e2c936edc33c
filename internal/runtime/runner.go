package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jonesrussell/north-cloud/scraparr/internal/database"
	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
	"github.com/jonesrussell/north-cloud/scraparr/internal/schema"
	"github.com/jonesrussell/north-cloud/scraparr/internal/tracker"
)

var (
	// ErrScraperNotFound is returned when the scraper does not exist or is deleted.
	ErrScraperNotFound = errors.New("scraper not found")
	// ErrScraperInactive is returned when the scraper is deactivated.
	ErrScraperInactive = errors.New("scraper is inactive")
)

// ScraperSource reads scraper definitions.
type ScraperSource interface {
	GetByID(ctx context.Context, id int64) (*domain.Scraper, error)
}

// NamespaceProvider allocates scraper namespaces.
type NamespaceProvider interface {
	EnsureNamespace(ctx context.Context, scraperID int64) (*schema.Namespace, error)
}

// Invocation is one request to run a scraper's routine.
type Invocation struct {
	ScraperID int64
	JobID     *int64
	Params    Params
	// Trigger names what caused the invocation, e.g. "schedule" or "manual".
	Trigger string
}

// Result is the terminal state of an execution.
type Result struct {
	ExecutionID int64
	Status      string
	Items       int
	Err         error
}

// Runner validates invocations and runs routines as tracked executions.
type Runner struct {
	scrapers   ScraperSource
	namespaces NamespaceProvider
	registry   *Registry
	tracker    *tracker.Tracker
	http       HTTPOptions
	logger     logger.Logger
}

// NewRunner creates a runner.
func NewRunner(
	scrapers ScraperSource,
	namespaces NamespaceProvider,
	registry *Registry,
	trk *tracker.Tracker,
	httpOpts HTTPOptions,
	log logger.Logger,
) *Runner {
	return &Runner{
		scrapers:   scrapers,
		namespaces: namespaces,
		registry:   registry,
		tracker:    trk,
		http:       httpOpts,
		logger:     log,
	}
}

// Registry returns the routine registry.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Validate checks the scraper can be run with params: it exists, is active,
// names a registered routine and the routine accepts the params. No
// execution is created.
func (r *Runner) Validate(ctx context.Context, scraperID int64, params Params) (*domain.Scraper, Descriptor, error) {
	scraper, err := r.scrapers.GetByID(ctx, scraperID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, Descriptor{}, fmt.Errorf("%w: %d", ErrScraperNotFound, scraperID)
	}
	if err != nil {
		return nil, Descriptor{}, fmt.Errorf("failed to load scraper %d: %w", scraperID, err)
	}
	if !scraper.IsActive {
		return nil, Descriptor{}, fmt.Errorf("%w: %d", ErrScraperInactive, scraperID)
	}

	desc, err := r.registry.Lookup(scraper.Routine)
	if err != nil {
		return nil, Descriptor{}, err
	}
	if err = checkParams(desc, scraper, params); err != nil {
		return nil, Descriptor{}, err
	}
	return scraper, desc, nil
}

// CheckParams validates params for the scraper's routine regardless of the
// scraper being active. Jobs use it when their params are written.
func (r *Runner) CheckParams(scraper *domain.Scraper, params Params) error {
	desc, err := r.registry.Lookup(scraper.Routine)
	if err != nil {
		return err
	}
	return checkParams(desc, scraper, params)
}

func checkParams(desc Descriptor, scraper *domain.Scraper, params Params) error {
	validator, ok := desc.Factory().(ParamValidator)
	if !ok {
		return nil
	}
	if params == nil {
		params = Params{}
	}
	config := map[string]any(scraper.Config)
	if config == nil {
		config = map[string]any{}
	}
	if err := validator.ValidateParams(config, params); err != nil {
		if domain.IsValidationError(err) {
			return err
		}
		return &domain.ValidationError{Field: "params", Message: err.Error()}
	}
	return nil
}

// Execute runs one invocation to completion. Errors are returned only when
// no execution could be created; routine failures end up in the execution
// row and the Result. onStart, if set, receives the execution id as soon as
// the row exists.
func (r *Runner) Execute(ctx context.Context, inv Invocation, onStart func(executionID int64)) (Result, error) {
	scraper, desc, err := r.Validate(ctx, inv.ScraperID, inv.Params)
	if err != nil {
		return Result{}, err
	}

	sink, err := r.tracker.Start(ctx, tracker.StartParams{
		ScraperID: scraper.ID,
		JobID:     inv.JobID,
		Routine:   desc.Name,
		Params:    inv.Params,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to start execution: %w", err)
	}
	if onStart != nil {
		onStart(sink.ExecutionID())
	}

	runCtx, log := logger.WithExecution(ctx, r.logger, logger.Execution{
		ID:        sink.ExecutionID(),
		ScraperID: scraper.ID,
		JobID:     inv.JobID,
		Routine:   desc.Name,
	})
	outcome := r.run(runCtx, scraper, desc, sink, inv, log)

	if finishErr := r.tracker.Finish(context.WithoutCancel(ctx), sink.ExecutionID(), outcome); finishErr != nil {
		log.Error("Failed to finalize execution", logger.Error(finishErr))
	}

	return Result{
		ExecutionID: sink.ExecutionID(),
		Status:      outcome.Status,
		Items:       outcome.Items,
		Err:         outcome.Err,
	}, nil
}

func (r *Runner) run(
	ctx context.Context,
	scraper *domain.Scraper,
	desc Descriptor,
	sink *tracker.Sink,
	inv Invocation,
	log logger.Logger,
) tracker.Outcome {
	start := time.Now()
	sink.Log(ctx, tracker.LevelInfo, fmt.Sprintf("Starting %s for scraper %q (trigger: %s)", desc.Name, scraper.Name, triggerName(inv)))

	ns, err := r.namespaces.EnsureNamespace(ctx, scraper.ID)
	if err != nil {
		sink.Log(ctx, tracker.LevelError, err.Error())
		return tracker.Outcome{Status: domain.ExecutionStatusFailed, Err: err}
	}

	env := NewEnv(ctx, EnvOptions{Scraper: scraper, Namespace: ns, Sink: sink, HTTP: r.http, Logger: log})
	routine := desc.Factory()

	records, err := invoke(ctx, routine, env, inv.Params)
	if err != nil {
		env.Errorf("Execution failed: %v", err)
		r.onError(ctx, routine, env, err, inv.Params, log)
		log.Warn("Routine failed", logger.Error(err), logger.Duration("duration", time.Since(start)))
		return tracker.Outcome{Status: domain.ExecutionStatusFailed, Err: err, Metrics: env.Metrics()}
	}

	env.Infof("Execution finished: %d records in %s", len(records), time.Since(start).Round(time.Millisecond))
	log.Info("Routine finished", logger.Int("items", len(records)), logger.Duration("duration", time.Since(start)))
	return tracker.Outcome{Status: domain.ExecutionStatusSuccess, Items: len(records), Metrics: env.Metrics()}
}

// invoke runs table setup and Before, Scrape and After, turning panics into errors.
func invoke(ctx context.Context, routine Routine, env *Env, params Params) (records []Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			env.Errorf("panic: %v\n%s", p, debug.Stack())
			records, err = nil, fmt.Errorf("routine panicked: %v", p)
		}
	}()

	if params == nil {
		params = Params{}
	}

	if declarer, ok := routine.(TableDeclarer); ok {
		if tablesErr := env.Namespace.EnsureTables(ctx, declarer.Tables()...); tablesErr != nil {
			return nil, tablesErr
		}
	}

	if hook, ok := routine.(BeforeHook); ok {
		if beforeErr := hook.Before(ctx, env, params); beforeErr != nil {
			return nil, fmt.Errorf("before hook: %w", beforeErr)
		}
	}

	records, err = routine.Scrape(ctx, env, params)
	if err != nil {
		return nil, err
	}

	if hook, ok := routine.(AfterHook); ok {
		if afterErr := hook.After(ctx, env, records, params); afterErr != nil {
			return nil, fmt.Errorf("after hook: %w", afterErr)
		}
	}
	return records, nil
}

func (r *Runner) onError(ctx context.Context, routine Routine, env *Env, cause error, params Params, log logger.Logger) {
	hook, ok := routine.(ErrorHook)
	if !ok {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			log.Warn("Error hook panicked", logger.Any("panic", p))
		}
	}()
	if params == nil {
		params = Params{}
	}
	if err := hook.OnError(ctx, env, cause, params); err != nil {
		env.Warnf("Error hook failed: %v", err)
		log.Warn("Error hook failed", logger.Error(err))
	}
}

func triggerName(inv Invocation) string {
	if inv.Trigger != "" {
		return inv.Trigger
	}
	if inv.JobID != nil {
		return "schedule"
	}
	return "manual"
}
