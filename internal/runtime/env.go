package runtime

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mitchellh/mapstructure"

	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
	"github.com/jonesrussell/north-cloud/scraparr/internal/schema"
	"github.com/jonesrussell/north-cloud/scraparr/internal/tracker"
)

// HTTPOptions configures the client injected into routines.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
}

// ScraperInfo identifies the scraper a routine runs for.
type ScraperInfo struct {
	ID      int64
	Name    string
	Routine string
}

// Env is everything a routine may touch: an HTTP client, a log sink, its
// scraper's configuration and namespace, and a progress reporter.
type Env struct {
	HTTP        *resty.Client
	Config      map[string]any
	Namespace   *schema.Namespace
	Scraper     ScraperInfo
	ExecutionID int64

	// ctx outlives cancellation so late log lines still flush.
	ctx    context.Context
	sink   *tracker.Sink
	logger logger.Logger

	mu      sync.Mutex
	metrics map[string]any
}

// EnvOptions assembles an Env.
type EnvOptions struct {
	Scraper   *domain.Scraper
	Namespace *schema.Namespace
	Sink      *tracker.Sink
	HTTP      HTTPOptions
	Logger    logger.Logger
}

// NewEnv builds the environment of one execution. The runner calls it for
// every invocation; routine tests use it directly.
func NewEnv(ctx context.Context, opts EnvOptions) *Env {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	scraper := opts.Scraper

	env := &Env{
		Config:      maps.Clone(map[string]any(scraper.Config)),
		Namespace:   opts.Namespace,
		Scraper:     ScraperInfo{ID: scraper.ID, Name: scraper.Name, Routine: scraper.Routine},
		ExecutionID: opts.Sink.ExecutionID(),
		ctx:         context.WithoutCancel(ctx),
		sink:        opts.Sink,
		logger:      log,
		metrics:     make(map[string]any),
	}
	if env.Config == nil {
		env.Config = map[string]any{}
	}
	env.HTTP = newHTTPClient(opts.HTTP, scraper.Headers.StringMap(), env)
	return env
}

// newHTTPClient builds the routine client. Scraper headers override the
// default user agent. Every response is written to the execution log.
func newHTTPClient(opts HTTPOptions, headers map[string]string, env *Env) *resty.Client {
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeaders(headers)

	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		env.Log(tracker.LevelDebug, fmt.Sprintf("%s %s -> %d (%s)",
			res.Request.Method, res.Request.URL, res.StatusCode(), res.Time().Round(time.Millisecond)))
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		env.Log(tracker.LevelWarning, fmt.Sprintf("%s %s failed: %v", req.Method, req.URL, err))
	})
	return client
}

// Log writes one line to the execution log.
func (e *Env) Log(level tracker.Level, msg string) {
	e.sink.Log(e.ctx, level, msg)
	e.logger.Debug(msg, logger.String("routine_level", string(level)))
}

// Debugf logs at DEBUG.
func (e *Env) Debugf(format string, args ...any) {
	e.Log(tracker.LevelDebug, fmt.Sprintf(format, args...))
}

// Infof logs at INFO.
func (e *Env) Infof(format string, args ...any) {
	e.Log(tracker.LevelInfo, fmt.Sprintf(format, args...))
}

// Warnf logs at WARNING.
func (e *Env) Warnf(format string, args ...any) {
	e.Log(tracker.LevelWarning, fmt.Sprintf(format, args...))
}

// Errorf logs at ERROR.
func (e *Env) Errorf(format string, args ...any) {
	e.Log(tracker.LevelError, fmt.Sprintf(format, args...))
}

// ReportProgress publishes the latest progress of the execution.
func (e *Env) ReportProgress(items int, message string) {
	e.sink.ReportProgress(items, message)
}

// SetMetric stores a value in the execution's metrics.
func (e *Env) SetMetric(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics[key] = value
}

// Metrics returns a copy of the metrics set so far.
func (e *Env) Metrics() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.metrics)
}

// DecodeParams decodes invocation params into out, a pointer to a struct
// with mapstructure tags. Strings are coerced to numbers, bools and durations.
func (e *Env) DecodeParams(params Params, out any) error {
	return decodeInto("params", params, out)
}

// DecodeConfig decodes the scraper configuration into out.
func (e *Env) DecodeConfig(out any) error {
	return decodeInto("config", e.Config, out)
}

// DecodeParams decodes params like Env.DecodeParams, for use outside an
// execution such as in ValidateParams.
func DecodeParams(params Params, out any) error {
	return decodeInto("params", params, out)
}

// DecodeConfig decodes a scraper configuration like Env.DecodeConfig.
func DecodeConfig(config map[string]any, out any) error {
	return decodeInto("config", config, out)
}

func decodeInto(field string, in map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	if decodeErr := decoder.Decode(in); decodeErr != nil {
		return &domain.ValidationError{Field: field, Message: decodeErr.Error()}
	}
	return nil
}
