package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/scraparr/internal/api"
	"github.com/jonesrussell/north-cloud/scraparr/internal/coverage"
	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
	"github.com/jonesrussell/north-cloud/scraparr/internal/runtime"
	"github.com/jonesrussell/north-cloud/scraparr/internal/scheduler"
	"github.com/jonesrussell/north-cloud/scraparr/internal/schema"
	"github.com/jonesrussell/north-cloud/scraparr/internal/testutils"
	"github.com/jonesrussell/north-cloud/scraparr/internal/tracker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	gatedRoutine   = "gated"
	instantRoutine = "instant"
	strictRoutine  = "strict"
	failingRoutine = "failing"
)

// fakeNamespaces records namespace lifecycle calls.
type fakeNamespaces struct {
	mu      sync.Mutex
	ensured []int64
	dropped []int64
}

func (f *fakeNamespaces) EnsureNamespace(_ context.Context, id int64) (*schema.Namespace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, id)
	return schema.NewManager(nil, logger.NewNop()).Namespace(id), nil
}

func (f *fakeNamespaces) DropNamespace(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, id)
	return nil
}

func (f *fakeNamespaces) Dropped() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.dropped...)
}

type fakeCoverage struct {
	regions []coverage.RegionSummary
}

func (f fakeCoverage) Summary(context.Context, int64) ([]coverage.RegionSummary, error) {
	return f.regions, nil
}

// gate blocks the gated routine until released.
type gate struct {
	release chan struct{}
	once    sync.Once
}

func (g *gate) open() {
	g.once.Do(func() { close(g.release) })
}

type gatedScrape struct {
	gate *gate
}

func (r *gatedScrape) Scrape(ctx context.Context, env *runtime.Env, _ runtime.Params) ([]runtime.Record, error) {
	env.Infof("working")
	env.ReportProgress(3, "halfway")
	select {
	case <-r.gate.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []runtime.Record{{"id": 1}, {"id": 2}}, nil
}

type instantScrape struct{}

func (instantScrape) Scrape(context.Context, *runtime.Env, runtime.Params) ([]runtime.Record, error) {
	return []runtime.Record{{"id": 1}}, nil
}

// strictScrape requires a region param.
type strictScrape struct {
	instantScrape
}

func (strictScrape) ValidateParams(_ map[string]any, params runtime.Params) error {
	if _, ok := params["region"]; !ok {
		return &domain.ValidationError{Field: "params.region", Message: "is required"}
	}
	return nil
}

// failingScrape always fails as an upstream outage would.
type failingScrape struct{}

func (failingScrape) Scrape(context.Context, *runtime.Env, runtime.Params) ([]runtime.Record, error) {
	return nil, errors.New("upstream returned 503")
}

type fixture struct {
	router     *gin.Engine
	scrapers   *testutils.ScraperStore
	jobs       *testutils.JobStore
	executions *testutils.ExecutionStore
	namespaces *fakeNamespaces
	scheduler  *scheduler.Scheduler
	gate       *gate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithWait(t, 2*time.Second)
}

func newFixtureWithWait(t *testing.T, wait time.Duration) *fixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	log := logger.NewNop()

	fx := &fixture{
		scrapers:   testutils.NewScraperStore(),
		jobs:       testutils.NewJobStore(),
		executions: testutils.NewExecutionStore(),
		namespaces: &fakeNamespaces{},
		gate:       &gate{release: make(chan struct{})},
	}

	reg := runtime.NewRegistry()
	reg.MustRegister(runtime.Descriptor{
		Name:    gatedRoutine,
		Kind:    runtime.KindAPI,
		Factory: func() runtime.Routine { return &gatedScrape{gate: fx.gate} },
	})
	reg.MustRegister(runtime.Descriptor{
		Name:    instantRoutine,
		Kind:    runtime.KindWeb,
		Factory: func() runtime.Routine { return instantScrape{} },
	})
	reg.MustRegister(runtime.Descriptor{
		Name:    strictRoutine,
		Kind:    runtime.KindAPI,
		Factory: func() runtime.Routine { return strictScrape{} },
	})
	reg.MustRegister(runtime.Descriptor{
		Name:    failingRoutine,
		Kind:    runtime.KindAPI,
		Factory: func() runtime.Routine { return failingScrape{} },
	})

	trk := tracker.New(fx.executions, log, tracker.Options{})
	runner := runtime.NewRunner(fx.scrapers, fx.namespaces, reg, trk, runtime.HTTPOptions{}, log)
	dispatcher := scheduler.NewDispatcher(runner, 1, log, nil)
	require.NoError(t, dispatcher.Start(ctx))
	fx.scheduler = scheduler.New(fx.jobs, dispatcher, log, nil)
	require.NoError(t, fx.scheduler.Start(ctx))

	t.Cleanup(func() {
		fx.gate.open()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = fx.scheduler.Stop(stopCtx)
		_ = dispatcher.Stop(stopCtx)
		cancel()
	})

	fx.router = gin.New()
	api.SetupRoutes(fx.router, api.Deps{
		Scrapers:     fx.scrapers,
		Jobs:         fx.jobs,
		Executions:   trk,
		Namespaces:   fx.namespaces,
		Coverage:     fakeCoverage{regions: []coverage.RegionSummary{{Region: "france", Cells: 12, Found: 40}}},
		Registry:     reg,
		Validator:    runner,
		Dispatcher:   dispatcher,
		Scheduler:    fx.scheduler,
		RunStartWait: wait,
	})
	return fx
}

func (fx *fixture) addScraper(routine string, active bool) *domain.Scraper {
	return fx.scrapers.Add(&domain.Scraper{
		Name:        "scraper-" + routine,
		ScraperType: domain.ScraperTypeAPI,
		Routine:     routine,
		IsActive:    active,
	})
}

func (fx *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

// waitForStatus blocks until the execution reaches status.
func (fx *fixture) waitForStatus(t *testing.T, executionID int64, status string) *domain.Execution {
	t.Helper()

	var exec *domain.Execution
	require.Eventually(t, func() bool {
		for _, e := range fx.executions.All() {
			if e.ID == executionID && e.Status == status {
				exec = e
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return exec
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
