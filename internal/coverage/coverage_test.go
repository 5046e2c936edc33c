package coverage_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/scraparr/internal/coverage"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
)

// memorySink is an EntitySink keyed by id.
type memorySink struct {
	mu       sync.Mutex
	entities map[string]map[string]any
	writes   int
	err      error
}

func newMemorySink() *memorySink {
	return &memorySink{entities: map[string]map[string]any{}}
}

func (s *memorySink) Persist(_ context.Context, entities []coverage.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes++
	for _, e := range entities {
		s.entities[e.ID] = e.Record
	}
	return nil
}

func (s *memorySink) KnownIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	return ids, nil
}

// memoryProgress is a ProgressStore keyed by region and cell.
type memoryProgress struct {
	mu    sync.Mutex
	cells map[string]map[string]int
}

func newMemoryProgress() *memoryProgress {
	return &memoryProgress{cells: map[string]map[string]int{}}
}

func (p *memoryProgress) Processed(_ context.Context, region string) (map[string]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	done := map[string]bool{}
	for key := range p.cells[region] {
		done[key] = true
	}
	return done, nil
}

func (p *memoryProgress) Mark(_ context.Context, region string, cell coverage.Cell, found int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cells[region] == nil {
		p.cells[region] = map[string]int{}
	}
	p.cells[region][cell.Key()] = found
	return nil
}

func (p *memoryProgress) rows(region string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cells[region])
}

// scriptedFetcher returns fixed entities per cell key and records calls.
type scriptedFetcher struct {
	mu      sync.Mutex
	results map[string][]coverage.Entity
	fail    map[string]error
	calls   []string
}

func (f *scriptedFetcher) Fetch(_ context.Context, cell coverage.Cell) ([]coverage.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cell.Key())
	if err := f.fail[cell.Key()]; err != nil {
		return nil, err
	}
	return f.results[cell.Key()], nil
}

func entities(ids ...string) []coverage.Entity {
	out := make([]coverage.Entity, len(ids))
	for i, id := range ids {
		out[i] = coverage.Entity{ID: id, Record: map[string]any{"name": "place " + id}}
	}
	return out
}

// unitSquare is a 2x2 grid at cell size 1.
var unitSquare = coverage.Region{Name: "test", LatMin: 0, LatMax: 1, LonMin: 0, LonMax: 1}

func TestGrid_RowMajorInclusive(t *testing.T) {
	t.Parallel()

	cells, err := coverage.Grid(unitSquare, 1)
	require.NoError(t, err)
	assert.Equal(t, []coverage.Cell{
		{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1},
		{Lat: 1, Lon: 0}, {Lat: 1, Lon: 1},
	}, cells)
}

func TestGrid_NoDriftAndRounding(t *testing.T) {
	t.Parallel()

	region := coverage.Region{Name: "drift", LatMin: 0, LatMax: 1, LonMin: 0, LonMax: 0}
	cells, err := coverage.Grid(region, 0.1)
	require.NoError(t, err)
	require.Len(t, cells, 11)
	assert.InDelta(t, 0.3, cells[3].Lat, 1e-12)
	assert.InDelta(t, 1.0, cells[10].Lat, 1e-12)
	assert.Equal(t, "0.3000,0.0000", cells[3].Key())
}

func TestGrid_RejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := coverage.Grid(unitSquare, 0)
	require.ErrorIs(t, err, coverage.ErrInvalidCellSize)

	_, err = coverage.Grid(coverage.Region{Name: "bad", LatMin: 2, LatMax: 1}, 1)
	require.Error(t, err)

	_, err = coverage.Grid(coverage.Region{Name: "huge", LatMin: -90, LatMax: 90, LonMin: -180, LonMax: 180}, 0.001)
	require.Error(t, err)
}

func TestLookupRegion(t *testing.T) {
	t.Parallel()

	r, err := coverage.LookupRegion("france")
	require.NoError(t, err)
	assert.InDelta(t, 41.0, r.LatMin, 0)

	_, err = coverage.LookupRegion("atlantis")
	require.ErrorIs(t, err, coverage.ErrUnknownRegion)
	assert.Contains(t, coverage.RegionNames(), "europe")
}

func TestEngine_DeduplicatesAcrossCells(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{results: map[string][]coverage.Entity{
		"0.0000,0.0000": entities("1", "2"),
		"0.0000,1.0000": entities("2", "3"),
	}}
	sink := newMemorySink()
	progress := newMemoryProgress()

	engine := coverage.NewEngine(fetcher, sink, progress, nil, nil, logger.NewNop())
	report, err := engine.Run(context.Background(), coverage.Options{
		Region: unitSquare, CellSize: 1, Resume: true, MaxCells: 2,
	})
	require.NoError(t, err)

	assert.Len(t, sink.entities, 3)
	assert.Equal(t, 2, progress.rows("test"))
	assert.Equal(t, 4, report.TotalCells)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 4, report.Found)
	assert.Equal(t, 3, report.New)
	assert.False(t, report.Complete)
}

func TestEngine_DropsEmptyAndInCellDuplicateIDs(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{results: map[string][]coverage.Entity{
		"0.0000,0.0000": entities("a", "", "a", "b"),
	}}
	sink := newMemorySink()

	engine := coverage.NewEngine(fetcher, sink, newMemoryProgress(), nil, nil, logger.NewNop())
	report, err := engine.Run(context.Background(), coverage.Options{Region: unitSquare, CellSize: 1, MaxCells: 1})
	require.NoError(t, err)

	assert.Len(t, sink.entities, 2)
	assert.Equal(t, 2, report.New)
}

func TestEngine_ResumeSkipsCheckpointedCells(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{results: map[string][]coverage.Entity{
		"0.0000,0.0000": entities("1", "2"),
		"0.0000,1.0000": entities("2", "3"),
		"1.0000,0.0000": entities("4"),
	}}
	sink := newMemorySink()
	progress := newMemoryProgress()

	// First run stops after one cell, like a process killed mid-region.
	first := coverage.NewEngine(fetcher, sink, progress, nil, nil, logger.NewNop())
	_, err := first.Run(context.Background(), coverage.Options{Region: unitSquare, CellSize: 1, Resume: true, MaxCells: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"0.0000,0.0000"}, fetcher.calls)

	fetcher.calls = nil
	second := coverage.NewEngine(fetcher, sink, progress, nil, nil, logger.NewNop())
	report, err := second.Run(context.Background(), coverage.Options{Region: unitSquare, CellSize: 1, Resume: true})
	require.NoError(t, err)

	assert.NotContains(t, fetcher.calls, "0.0000,0.0000")
	assert.Len(t, fetcher.calls, 3)
	assert.Equal(t, 1, report.Skipped)
	assert.True(t, report.Complete)
	assert.Equal(t, 4, progress.rows("test"))
	assert.Len(t, sink.entities, 4)
	// "2" was restored from the sink and is not new the second time.
	assert.Equal(t, 2, report.New)
}

func TestEngine_NoResumeRevisitsEverything(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{}
	progress := newMemoryProgress()
	require.NoError(t, progress.Mark(context.Background(), "test", coverage.Cell{}, 0))

	engine := coverage.NewEngine(fetcher, newMemorySink(), progress, nil, nil, logger.NewNop())
	report, err := engine.Run(context.Background(), coverage.Options{Region: unitSquare, CellSize: 1})
	require.NoError(t, err)

	assert.Len(t, fetcher.calls, 4)
	assert.Zero(t, report.Skipped)
}

func TestEngine_FailedCellStaysUnmarked(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{
		results: map[string][]coverage.Entity{"1.0000,1.0000": entities("9")},
		fail:    map[string]error{"0.0000,1.0000": errors.New("upstream 503")},
	}
	progress := newMemoryProgress()
	var callbacks int

	engine := coverage.NewEngine(fetcher, newMemorySink(), progress, nil, nil, logger.NewNop())
	report, err := engine.Run(context.Background(), coverage.Options{
		Region: unitSquare, CellSize: 1, Resume: true,
		OnCell: func(coverage.CellResult, coverage.Report) { callbacks++ },
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 3, report.Processed)
	assert.False(t, report.Complete)
	assert.Equal(t, 4, callbacks)

	done, err := progress.Processed(context.Background(), "test")
	require.NoError(t, err)
	assert.False(t, done["0.0000,1.0000"])
	assert.True(t, done["1.0000,1.0000"])
}

func TestEngine_PersistFailureAborts(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{results: map[string][]coverage.Entity{"0.0000,0.0000": entities("1")}}
	sink := newMemorySink()
	sink.err = errors.New("disk full")
	progress := newMemoryProgress()

	engine := coverage.NewEngine(fetcher, sink, progress, nil, nil, logger.NewNop())
	_, err := engine.Run(context.Background(), coverage.Options{Region: unitSquare, CellSize: 1, Resume: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, progress.rows("test"))
	assert.Len(t, fetcher.calls, 1)
}

func TestEngine_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := coverage.FetcherFunc(func(context.Context, coverage.Cell) ([]coverage.Entity, error) {
		cancel()
		return nil, nil
	})

	engine := coverage.NewEngine(fetcher, newMemorySink(), newMemoryProgress(), nil, nil, logger.NewNop())
	report, err := engine.Run(ctx, coverage.Options{Region: unitSquare, CellSize: 1})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Attempted)
}
