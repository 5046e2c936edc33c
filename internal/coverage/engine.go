// Package coverage implements systematic grid coverage of a region: cells are
// visited in a fixed order, entities are deduplicated by id across overlapping
// cells, and each finished cell is checkpointed so a later run can resume.
package coverage

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
	"github.com/jonesrussell/north-cloud/scraparr/internal/ratelimit"
)

// Entity is one collected item with its source-stable identifier.
type Entity struct {
	ID     string
	Record map[string]any
}

// Fetcher issues the query for one cell.
type Fetcher interface {
	Fetch(ctx context.Context, cell Cell) ([]Entity, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, cell Cell) ([]Entity, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, cell Cell) ([]Entity, error) {
	return f(ctx, cell)
}

// EntitySink persists entities idempotently by id.
type EntitySink interface {
	Persist(ctx context.Context, entities []Entity) error
	// KnownIDs returns every persisted id, used to rebuild the seen-set.
	KnownIDs(ctx context.Context) ([]string, error)
}

// ProgressStore checkpoints processed cells per region.
type ProgressStore interface {
	Processed(ctx context.Context, region string) (map[string]bool, error)
	Mark(ctx context.Context, region string, cell Cell, found int) error
}

// Options configures one run.
type Options struct {
	Region   Region
	CellSize float64
	// Resume skips cells already checkpointed for the region.
	Resume bool
	// MaxCells bounds cells attempted in this run; zero means all.
	MaxCells int
	// OnCell is called after every attempted cell.
	OnCell func(CellResult, Report)
}

// CellResult describes one attempted cell.
type CellResult struct {
	Cell  Cell
	Index int
	Found int
	New   int
	Err   error
}

// Report summarizes a run.
type Report struct {
	Region     string `json:"region"`
	TotalCells int    `json:"total_cells"`
	Skipped    int    `json:"skipped"`
	Attempted  int    `json:"attempted"`
	Processed  int    `json:"processed"`
	Failed     int    `json:"failed"`
	Found      int    `json:"found"`
	New        int    `json:"new"`
	// Complete is true when every cell of the region is checkpointed.
	Complete bool `json:"complete"`
}

// Engine drives a coverage run.
type Engine struct {
	fetcher  Fetcher
	sink     EntitySink
	progress ProgressStore
	delayer  ratelimit.Delayer
	seen     SeenSet
	logger   logger.Logger
}

// NewEngine creates an engine. A nil delayer never waits; a nil seen-set
// uses memory.
func NewEngine(
	fetcher Fetcher,
	sink EntitySink,
	progress ProgressStore,
	delayer ratelimit.Delayer,
	seen SeenSet,
	log logger.Logger,
) *Engine {
	if delayer == nil {
		delayer = ratelimit.None{}
	}
	if seen == nil {
		seen = NewMemorySeenSet()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		fetcher:  fetcher,
		sink:     sink,
		progress: progress,
		delayer:  delayer,
		seen:     seen,
		logger:   log,
	}
}

// Run visits the region's unprocessed cells. A failing cell query is logged
// and left unmarked for the next resume; persistence failures abort the run.
func (e *Engine) Run(ctx context.Context, opts Options) (Report, error) {
	report := Report{Region: opts.Region.Name}

	cells, err := Grid(opts.Region, opts.CellSize)
	if err != nil {
		return report, err
	}
	report.TotalCells = len(cells)

	done := map[string]bool{}
	if opts.Resume {
		if done, err = e.restore(ctx, opts.Region.Name); err != nil {
			return report, err
		}
	}

	e.logger.Info("Coverage run starting",
		logger.String("region", opts.Region.Name),
		logger.Int("total_cells", len(cells)),
		logger.Int("already_processed", len(done)),
		logger.Int("max_cells", opts.MaxCells),
	)

	for i, cell := range cells {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		if done[cell.Key()] {
			report.Skipped++
			continue
		}
		if opts.MaxCells > 0 && report.Attempted >= opts.MaxCells {
			break
		}
		report.Attempted++

		result, cellErr := e.visit(ctx, opts.Region.Name, i, cell)
		if cellErr != nil {
			return report, cellErr
		}

		if result.Err != nil {
			report.Failed++
		} else {
			report.Processed++
			report.Found += result.Found
			report.New += result.New
		}
		if opts.OnCell != nil {
			opts.OnCell(result, report)
		}
	}

	report.Complete = report.Skipped+report.Processed == report.TotalCells
	e.logger.Info("Coverage run finished",
		logger.String("region", report.Region),
		logger.Int("processed", report.Processed),
		logger.Int("failed", report.Failed),
		logger.Int("new", report.New),
		logger.Bool("complete", report.Complete),
	)
	return report, nil
}

// restore loads checkpointed cells and seeds the seen-set with persisted ids.
func (e *Engine) restore(ctx context.Context, region string) (map[string]bool, error) {
	done, err := e.progress.Processed(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("load grid progress: %w", err)
	}

	ids, err := e.sink.KnownIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load known ids: %w", err)
	}
	for _, id := range ids {
		e.seen.Add(id)
	}
	return done, nil
}

// visit processes one cell. The returned error aborts the run; a failed
// query is reported through CellResult.Err instead.
func (e *Engine) visit(ctx context.Context, region string, index int, cell Cell) (CellResult, error) {
	result := CellResult{Cell: cell, Index: index}

	if err := e.delayer.Wait(ctx); err != nil {
		return result, err
	}

	entities, err := e.fetcher.Fetch(ctx, cell)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		e.logger.Warn("Cell query failed",
			logger.String("region", region),
			logger.Float64("lat", cell.Lat),
			logger.Float64("lon", cell.Lon),
			logger.Error(err),
		)
		result.Err = err
		return result, nil
	}

	fresh := make([]Entity, 0, len(entities))
	inCell := make(map[string]bool, len(entities))
	for _, ent := range entities {
		if ent.ID == "" || inCell[ent.ID] || e.seen.Has(ent.ID) {
			continue
		}
		inCell[ent.ID] = true
		fresh = append(fresh, ent)
	}

	if len(fresh) > 0 {
		if persistErr := e.sink.Persist(ctx, fresh); persistErr != nil {
			return result, fmt.Errorf("persist entities for cell %s: %w", cell.Key(), persistErr)
		}
	}
	if markErr := e.progress.Mark(ctx, region, cell, len(entities)); markErr != nil {
		return result, fmt.Errorf("checkpoint cell %s: %w", cell.Key(), markErr)
	}
	for _, ent := range fresh {
		e.seen.Add(ent.ID)
	}

	result.Found = len(entities)
	result.New = len(fresh)
	return result, nil
}
