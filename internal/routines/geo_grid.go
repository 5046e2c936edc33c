package routines

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jonesrussell/north-cloud/scraparr/internal/coverage"
	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
	"github.com/jonesrussell/north-cloud/scraparr/internal/ratelimit"
	"github.com/jonesrussell/north-cloud/scraparr/internal/runtime"
	"github.com/jonesrussell/north-cloud/scraparr/internal/schema"
)

const (
	placesTable         = "places"
	defaultCellSize     = 0.5
	progressEveryCells  = 10
	geoGridCustomRegion = "custom"
)

// placesSpec is the entity table of geo_grid.
var placesSpec = schema.TableSpec{
	Name: placesTable,
	Columns: []schema.Column{
		{Name: "id", Type: schema.TypeText, NotNull: true},
		{Name: "name", Type: schema.TypeText},
		{Name: "latitude", Type: schema.TypeDouble},
		{Name: "longitude", Type: schema.TypeDouble},
		{Name: "region", Type: schema.TypeText},
		{Name: "data", Type: schema.TypeJSONB, NotNull: true, Default: schema.DefaultEmptyObj},
		{Name: "scraped_at", Type: schema.TypeTimestamp, NotNull: true, Default: schema.DefaultNow},
	},
	PrimaryKey: []string{"id"},
	Indexes:    []schema.Index{{Columns: []string{"region"}}},
}

// geoGridConfig is the scraper configuration of geo_grid.
type geoGridConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// QueryPath is appended to BaseURL for every cell query.
	QueryPath string `mapstructure:"query_path"`
	LatParam  string `mapstructure:"lat_param"`
	LonParam  string `mapstructure:"lon_param"`
	// ItemsKey names the list in an object response; empty tries common keys.
	ItemsKey string            `mapstructure:"items_key"`
	IDField  string            `mapstructure:"id_field"`
	Query    map[string]string `mapstructure:"query"`
}

// geoGridParams are the invocation parameters of geo_grid.
type geoGridParams struct {
	Region        string   `mapstructure:"region"`
	LatMin        *float64 `mapstructure:"lat_min"`
	LatMax        *float64 `mapstructure:"lat_max"`
	LonMin        *float64 `mapstructure:"lon_min"`
	LonMax        *float64 `mapstructure:"lon_max"`
	CellSize      float64  `mapstructure:"cell_size"`
	GridSpacing   float64  `mapstructure:"grid_spacing"`
	MaxCells      int      `mapstructure:"max_cells"`
	MaxGridPoints int      `mapstructure:"max_grid_points"`
	Resume        *bool    `mapstructure:"resume"`
	MinDelay      *float64 `mapstructure:"min_delay"`
	MaxDelay      *float64 `mapstructure:"max_delay"`
	// RequestsPerSecond caps the query rate on top of the random delay.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

func (p geoGridParams) region() (coverage.Region, error) {
	bounds := []*float64{p.LatMin, p.LatMax, p.LonMin, p.LonMax}
	explicit := 0
	for _, b := range bounds {
		if b != nil {
			explicit++
		}
	}

	switch {
	case explicit == len(bounds):
		name := p.Region
		if name == "" {
			name = geoGridCustomRegion
		}
		r := coverage.Region{Name: name, LatMin: *p.LatMin, LatMax: *p.LatMax, LonMin: *p.LonMin, LonMax: *p.LonMax}
		if err := r.Validate(); err != nil {
			return r, &domain.ValidationError{Field: "params", Message: err.Error()}
		}
		return r, nil
	case explicit > 0:
		return coverage.Region{}, &domain.ValidationError{
			Field:   "params",
			Message: "lat_min, lat_max, lon_min and lon_max must be given together",
		}
	case p.Region == "":
		return coverage.Region{}, &domain.ValidationError{Field: "params.region", Message: "region or explicit bounds are required"}
	}

	r, err := coverage.LookupRegion(p.Region)
	if err != nil {
		return r, &domain.ValidationError{Field: "params.region", Message: err.Error()}
	}
	return r, nil
}

func (p geoGridParams) cellSize() float64 {
	switch {
	case p.CellSize > 0:
		return p.CellSize
	case p.GridSpacing > 0:
		return p.GridSpacing
	}
	return defaultCellSize
}

func (p geoGridParams) maxCells() int {
	if p.MaxCells > 0 {
		return p.MaxCells
	}
	return p.MaxGridPoints
}

// GeoGrid sweeps a region over a JSON endpoint that returns the places
// around a coordinate. Nil stores default to the scraper's namespace.
type GeoGrid struct {
	Sink     coverage.EntitySink
	Progress coverage.ProgressStore
	Delayer  ratelimit.Delayer

	cfg geoGridConfig
}

// Tables declares the places and checkpoint tables.
func (g *GeoGrid) Tables() []schema.TableSpec {
	return []schema.TableSpec{placesSpec, coverage.ProgressTable}
}

// ValidateParams checks the configuration and that params name a region or
// full bounds with a usable cell size and delay range.
func (g *GeoGrid) ValidateParams(config map[string]any, params runtime.Params) error {
	if _, err := decodeGeoGridConfig(config); err != nil {
		return err
	}
	_, _, err := decodeGeoGridParams(params)
	return err
}

// Before loads the scraper configuration and rejects unusable params.
func (g *GeoGrid) Before(_ context.Context, env *runtime.Env, params runtime.Params) error {
	cfg, err := decodeGeoGridConfig(env.Config)
	if err != nil {
		return err
	}
	if _, _, err = decodeGeoGridParams(params); err != nil {
		return err
	}
	g.cfg = cfg
	return nil
}

func decodeGeoGridConfig(config map[string]any) (geoGridConfig, error) {
	cfg := geoGridConfig{LatParam: "latitude", LonParam: "longitude", IDField: "id"}
	if err := runtime.DecodeConfig(config, &cfg); err != nil {
		return cfg, err
	}
	if cfg.BaseURL == "" {
		return cfg, &domain.ValidationError{Field: "config.base_url", Message: "is required"}
	}
	return cfg, nil
}

func decodeGeoGridParams(params runtime.Params) (geoGridParams, coverage.Region, error) {
	var p geoGridParams
	if err := runtime.DecodeParams(params, &p); err != nil {
		return p, coverage.Region{}, err
	}
	region, err := p.region()
	if err != nil {
		return p, region, err
	}
	if p.CellSize < 0 || p.GridSpacing < 0 {
		return p, region, &domain.ValidationError{Field: "params.cell_size", Message: "must be positive"}
	}
	if p.MaxCells < 0 || p.MaxGridPoints < 0 {
		return p, region, &domain.ValidationError{Field: "params.max_cells", Message: "must not be negative"}
	}
	if _, err = newDelayer(p.MinDelay, p.MaxDelay, p.RequestsPerSecond); err != nil {
		return p, region, &domain.ValidationError{Field: "params", Message: err.Error()}
	}
	return p, region, nil
}

// Scrape runs the coverage engine over the requested region.
func (g *GeoGrid) Scrape(ctx context.Context, env *runtime.Env, params runtime.Params) ([]runtime.Record, error) {
	p, region, err := decodeGeoGridParams(params)
	if err != nil {
		return nil, err
	}
	resume := p.Resume == nil || *p.Resume

	delayer := g.Delayer
	if delayer == nil {
		rd, delayErr := newDelayer(p.MinDelay, p.MaxDelay, p.RequestsPerSecond)
		if delayErr != nil {
			return nil, &domain.ValidationError{Field: "params", Message: delayErr.Error()}
		}
		delayer = rd
	}

	sink := g.Sink
	if sink == nil {
		sink = coverage.NewTableSink(env.Namespace, placesTable, "id")
	}
	progress := g.Progress
	if progress == nil {
		progress = coverage.NewNamespaceProgress(env.Namespace)
	}

	collector := &collectingSink{EntitySink: sink}
	fetcher := &placesFetcher{env: env, cfg: g.cfg, region: region.Name}
	engine := coverage.NewEngine(fetcher, collector, progress, delayer, nil, nil)

	env.Infof("Covering region %s (%.4f..%.4f, %.4f..%.4f) at %.4f degrees, resume=%t",
		region.Name, region.LatMin, region.LatMax, region.LonMin, region.LonMax, p.cellSize(), resume)

	report, err := engine.Run(ctx, coverage.Options{
		Region:   region,
		CellSize: p.cellSize(),
		Resume:   resume,
		MaxCells: p.maxCells(),
		OnCell: func(cell coverage.CellResult, r coverage.Report) {
			if cell.Err != nil {
				env.Warnf("Cell %s failed: %v", cell.Cell.Key(), cell.Err)
			}
			if r.Attempted%progressEveryCells == 0 {
				env.Infof("Progress: %d/%d cells attempted, %d new places", r.Attempted, r.TotalCells-r.Skipped, r.New)
			}
			env.ReportProgress(r.New, fmt.Sprintf("cell %d/%d", cell.Index+1, r.TotalCells))
		},
	})
	recordReport(env, report)
	if err != nil {
		return nil, err
	}

	env.Infof("Coverage finished: %d cells processed, %d failed, %d found, %d new, complete=%t",
		report.Processed, report.Failed, report.Found, report.New, report.Complete)
	return collector.records, nil
}

func recordReport(env *runtime.Env, r coverage.Report) {
	env.SetMetric("region", r.Region)
	env.SetMetric("total_cells", r.TotalCells)
	env.SetMetric("cells_skipped", r.Skipped)
	env.SetMetric("cells_processed", r.Processed)
	env.SetMetric("cells_failed", r.Failed)
	env.SetMetric("places_found", r.Found)
	env.SetMetric("places_new", r.New)
	env.SetMetric("coverage_complete", r.Complete)
}

// collectingSink keeps the records of persisted entities for the result.
type collectingSink struct {
	coverage.EntitySink
	records []runtime.Record
}

func (c *collectingSink) Persist(ctx context.Context, entities []coverage.Entity) error {
	if err := c.EntitySink.Persist(ctx, entities); err != nil {
		return err
	}
	for _, e := range entities {
		rec := make(runtime.Record, len(e.Record)+1)
		for k, v := range e.Record {
			rec[k] = v
		}
		rec["id"] = e.ID
		c.records = append(c.records, rec)
	}
	return nil
}

// placesFetcher queries the places around one cell.
type placesFetcher struct {
	env    *runtime.Env
	cfg    geoGridConfig
	region string
}

func (f *placesFetcher) Fetch(ctx context.Context, cell coverage.Cell) ([]coverage.Entity, error) {
	query := map[string]string{
		f.cfg.LatParam: strconv.FormatFloat(cell.Lat, 'f', 4, 64),
		f.cfg.LonParam: strconv.FormatFloat(cell.Lon, 'f', 4, 64),
	}
	for k, v := range f.cfg.Query {
		query[k] = v
	}

	res, err := f.env.HTTP.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(f.cfg.BaseURL + f.cfg.QueryPath)
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("places query returned %d", res.StatusCode())
	}

	items, err := decodeItems(res.Body(), f.cfg.ItemsKey)
	if errors.Is(err, errNoItems) && f.cfg.ItemsKey == "" {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entities := make([]coverage.Entity, 0, len(items))
	for _, item := range items {
		rec := map[string]any{
			"name":       firstString(item, "name", "nom", "titre", "title"),
			"region":     f.region,
			"data":       item,
			"scraped_at": now,
		}
		if lat, ok := floatValue(item["latitude"]); ok {
			rec["latitude"] = lat
		}
		if lon, ok := floatValue(item["longitude"]); ok {
			rec["longitude"] = lon
		}
		entities = append(entities, coverage.Entity{ID: idString(item[f.cfg.IDField]), Record: rec})
	}
	return entities, nil
}
