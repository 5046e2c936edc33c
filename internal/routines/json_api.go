package routines

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
	"github.com/jonesrussell/north-cloud/scraparr/internal/ratelimit"
	"github.com/jonesrussell/north-cloud/scraparr/internal/runtime"
	"github.com/jonesrussell/north-cloud/scraparr/internal/schema"
)

const (
	recordsTable        = "records"
	defaultJSONMaxPages = 100
)

var recordsSpec = schema.TableSpec{
	Name: recordsTable,
	Columns: []schema.Column{
		{Name: "id", Type: schema.TypeText, NotNull: true},
		{Name: "data", Type: schema.TypeJSONB, NotNull: true, Default: schema.DefaultEmptyObj},
		{Name: "scraped_at", Type: schema.TypeTimestamp, NotNull: true, Default: schema.DefaultNow},
	},
	PrimaryKey: []string{"id"},
}

type jsonAPIConfig struct {
	URL      string            `mapstructure:"url"`
	ItemsKey string            `mapstructure:"items_key"`
	IDField  string            `mapstructure:"id_field"`
	Query    map[string]string `mapstructure:"query"`
	// PageParam enables pagination; pages start at PageStart.
	PageParam     string `mapstructure:"page_param"`
	PageStart     int    `mapstructure:"page_start"`
	PageSizeParam string `mapstructure:"page_size_param"`
	PageSize      int    `mapstructure:"page_size"`
}

type jsonAPIParams struct {
	MaxPages          int               `mapstructure:"max_pages"`
	Query             map[string]string `mapstructure:"query"`
	MinDelay          *float64          `mapstructure:"min_delay"`
	MaxDelay          *float64          `mapstructure:"max_delay"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
}

// JSONAPI pages through a JSON endpoint and upserts every item by id.
type JSONAPI struct {
	Writer  TableWriter
	Delayer ratelimit.Delayer

	cfg jsonAPIConfig
}

// Tables declares the records table.
func (j *JSONAPI) Tables() []schema.TableSpec {
	return []schema.TableSpec{recordsSpec}
}

// ValidateParams checks the configuration and the paging and delay params.
func (j *JSONAPI) ValidateParams(config map[string]any, params runtime.Params) error {
	if _, err := decodeJSONAPIConfig(config); err != nil {
		return err
	}
	_, err := decodeJSONAPIParams(params)
	return err
}

// Before loads the configuration and rejects unusable params.
func (j *JSONAPI) Before(_ context.Context, env *runtime.Env, params runtime.Params) error {
	cfg, err := decodeJSONAPIConfig(env.Config)
	if err != nil {
		return err
	}
	if _, err = decodeJSONAPIParams(params); err != nil {
		return err
	}
	j.cfg = cfg
	return nil
}

func decodeJSONAPIConfig(config map[string]any) (jsonAPIConfig, error) {
	cfg := jsonAPIConfig{IDField: "id", PageStart: 1}
	if err := runtime.DecodeConfig(config, &cfg); err != nil {
		return cfg, err
	}
	if cfg.URL == "" {
		return cfg, &domain.ValidationError{Field: "config.url", Message: "is required"}
	}
	return cfg, nil
}

func decodeJSONAPIParams(params runtime.Params) (jsonAPIParams, error) {
	var p jsonAPIParams
	if err := runtime.DecodeParams(params, &p); err != nil {
		return p, err
	}
	if p.MaxPages < 0 {
		return p, &domain.ValidationError{Field: "params.max_pages", Message: "must not be negative"}
	}
	if _, err := newDelayer(p.MinDelay, p.MaxDelay, p.RequestsPerSecond); err != nil {
		return p, &domain.ValidationError{Field: "params", Message: err.Error()}
	}
	return p, nil
}

// Scrape fetches pages until one is empty, repeats the previous page, or
// max_pages is reached. Without a page_param a single request is made.
func (j *JSONAPI) Scrape(ctx context.Context, env *runtime.Env, params runtime.Params) ([]runtime.Record, error) {
	p, err := decodeJSONAPIParams(params)
	if err != nil {
		return nil, err
	}

	delayer := j.Delayer
	if delayer == nil {
		rd, delayErr := newDelayer(p.MinDelay, p.MaxDelay, p.RequestsPerSecond)
		if delayErr != nil {
			return nil, &domain.ValidationError{Field: "params", Message: delayErr.Error()}
		}
		delayer = rd
	}
	writer := j.Writer
	if writer == nil {
		writer = env.Namespace
	}

	maxPages := p.MaxPages
	switch {
	case j.cfg.PageParam == "":
		maxPages = 1
	case maxPages <= 0:
		maxPages = defaultJSONMaxPages
	}

	var (
		records  []runtime.Record
		seen     = make(map[string]bool)
		previous string
	)
	for page := 0; page < maxPages; page++ {
		if page > 0 {
			if err := delayer.Wait(ctx); err != nil {
				return records, err
			}
		}

		items, err := j.fetchPage(ctx, env, j.cfg.PageStart+page, p.Query)
		if err != nil {
			return records, err
		}
		if len(items) == 0 {
			env.Debugf("Page %d is empty, stopping", j.cfg.PageStart+page)
			break
		}

		rows, pageRecords, firstID := j.toRows(items, seen)
		if page > 0 && firstID != "" && firstID == previous {
			env.Infof("Page %d repeats the previous page, stopping", j.cfg.PageStart+page)
			break
		}
		previous = firstID

		if len(rows) > 0 {
			if _, err := writer.Upsert(ctx, recordsTable, rows, []string{"id"}); err != nil {
				return records, fmt.Errorf("store page %d: %w", j.cfg.PageStart+page, err)
			}
		}
		records = append(records, pageRecords...)
		env.ReportProgress(len(records), fmt.Sprintf("page %d", page+1))
		env.Infof("Page %d: %d items, %d stored", j.cfg.PageStart+page, len(items), len(rows))
	}

	env.SetMetric("records", len(records))
	return records, nil
}

func (j *JSONAPI) fetchPage(ctx context.Context, env *runtime.Env, page int, extra map[string]string) ([]map[string]any, error) {
	query := make(map[string]string, len(j.cfg.Query)+len(extra)+2)
	for k, v := range j.cfg.Query {
		query[k] = v
	}
	for k, v := range extra {
		query[k] = v
	}
	if j.cfg.PageParam != "" {
		query[j.cfg.PageParam] = strconv.Itoa(page)
	}
	if j.cfg.PageSizeParam != "" && j.cfg.PageSize > 0 {
		query[j.cfg.PageSizeParam] = strconv.Itoa(j.cfg.PageSize)
	}

	res, err := env.HTTP.R().SetContext(ctx).SetQueryParams(query).Get(j.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}
	if res.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch page %d: unexpected status %d", page, res.StatusCode())
	}
	return decodeItems(res.Body(), j.cfg.ItemsKey)
}

// toRows keeps items with an id not yet stored in this run.
func (j *JSONAPI) toRows(items []map[string]any, seen map[string]bool) ([]schema.Row, []runtime.Record, string) {
	now := time.Now().UTC()
	rows := make([]schema.Row, 0, len(items))
	records := make([]runtime.Record, 0, len(items))
	firstID := ""

	for _, item := range items {
		id := idString(item[j.cfg.IDField])
		if id == "" {
			continue
		}
		if firstID == "" {
			firstID = id
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		rows = append(rows, schema.Row{"id": id, "data": item, "scraped_at": now})
		records = append(records, runtime.Record{"id": id, "data": item})
	}
	return rows, records, firstID
}
