package coverage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/scraparr/internal/schema"
)

// ProgressTableName is the checkpoint table inside a scraper namespace.
const ProgressTableName = "grid_progress"

const pqUndefinedTable = "42P01"

// ProgressTable declares the checkpoint table.
var ProgressTable = schema.TableSpec{
	Name: ProgressTableName,
	Columns: []schema.Column{
		{Name: "id", Type: schema.TypeBigSerial},
		{Name: "region", Type: schema.TypeText, NotNull: true},
		{Name: "grid_lat", Type: schema.TypeDouble, NotNull: true},
		{Name: "grid_lon", Type: schema.TypeDouble, NotNull: true},
		{Name: "places_found", Type: schema.TypeInteger, NotNull: true, Default: "0"},
		{Name: "processed_at", Type: schema.TypeTimestamp, NotNull: true, Default: schema.DefaultNow},
	},
	PrimaryKey: []string{"id"},
	Unique:     [][]string{{"region", "grid_lat", "grid_lon"}},
	Indexes:    []schema.Index{{Columns: []string{"region"}}},
}

var progressKey = []string{"region", "grid_lat", "grid_lon"}

// RegionSummary is the checkpoint state of one region.
type RegionSummary struct {
	Region          string     `db:"region"            json:"region"`
	Cells           int        `db:"cells"             json:"cells_processed"`
	Found           int64      `db:"found"             json:"places_found"`
	LastProcessedAt *time.Time `db:"last_processed_at" json:"last_processed_at,omitempty"`
}

// NamespaceProgress stores checkpoints in the scraper's namespace.
type NamespaceProgress struct {
	ns  *schema.Namespace
	now func() time.Time
}

// NewNamespaceProgress creates a progress store. Call EnsureTable before use.
func NewNamespaceProgress(ns *schema.Namespace) *NamespaceProgress {
	return &NamespaceProgress{ns: ns, now: time.Now}
}

// EnsureTable creates the checkpoint table when missing.
func (p *NamespaceProgress) EnsureTable(ctx context.Context) error {
	return p.ns.EnsureTables(ctx, ProgressTable)
}

// Processed returns the keys of checkpointed cells of region.
func (p *NamespaceProgress) Processed(ctx context.Context, region string) (map[string]bool, error) {
	rows, err := p.ns.Select(ctx, ProgressTableName, []string{"grid_lat", "grid_lon"}, schema.Row{"region": region}, 0)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(rows))
	for _, row := range rows {
		lat, latErr := toFloat(row["grid_lat"])
		lon, lonErr := toFloat(row["grid_lon"])
		if latErr != nil || lonErr != nil {
			return nil, fmt.Errorf("bad checkpoint row %v", row)
		}
		done[CellKey(lat, lon)] = true
	}
	return done, nil
}

// Mark checkpoints a cell. Re-marking the same cell updates it in place.
func (p *NamespaceProgress) Mark(ctx context.Context, region string, cell Cell, found int) error {
	row := schema.Row{
		"region":       region,
		"grid_lat":     cell.Lat,
		"grid_lon":     cell.Lon,
		"places_found": found,
		"processed_at": p.now().UTC(),
	}
	_, err := p.ns.Upsert(ctx, ProgressTableName, []schema.Row{row}, progressKey)
	return err
}

// Summary aggregates checkpoints per region. A namespace that never ran a
// coverage routine has no summary.
func (p *NamespaceProgress) Summary(ctx context.Context) ([]RegionSummary, error) {
	table, err := p.ns.Table(ProgressTableName)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT region, COUNT(*) AS cells, COALESCE(SUM(places_found), 0) AS found,
		       MAX(processed_at) AS last_processed_at
		FROM ` + table + `
		GROUP BY region
		ORDER BY region
	`

	summaries := []RegionSummary{}
	if err = p.ns.Query(ctx, &summaries, query); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUndefinedTable {
			return []RegionSummary{}, nil
		}
		return nil, err
	}
	return summaries, nil
}

// TableSink upserts entities into a namespace table keyed by an id column.
type TableSink struct {
	ns       *schema.Namespace
	table    string
	idColumn string
}

// NewTableSink creates a sink for table keyed by idColumn.
func NewTableSink(ns *schema.Namespace, table, idColumn string) *TableSink {
	return &TableSink{ns: ns, table: table, idColumn: idColumn}
}

// Persist upserts the entities; their ids are written to the id column.
func (s *TableSink) Persist(ctx context.Context, entities []Entity) error {
	rows := make([]schema.Row, len(entities))
	for i, ent := range entities {
		row := make(schema.Row, len(ent.Record)+1)
		maps.Copy(row, ent.Record)
		row[s.idColumn] = ent.ID
		rows[i] = row
	}
	_, err := s.ns.Upsert(ctx, s.table, rows, []string{s.idColumn})
	return err
}

// KnownIDs returns every id already in the table.
func (s *TableSink) KnownIDs(ctx context.Context) ([]string, error) {
	return s.ns.Values(ctx, s.table, s.idColumn)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("not a number: %T", v)
}
