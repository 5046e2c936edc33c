package schema

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
)

// maxBindParams stays under the Postgres limit of 65535 parameters per statement.
const maxBindParams = 65000

// ErrNoKeyColumns is returned by Upsert without a natural key.
var ErrNoKeyColumns = errors.New("upsert requires key columns")

// Row is one record keyed by column name.
type Row map[string]any

// Namespace is the handle a routine persists through. It only ever addresses
// tables inside its own schema.
type Namespace struct {
	db     *sqlx.DB
	name   string
	logger logger.Logger
}

// Name returns the schema name.
func (n *Namespace) Name() string {
	return n.name
}

// Table returns the quoted, schema-qualified name of table.
func (n *Namespace) Table(table string) (string, error) {
	if err := validateIdent(table); err != nil {
		return "", err
	}
	return qualified(n.name, table), nil
}

// EnsureTables applies the declarations additively. Existing tables gain
// missing columns and indexes; nothing is dropped or recreated.
func (n *Namespace) EnsureTables(ctx context.Context, specs ...TableSpec) error {
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return err
		}
		for _, stmt := range spec.DDL(n.name) {
			if err := execDDL(ctx, n.db, stmt); err != nil {
				return fmt.Errorf("failed to ensure table %s.%s: %w", n.name, spec.Name, err)
			}
		}
	}
	return nil
}

// Upsert inserts rows or updates them on a natural-key conflict. Rows sharing
// a key within one call collapse to the last one. Returns rows written.
func (n *Namespace) Upsert(ctx context.Context, table string, rows []Row, keyColumns []string) (int64, error) {
	if len(keyColumns) == 0 {
		return 0, ErrNoKeyColumns
	}
	if err := validateIdents(keyColumns...); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	rows = dedupeByKey(rows, keyColumns)
	columns, err := columnSet(rows, keyColumns)
	if err != nil {
		return 0, err
	}

	isKey := make(map[string]bool, len(keyColumns))
	for _, k := range keyColumns {
		isKey[k] = true
	}
	var sets []string
	for _, c := range columns {
		if !isKey[c] {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", quote(c), quote(c)))
		}
	}

	conflict := "ON CONFLICT (" + quoteList(keyColumns) + ") DO NOTHING"
	if len(sets) > 0 {
		conflict = "ON CONFLICT (" + quoteList(keyColumns) + ") DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return n.insert(ctx, table, columns, rows, conflict)
}

// Append inserts rows, silently skipping any that conflict with an existing
// key. Returns the number of rows inserted.
func (n *Namespace) Append(ctx context.Context, table string, rows []Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	columns, err := columnSet(rows, nil)
	if err != nil {
		return 0, err
	}
	return n.insert(ctx, table, columns, rows, "ON CONFLICT DO NOTHING")
}

func (n *Namespace) insert(ctx context.Context, table string, columns []string, rows []Row, conflict string) (int64, error) {
	target, err := n.Table(table)
	if err != nil {
		return 0, err
	}

	batch := maxBindParams / len(columns)
	var written int64
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))

		query, args, buildErr := buildInsert(target, columns, rows[start:end], conflict)
		if buildErr != nil {
			return written, buildErr
		}

		result, execErr := n.db.ExecContext(ctx, query, args...)
		if execErr != nil {
			return written, fmt.Errorf("failed to write %s.%s: %w", n.name, table, execErr)
		}
		affected, affErr := result.RowsAffected()
		if affErr != nil {
			return written, fmt.Errorf("failed to write %s.%s: %w", n.name, table, affErr)
		}
		written += affected
	}

	n.logger.Debug("Namespace rows written",
		logger.String("namespace", n.name),
		logger.String("table", table),
		logger.Int("rows", len(rows)),
		logger.Int64("affected", written),
	)
	return written, nil
}

func buildInsert(target string, columns []string, rows []Row, conflict string) (string, []any, error) {
	args := make([]any, 0, len(rows)*len(columns))
	tuples := make([]string, 0, len(rows))

	for _, row := range rows {
		placeholders := make([]string, len(columns))
		for i, c := range columns {
			v, err := bindValue(row[c])
			if err != nil {
				return "", nil, fmt.Errorf("column %s: %w", c, err)
			}
			args = append(args, v)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		tuples = append(tuples, "("+strings.Join(placeholders, ", ")+")")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s %s",
		target, quoteList(columns), strings.Join(tuples, ", "), conflict)
	return query, args, nil
}

// bindValue stores maps, slices and structs as JSON; everything else binds as is.
func bindValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch v.(type) {
	case driver.Valuer, time.Time, []byte, json.RawMessage:
		return v, nil
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	default:
		return v, nil
	}
}

// columnSet returns the sorted union of row columns, keys first.
func columnSet(rows []Row, keyColumns []string) ([]string, error) {
	seen := make(map[string]bool)
	for _, k := range keyColumns {
		seen[k] = true
	}

	var rest []string
	for _, row := range rows {
		for c := range row {
			if seen[c] {
				continue
			}
			if err := validateIdent(c); err != nil {
				return nil, err
			}
			seen[c] = true
			rest = append(rest, c)
		}
	}
	sort.Strings(rest)

	return append(append([]string{}, keyColumns...), rest...), nil
}

// dedupeByKey keeps one row per key: the first position, the last payload.
func dedupeByKey(rows []Row, keyColumns []string) []Row {
	index := make(map[string]int, len(rows))
	out := make([]Row, 0, len(rows))

	for _, row := range rows {
		parts := make([]string, len(keyColumns))
		for i, k := range keyColumns {
			parts[i] = keyText(row[k])
		}
		key := strings.Join(parts, "\x00")

		if i, ok := index[key]; ok {
			out[i] = row
			continue
		}
		index[key] = len(out)
		out = append(out, row)
	}
	return out
}

// keyText renders a key value the way Postgres would compare it once cast
// to the column type, so 1, 1.0 and "1" collapse together.
func keyText(v any) string {
	switch k := v.(type) {
	case nil:
		return "\x01null"
	case string:
		return k
	case []byte:
		return string(k)
	case json.Number:
		return k.String()
	case float64:
		return strconv.FormatFloat(k, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(k), 'f', -1, 32)
	case time.Time:
		return k.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(k)
	}
}

// Select reads rows matching the equality filter. columns may be empty for all.
func (n *Namespace) Select(ctx context.Context, table string, columns []string, where Row, limit int) ([]Row, error) {
	target, err := n.Table(table)
	if err != nil {
		return nil, err
	}

	cols := "*"
	if len(columns) > 0 {
		if identErr := validateIdents(columns...); identErr != nil {
			return nil, identErr
		}
		cols = quoteList(columns)
	}

	clause, args, err := whereClause(where)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s", cols, target, clause)
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := n.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s.%s: %w", n.name, table, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		m := map[string]any{}
		if scanErr := rows.MapScan(m); scanErr != nil {
			return nil, fmt.Errorf("failed to scan %s.%s: %w", n.name, table, scanErr)
		}
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		out = append(out, Row(m))
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s.%s: %w", n.name, table, err)
	}
	return out, nil
}

// Count returns the number of rows matching the equality filter.
func (n *Namespace) Count(ctx context.Context, table string, where Row) (int64, error) {
	target, err := n.Table(table)
	if err != nil {
		return 0, err
	}
	clause, args, err := whereClause(where)
	if err != nil {
		return 0, err
	}

	var count int64
	if err = n.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM "+target+clause, args...); err != nil {
		return 0, fmt.Errorf("failed to count %s.%s: %w", n.name, table, err)
	}
	return count, nil
}

// Values returns the distinct non-null values of column rendered as text.
func (n *Namespace) Values(ctx context.Context, table, column string) ([]string, error) {
	target, err := n.Table(table)
	if err != nil {
		return nil, err
	}
	if err = validateIdent(column); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT DISTINCT %s::text FROM %s WHERE %s IS NOT NULL", quote(column), target, quote(column))
	var values []string
	if err = n.db.SelectContext(ctx, &values, query); err != nil {
		return nil, fmt.Errorf("failed to read %s.%s.%s: %w", n.name, table, column, err)
	}
	return values, nil
}

// Query runs a read query into dest. Callers address tables through Table.
func (n *Namespace) Query(ctx context.Context, dest any, query string, args ...any) error {
	if err := n.db.SelectContext(ctx, dest, query, args...); err != nil {
		return fmt.Errorf("failed to query %s: %w", n.name, err)
	}
	return nil
}

func whereClause(where Row) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		if err := validateIdent(k); err != nil {
			return "", nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("%s = $%d", quote(k), i+1)
		args[i] = where[k]
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}
