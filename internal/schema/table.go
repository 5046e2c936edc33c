package schema

import (
	"fmt"
	"strings"
)

// Common column types.
const (
	TypeText        = "TEXT"
	TypeInteger     = "INTEGER"
	TypeBigInt      = "BIGINT"
	TypeDouble      = "DOUBLE PRECISION"
	TypeBoolean     = "BOOLEAN"
	TypeTimestamp   = "TIMESTAMPTZ"
	TypeJSONB       = "JSONB"
	TypeBigSerial   = "BIGSERIAL"
	DefaultNow      = "NOW()"
	DefaultEmptyObj = "'{}'::jsonb"
)

// Column describes one table column.
type Column struct {
	Name    string
	Type    string
	NotNull bool
	// Default is a SQL expression, e.g. NOW().
	Default string
}

// Index describes a secondary index. Name defaults to <table>_<cols>_idx.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// TableSpec is a typed table declaration. EnsureTables turns it into
// idempotent DDL; re-declaring an existing table only adds what is missing.
type TableSpec struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
	// Unique lists natural keys. Each becomes a unique index so upserts
	// can target it with ON CONFLICT.
	Unique  [][]string
	Indexes []Index
}

// Validate checks every identifier and type in the spec.
func (t TableSpec) Validate() error {
	if err := validateIdent(t.Name); err != nil {
		return fmt.Errorf("table: %w", err)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns declared", t.Name)
	}

	known := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if err := validateIdent(c.Name); err != nil {
			return fmt.Errorf("table %s column: %w", t.Name, err)
		}
		if !colTypePattern.MatchString(c.Type) {
			return fmt.Errorf("table %s column %s: %w %q", t.Name, c.Name, errInvalidType, c.Type)
		}
		if strings.ContainsAny(c.Default, ";") || strings.Contains(c.Default, "--") {
			return fmt.Errorf("table %s column %s: %w", t.Name, c.Name, errUnsafeDefault)
		}
		known[c.Name] = true
	}

	check := func(cols []string, what string) error {
		if len(cols) == 0 {
			return fmt.Errorf("table %s: empty %s", t.Name, what)
		}
		for _, c := range cols {
			if !known[c] {
				return fmt.Errorf("table %s: %s references unknown column %q", t.Name, what, c)
			}
		}
		return nil
	}

	if len(t.PrimaryKey) > 0 {
		if err := check(t.PrimaryKey, "primary key"); err != nil {
			return err
		}
	}
	for _, u := range t.Unique {
		if err := check(u, "unique key"); err != nil {
			return err
		}
	}
	for _, idx := range t.Indexes {
		if err := check(idx.Columns, "index"); err != nil {
			return err
		}
		if idx.Name != "" {
			if err := validateIdent(idx.Name); err != nil {
				return fmt.Errorf("table %s index: %w", t.Name, err)
			}
		}
	}
	return nil
}

// DDL renders the ordered, idempotent statements for the table inside namespace.
func (t TableSpec) DDL(namespace string) []string {
	table := qualified(namespace, t.Name)

	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, columnDef(c, true))
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, "PRIMARY KEY ("+quoteList(t.PrimaryKey)+")")
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", table, strings.Join(defs, ",\n\t")),
	}

	// Columns added to a table created by an older declaration. NOT NULL is
	// only kept when a default can backfill existing rows.
	for _, c := range t.Columns {
		if strings.EqualFold(c.Type, TypeBigSerial) {
			continue
		}
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s", table, columnDef(c, c.Default != "")))
	}

	for _, u := range t.Unique {
		stmts = append(stmts, indexDDL(namespace, t.Name, Index{Columns: u, Unique: true}))
	}
	for _, idx := range t.Indexes {
		stmts = append(stmts, indexDDL(namespace, t.Name, idx))
	}
	return stmts
}

func columnDef(c Column, allowNotNull bool) string {
	var b strings.Builder
	b.WriteString(quote(c.Name))
	b.WriteString(" ")
	b.WriteString(c.Type)
	if c.NotNull && allowNotNull {
		b.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	return b.String()
}

func indexDDL(namespace, table string, idx Index) string {
	name := idx.Name
	if name == "" {
		suffix := "idx"
		if idx.Unique {
			suffix = "key"
		}
		name = indexName(table, idx.Columns, suffix)
	}

	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, quote(name), qualified(namespace, table), quoteList(idx.Columns))
}

func indexName(table string, cols []string, suffix string) string {
	name := table + "_" + strings.Join(cols, "_") + "_" + suffix
	if len(name) > maxIdentifierLength {
		name = name[:maxIdentifierLength]
	}
	return name
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return strings.Join(quoted, ", ")
}
