package schema_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
	"github.com/jonesrussell/north-cloud/scraparr/internal/schema"
)

func newManager(t *testing.T) (*schema.Manager, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return schema.NewManager(sqlx.NewDb(mockDB, "postgres"), logger.NewNop()), mock
}

var placesSpec = schema.TableSpec{
	Name: "places",
	Columns: []schema.Column{
		{Name: "id", Type: schema.TypeText, NotNull: true},
		{Name: "name", Type: schema.TypeText},
		{Name: "scraped_at", Type: schema.TypeTimestamp, NotNull: true, Default: schema.DefaultNow},
	},
	PrimaryKey: []string{"id"},
	Indexes:    []schema.Index{{Columns: []string{"name"}}},
}

func TestTableSpec_DDL(t *testing.T) {
	t.Parallel()

	stmts := placesSpec.DDL("scraper_1")
	require.Len(t, stmts, 5)

	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS \"scraper_1\".\"places\" (\n\t\"id\" TEXT NOT NULL,\n\t\"name\" TEXT,\n\t"+
			"\"scraped_at\" TIMESTAMPTZ NOT NULL DEFAULT NOW(),\n\tPRIMARY KEY (\"id\")\n)",
		stmts[0])
	assert.Equal(t, `ALTER TABLE "scraper_1"."places" ADD COLUMN IF NOT EXISTS "id" TEXT`, stmts[1])
	assert.Equal(t,
		`ALTER TABLE "scraper_1"."places" ADD COLUMN IF NOT EXISTS "scraped_at" TIMESTAMPTZ NOT NULL DEFAULT NOW()`,
		stmts[3])
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "places_name_idx" ON "scraper_1"."places" ("name")`, stmts[4])
}

func TestTableSpec_DDL_UniqueBecomesIndex(t *testing.T) {
	t.Parallel()

	spec := schema.TableSpec{
		Name:    "grid_progress",
		Columns: []schema.Column{{Name: "region", Type: schema.TypeText}, {Name: "grid_lat", Type: schema.TypeDouble}},
		Unique:  [][]string{{"region", "grid_lat"}},
	}
	stmts := spec.DDL("scraper_2")
	assert.Equal(t,
		`CREATE UNIQUE INDEX IF NOT EXISTS "grid_progress_region_grid_lat_key" ON "scraper_2"."grid_progress" ("region", "grid_lat")`,
		stmts[len(stmts)-1])
}

func TestTableSpec_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec schema.TableSpec
	}{
		{"bad table name", schema.TableSpec{Name: "Places", Columns: []schema.Column{{Name: "id", Type: "TEXT"}}}},
		{"no columns", schema.TableSpec{Name: "places"}},
		{"injected type", schema.TableSpec{Name: "t", Columns: []schema.Column{{Name: "id", Type: "TEXT); DROP TABLE x"}}}},
		{"unsafe default", schema.TableSpec{Name: "t", Columns: []schema.Column{{Name: "id", Type: "TEXT", Default: "'a'; --"}}}},
		{"unknown key column", schema.TableSpec{Name: "t", Columns: []schema.Column{{Name: "id", Type: "TEXT"}}, PrimaryKey: []string{"uid"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Error(t, tt.spec.Validate())
		})
	}

	require.NoError(t, placesSpec.Validate())
}

func TestManager_EnsureNamespace_ToleratesRace(t *testing.T) {
	m, mock := newManager(t)

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "scraper_5"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "scraper_5"`).WillReturnError(&pq.Error{Code: "42P06"})

	ns, err := m.EnsureNamespace(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "scraper_5", ns.Name())

	_, err = m.EnsureNamespace(context.Background(), 5)
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_EnsureNamespace_PropagatesOtherErrors(t *testing.T) {
	m, mock := newManager(t)

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "scraper_5"`).WillReturnError(&pq.Error{Code: "42501"})

	_, err := m.EnsureNamespace(context.Background(), 5)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNamespace_EnsureTables_IdempotentTwice(t *testing.T) {
	m, mock := newManager(t)
	ns := m.Namespace(1)

	for range 2 {
		for _, stmt := range placesSpec.DDL("scraper_1") {
			mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
		}
	}
	// A concurrent creator winning the race surfaces as a duplicate error.
	mock.ExpectExec(placesSpec.DDL("scraper_1")[0]).WillReturnError(&pq.Error{Code: "23505"})
	for _, stmt := range placesSpec.DDL("scraper_1")[1:] {
		mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, ns.EnsureTables(context.Background(), placesSpec))
	require.NoError(t, ns.EnsureTables(context.Background(), placesSpec))
	require.NoError(t, ns.EnsureTables(context.Background(), placesSpec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNamespace_Upsert_CollapsesDuplicateKeys(t *testing.T) {
	m, mock := newManager(t)
	ns := m.Namespace(1)

	mock.ExpectExec(`INSERT INTO "scraper_1"."places" ("id", "name") VALUES ($1, $2), ($3, $4) ` +
		`ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name"`).
		WithArgs("a", "A2", "b", "B").
		WillReturnResult(sqlmock.NewResult(0, 2))

	rows := []schema.Row{
		{"id": "a", "name": "A", "tags": []string{"x"}},
		{"id": "b", "name": "B"},
		{"id": "a", "name": "A2"},
	}
	n, err := ns.Upsert(context.Background(), "places", rows, []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNamespace_Upsert_CollapsesKeysAcrossNumericTypes(t *testing.T) {
	m, mock := newManager(t)
	ns := m.Namespace(1)

	mock.ExpectExec(`INSERT INTO "scraper_1"."places" ("id", "name") VALUES ($1, $2), ($3, $4) ` +
		`ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name"`).
		WithArgs("1", "C", "2.5", "D").
		WillReturnResult(sqlmock.NewResult(0, 2))

	rows := []schema.Row{
		{"id": int64(1), "name": "A"},
		{"id": float64(1), "name": "B"},
		{"id": float64(2.5), "name": "X"},
		{"id": "1", "name": "C"},
		{"id": "2.5", "name": "D"},
	}
	n, err := ns.Upsert(context.Background(), "places", rows, []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNamespace_Upsert_EncodesJSON(t *testing.T) {
	m, mock := newManager(t)
	ns := m.Namespace(1)

	mock.ExpectExec(`INSERT INTO "scraper_1"."records" ("id", "data") VALUES ($1, $2) ` +
		`ON CONFLICT ("id") DO UPDATE SET "data" = EXCLUDED."data"`).
		WithArgs("r1", `{"k":1}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := ns.Upsert(context.Background(), "records",
		[]schema.Row{{"id": "r1", "data": map[string]any{"k": 1}}}, []string{"id"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNamespace_Upsert_KeyOnlyDoesNothing(t *testing.T) {
	m, mock := newManager(t)
	ns := m.Namespace(1)

	mock.ExpectExec(`INSERT INTO "scraper_1"."seen" ("id") VALUES ($1) ON CONFLICT ("id") DO NOTHING`).
		WithArgs("x").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := ns.Upsert(context.Background(), "seen", []schema.Row{{"id": "x"}}, []string{"id"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNamespace_Upsert_Rejects(t *testing.T) {
	m, _ := newManager(t)
	ns := m.Namespace(1)

	_, err := ns.Upsert(context.Background(), "places", []schema.Row{{"id": "a"}}, nil)
	require.ErrorIs(t, err, schema.ErrNoKeyColumns)

	_, err = ns.Upsert(context.Background(), "places", []schema.Row{{"id": "a", "Bad Col": 1}}, []string{"id"})
	require.ErrorIs(t, err, schema.ErrInvalidIdentifier)

	_, err = ns.Upsert(context.Background(), "public.jobs", []schema.Row{{"id": "a"}}, []string{"id"})
	require.ErrorIs(t, err, schema.ErrInvalidIdentifier)
}

func TestNamespace_Append_SkipsConflicts(t *testing.T) {
	m, mock := newManager(t)
	ns := m.Namespace(3)

	mock.ExpectExec(`INSERT INTO "scraper_3"."reviews" ("body", "id") VALUES ($1, $2), ($3, $4) ON CONFLICT DO NOTHING`).
		WithArgs("great", "r1", "meh", "r2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := ns.Append(context.Background(), "reviews", []schema.Row{
		{"id": "r1", "body": "great"},
		{"id": "r2", "body": "meh"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNamespace_SelectAndCount(t *testing.T) {
	m, mock := newManager(t)
	ns := m.Namespace(1)

	mock.ExpectQuery(`SELECT "grid_lat", "grid_lon" FROM "scraper_1"."grid_progress" WHERE "region" = $1`).
		WithArgs("benelux").
		WillReturnRows(sqlmock.NewRows([]string{"grid_lat", "grid_lon"}).AddRow(50.5, 4.0))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "scraper_1"."places"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`SELECT DISTINCT "id"::text FROM "scraper_1"."places" WHERE "id" IS NOT NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p1").AddRow("p2"))

	rows, err := ns.Select(context.Background(), "grid_progress", []string{"grid_lat", "grid_lon"},
		schema.Row{"region": "benelux"}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 50.5, rows[0]["grid_lat"], 0.0001)

	count, err := ns.Count(context.Background(), "places", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(12), count)

	ids, err := ns.Values(context.Background(), "places", "id")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_DropNamespace(t *testing.T) {
	m, mock := newManager(t)

	mock.ExpectExec(`DROP SCHEMA IF EXISTS "scraper_9" CASCADE`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, m.DropNamespace(context.Background(), 9))
	require.NoError(t, mock.ExpectationsWereMet())
}
