// Package schema owns the isolated Postgres namespace of each scraper:
// idempotent DDL from typed table declarations plus natural-key writes.
package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
)

// Postgres error codes raised when two sessions create the same object at once.
const (
	pqDuplicateSchema = "42P06"
	pqDuplicateTable  = "42P07"
	pqDuplicateColumn = "42701"
	pqUniqueViolation = "23505"
)

// Manager allocates and drops scraper namespaces.
type Manager struct {
	db     *sqlx.DB
	logger logger.Logger
}

// NewManager creates a schema manager.
func NewManager(db *sqlx.DB, log logger.Logger) *Manager {
	return &Manager{db: db, logger: log}
}

// Namespace returns a handle for the scraper's namespace without touching the database.
func (m *Manager) Namespace(scraperID int64) *Namespace {
	return &Namespace{db: m.db, name: domain.SchemaNameFor(scraperID), logger: m.logger}
}

// EnsureNamespace creates the scraper's schema when absent. Safe to call on
// every invocation and from concurrent invocations.
func (m *Manager) EnsureNamespace(ctx context.Context, scraperID int64) (*Namespace, error) {
	ns := m.Namespace(scraperID)

	if err := m.execDDL(ctx, "CREATE SCHEMA IF NOT EXISTS "+quote(ns.name)); err != nil {
		return nil, fmt.Errorf("failed to create namespace %s: %w", ns.name, err)
	}

	m.logger.Debug("Namespace ensured", logger.String("namespace", ns.name))
	return ns, nil
}

// DropNamespace removes the scraper's schema and everything in it.
func (m *Manager) DropNamespace(ctx context.Context, scraperID int64) error {
	name := domain.SchemaNameFor(scraperID)
	if _, err := m.db.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+quote(name)+" CASCADE"); err != nil {
		return fmt.Errorf("failed to drop namespace %s: %w", name, err)
	}

	m.logger.Info("Namespace dropped", logger.String("namespace", name))
	return nil
}

func (m *Manager) execDDL(ctx context.Context, stmt string) error {
	return execDDL(ctx, m.db, stmt)
}

// execDDL runs one idempotent statement, treating "already exists" races as success.
func execDDL(ctx context.Context, db sqlx.ExecerContext, stmt string) error {
	_, err := db.ExecContext(ctx, stmt)
	if err == nil || isCreateRace(err) {
		return nil
	}
	return err
}

func isCreateRace(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case pqDuplicateSchema, pqDuplicateTable, pqDuplicateColumn, pqUniqueViolation:
		return true
	}
	return false
}
