package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres:// driver
	_ "github.com/golang-migrate/migrate/v4/source/file"       // file:// source

	dbconfig "github.com/jonesrussell/north-cloud/scraparr/internal/config/database"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
)

// Migration directions.
const (
	MigrateUp   = "up"
	MigrateDown = "down"
)

// Migrator applies the control-namespace migrations.
type Migrator struct {
	m      *migrate.Migrate
	source string
	logger logger.Logger
}

// NewMigrator opens a migrate instance for cfg.
func NewMigrator(cfg *dbconfig.Config, log logger.Logger) (*Migrator, error) {
	m, err := migrate.New(cfg.MigrationsPath, cfg.MigrateURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return &Migrator{m: m, source: cfg.MigrationsPath, logger: log}, nil
}

// Up applies every pending migration.
func (mg *Migrator) Up() error {
	return mg.run(MigrateUp, mg.m.Up)
}

// Down rolls back steps migrations, 1 when steps is not positive.
func (mg *Migrator) Down(steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return mg.run(MigrateDown, func() error { return mg.m.Steps(-steps) })
}

// Version returns the applied version; 0 when nothing was applied.
func (mg *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read migration version: %w", err)
	}
	return version, dirty, nil
}

// Close releases the source and database handles.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

func (mg *Migrator) run(direction string, step func() error) error {
	err := step()
	if errors.Is(err, migrate.ErrNoChange) {
		mg.logger.Info("No migrations to apply",
			logger.String("direction", direction),
			logger.String("migrations_path", mg.source),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", direction, err)
	}

	version, _, _ := mg.Version()
	mg.logger.Info("Migrations applied",
		logger.String("direction", direction),
		logger.String("migrations_path", mg.source),
		logger.Int64("version", int64(version)),
	)
	return nil
}
