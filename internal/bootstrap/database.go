package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/scraparr/internal/database"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
	"github.com/jonesrussell/north-cloud/scraparr/internal/schema"
)

// DatabaseComponents holds the connection, the repositories and the schema manager.
type DatabaseComponents struct {
	DB            *sqlx.DB
	ScraperRepo   *database.ScraperRepository
	JobRepo       *database.JobRepository
	ExecutionRepo *database.ExecutionRepository
	Schemas       *schema.Manager
}

// SetupDatabase connects to PostgreSQL, applies migrations when enabled and
// creates all repositories.
func SetupDatabase(ctx context.Context, deps *CommandDeps) (*DatabaseComponents, error) {
	dbCfg := deps.Config.Database

	if dbCfg.AutoMigrate {
		if err := RunMigrations(deps, database.MigrateUp, 0); err != nil {
			return nil, err
		}
	}

	db, err := database.NewPostgresConnection(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	deps.Logger.Info("Connected to database",
		logger.String("host", dbCfg.Host),
		logger.Int("port", dbCfg.Port),
		logger.String("dbname", dbCfg.DBName),
	)

	return &DatabaseComponents{
		DB:            db,
		ScraperRepo:   database.NewScraperRepository(db),
		JobRepo:       database.NewJobRepository(db),
		ExecutionRepo: database.NewExecutionRepository(db),
		Schemas:       schema.NewManager(db, deps.Logger),
	}, nil
}

// RunMigrations applies (up) or rolls back (down, steps) the control migrations.
func RunMigrations(deps *CommandDeps, direction string, steps int) error {
	if direction != database.MigrateUp && direction != database.MigrateDown {
		return fmt.Errorf("invalid migration direction %q (must be %q or %q)",
			direction, database.MigrateUp, database.MigrateDown)
	}

	migrator, err := database.NewMigrator(deps.Config.Database, deps.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			deps.Logger.Warn("Failed to close migrator", logger.Error(closeErr))
		}
	}()

	if direction == database.MigrateDown {
		return migrator.Down(steps)
	}
	return migrator.Up()
}
