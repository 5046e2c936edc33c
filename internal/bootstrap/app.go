// Package bootstrap handles application initialization and lifecycle management
// for the scraparr service.
//
// The bootstrap process follows these phases:
//   - Phase 1: Config & Logger - Load configuration and create logger
//   - Phase 2: Database - Connect to PostgreSQL, migrate and create repositories
//   - Phase 3: Services - Tracker recovery, routine registry, dispatcher, scheduler
//   - Phase 4: Server - Create the HTTP server with the management API
//   - Phase 5: Run - Wait for interrupt signal or error, then drain
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
)

// Version is the service version reported by /health and `scraparr version`.
var Version = "dev"

// Options are the command-line inputs of Start.
type Options struct {
	ConfigPath string
	Debug      bool
}

// Start initializes and runs the service until interrupted.
func Start(opts Options) error {
	// Phase 1: Initialize config and logger
	deps, err := NewCommandDeps(opts)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Logger.Sync() }()

	ctx := context.Background()

	// Phase 2: Setup database (PostgreSQL) and repositories
	dbComponents, err := SetupDatabase(ctx, deps)
	if err != nil {
		return fmt.Errorf("failed to setup database: %w", err)
	}
	defer func() {
		if closeErr := dbComponents.DB.Close(); closeErr != nil {
			deps.Logger.Error("Failed to close database", logger.Error(closeErr))
		}
	}()

	// Phase 3: Setup services (tracker, runtime, dispatcher, scheduler)
	services, err := SetupServices(ctx, deps, dbComponents)
	if err != nil {
		return fmt.Errorf("failed to setup services: %w", err)
	}

	// Phase 4: Setup HTTP server
	server := SetupHTTPServer(deps, dbComponents, services)

	// Phase 5: Run until interrupt or error
	return RunUntilInterrupt(deps, server, services)
}
