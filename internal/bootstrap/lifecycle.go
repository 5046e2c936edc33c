package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonesrussell/north-cloud/scraparr/internal/httpserver"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
)

const signalChannelBufferSize = 1

// RunUntilInterrupt serves until SIGINT/SIGTERM or a server error, then shuts down.
func RunUntilInterrupt(deps *CommandDeps, server *httpserver.Server, services *ServiceComponents) error {
	sigChan := make(chan os.Signal, signalChannelBufferSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := server.StartAsync()

	select {
	case serverErr, ok := <-errChan:
		shutdownErr := Shutdown(deps, nil, services)
		if ok && serverErr != nil {
			deps.Logger.Error("Server error", logger.Error(serverErr))
			return fmt.Errorf("server error: %w", serverErr)
		}
		return shutdownErr
	case sig := <-sigChan:
		deps.Logger.Info("Shutdown signal received", logger.String("signal", sig.String()))
		return Shutdown(deps, server, services)
	}
}

// Shutdown stops the HTTP server, then triggers, then drains in-flight
// executions for up to scheduler.drain_timeout before cancelling them.
func Shutdown(deps *CommandDeps, server *httpserver.Server, services *ServiceComponents) error {
	log := deps.Logger
	var errs []error

	if server != nil {
		log.Info("Stopping HTTP server")
		if err := server.Shutdown(context.Background()); err != nil {
			log.Error("Failed to stop server", logger.Error(err))
			errs = append(errs, err)
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), deps.Config.Scheduler.DrainTimeout)
	defer cancel()

	log.Info("Stopping scheduler")
	if err := services.Scheduler.Stop(drainCtx); err != nil {
		log.Error("Failed to stop scheduler", logger.Error(err))
		errs = append(errs, err)
	}

	log.Info("Draining executions", logger.Duration("timeout", deps.Config.Scheduler.DrainTimeout))
	if err := services.Dispatcher.Stop(drainCtx); err != nil {
		log.Warn("Executions cancelled after drain timeout", logger.Error(err))
	}
	services.cancel()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Info("Service stopped successfully")
	return nil
}
