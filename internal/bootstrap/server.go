package bootstrap

import (
	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/scraparr/internal/api"
	"github.com/jonesrussell/north-cloud/scraparr/internal/httpserver"
)

// SetupHTTPServer creates the HTTP server with health, metrics and the
// management API.
func SetupHTTPServer(deps *CommandDeps, db *DatabaseComponents, services *ServiceComponents) *httpserver.Server {
	cfg := deps.Config

	return httpserver.New(httpserver.Options{
		Config:         cfg.Server,
		Debug:          cfg.App.Debug,
		ServiceName:    cfg.App.Name,
		ServiceVersion: Version,
		Checks: map[string]httpserver.HealthChecker{
			"database": httpserver.DatabaseHealthChecker(db.DB.PingContext),
		},
		Gatherer: services.Metrics,
	}, deps.Logger, func(router *gin.Engine) {
		api.SetupRoutes(router, api.Deps{
			Scrapers:     db.ScraperRepo,
			Jobs:         db.JobRepo,
			Executions:   services.Tracker,
			Namespaces:   db.Schemas,
			Coverage:     api.NamespaceCoverage{Manager: db.Schemas},
			Registry:     services.Registry,
			Validator:    services.Runner,
			Dispatcher:   services.Dispatcher,
			Scheduler:    services.Scheduler,
			RunStartWait: cfg.Scheduler.RunStartWait,
		})
	})
}
