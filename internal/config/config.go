// Package config loads scraparr configuration from a YAML file, .env files
// and environment variables (env always wins).
package config

import (
	"errors"
	"fmt"
	"time"

	dbconfig "github.com/jonesrussell/north-cloud/scraparr/internal/config/database"
	"github.com/jonesrussell/north-cloud/scraparr/internal/config/server"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
)

// Scheduler and runtime defaults.
const (
	defaultAppName         = "scraparr"
	defaultAppVersion      = "1.0.0"
	defaultMaxConcurrent   = 5
	defaultDrainTimeout    = 30 * time.Second
	defaultRunStartWait    = 2 * time.Second
	defaultUserAgent       = "Scraparr/1.0"
	defaultRequestTimeout  = 300 * time.Second
	defaultLogFlushLines   = 20
	defaultLogBufferLines  = 2000
	defaultConfigFileName  = "config.yml"
	maxAllowedConcurrency  = 256
	minAllowedFlushLines   = 1
	minAllowedBufferLines  = 10
	minAllowedRequestLimit = time.Second
)

// ValidationError reports an invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AppConfig identifies the running service.
type AppConfig struct {
	Name    string `env:"APP_NAME"    yaml:"name"`
	Version string `env:"APP_VERSION" yaml:"version"`
	Env     string `env:"APP_ENV"     yaml:"env"`
	Debug   bool   `env:"APP_DEBUG"   yaml:"debug"`
}

// SchedulerConfig bounds execution concurrency.
type SchedulerConfig struct {
	// MaxConcurrent caps simultaneously running executions.
	MaxConcurrent int `env:"MAX_CONCURRENT_SCRAPERS" yaml:"max_concurrent"`
	// DrainTimeout bounds how long shutdown waits for in-flight executions.
	DrainTimeout time.Duration `env:"SCHEDULER_DRAIN_TIMEOUT" yaml:"drain_timeout"`
	// RunStartWait is how long run-now endpoints wait for an execution id.
	RunStartWait time.Duration `env:"SCHEDULER_RUN_START_WAIT" yaml:"run_start_wait"`
}

// RuntimeConfig configures what routines receive.
type RuntimeConfig struct {
	UserAgent      string        `env:"DEFAULT_USER_AGENT" yaml:"user_agent"`
	RequestTimeout time.Duration `env:"SCRAPER_TIMEOUT"    yaml:"request_timeout"`
	// LogFlushLines is how many routine log lines are batched per database write.
	LogFlushLines int `env:"RUNTIME_LOG_FLUSH_LINES" yaml:"log_flush_lines"`
	// LogBufferLines sizes the in-memory live log view per execution.
	LogBufferLines int `env:"RUNTIME_LOG_BUFFER_LINES" yaml:"log_buffer_lines"`
}

// Config represents the application configuration.
type Config struct {
	App       *AppConfig       `yaml:"app"`
	Logging   *logger.Config   `yaml:"logging"`
	Server    *server.Config   `yaml:"server"`
	Database  *dbconfig.Config `yaml:"database"`
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	Runtime   *RuntimeConfig   `yaml:"runtime"`
}

// DefaultPath returns the config file path honouring CONFIG_PATH.
func DefaultPath() string {
	return GetConfigPath(defaultConfigFileName)
}

// Load loads configuration from path and validates it.
func Load(path string) (*Config, error) {
	cfg, err := LoadWithDefaults[Config](path, setDefaults)
	if err != nil {
		return nil, err
	}

	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, fmt.Errorf("invalid config: %w", validateErr)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.App == nil {
		cfg.App = &AppConfig{}
	}
	if cfg.Logging == nil {
		cfg.Logging = &logger.Config{}
	}
	if cfg.Server == nil {
		cfg.Server = server.NewConfig()
	}
	if cfg.Database == nil {
		cfg.Database = dbconfig.NewConfig()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = &SchedulerConfig{}
	}
	if cfg.Runtime == nil {
		cfg.Runtime = &RuntimeConfig{}
	}

	if cfg.App.Name == "" {
		cfg.App.Name = defaultAppName
	}
	if cfg.App.Version == "" {
		cfg.App.Version = defaultAppVersion
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "production"
	}

	cfg.Logging.SetDefaults()
	if cfg.App.Debug {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}

	cfg.Server.SetDefaults()
	cfg.Database.SetDefaults()

	if cfg.Scheduler.MaxConcurrent == 0 {
		cfg.Scheduler.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Scheduler.DrainTimeout == 0 {
		cfg.Scheduler.DrainTimeout = defaultDrainTimeout
	}
	if cfg.Scheduler.RunStartWait == 0 {
		cfg.Scheduler.RunStartWait = defaultRunStartWait
	}

	if cfg.Runtime.UserAgent == "" {
		cfg.Runtime.UserAgent = defaultUserAgent
	}
	if cfg.Runtime.RequestTimeout == 0 {
		cfg.Runtime.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Runtime.LogFlushLines == 0 {
		cfg.Runtime.LogFlushLines = defaultLogFlushLines
	}
	if cfg.Runtime.LogBufferLines == 0 {
		cfg.Runtime.LogBufferLines = defaultLogBufferLines
	}
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	var errs []error

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		errs = append(errs, &ValidationError{Field: "logging.level", Message: "must be one of: debug, info, warn, error, fatal"})
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{Field: "server.port", Message: "must be between 1 and 65535"})
	}
	if c.Database.Host == "" {
		errs = append(errs, &ValidationError{Field: "database.host", Message: "is required"})
	}
	if c.Scheduler.MaxConcurrent < 1 || c.Scheduler.MaxConcurrent > maxAllowedConcurrency {
		errs = append(errs, &ValidationError{
			Field:   "scheduler.max_concurrent",
			Message: fmt.Sprintf("must be between 1 and %d", maxAllowedConcurrency),
		})
	}
	if c.Runtime.RequestTimeout < minAllowedRequestLimit {
		errs = append(errs, &ValidationError{Field: "runtime.request_timeout", Message: "must be at least 1s"})
	}
	if c.Runtime.LogFlushLines < minAllowedFlushLines {
		errs = append(errs, &ValidationError{Field: "runtime.log_flush_lines", Message: "must be positive"})
	}
	if c.Runtime.LogBufferLines < minAllowedBufferLines {
		errs = append(errs, &ValidationError{Field: "runtime.log_buffer_lines", Message: "must be at least 10"})
	}

	return errors.Join(errs...)
}
