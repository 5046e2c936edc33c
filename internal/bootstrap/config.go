package bootstrap

import (
	"fmt"

	"github.com/jonesrussell/north-cloud/scraparr/internal/config"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
)

// CommandDeps holds the config and logger every command needs.
type CommandDeps struct {
	Config *config.Config
	Logger logger.Logger
}

// NewCommandDeps loads configuration and creates the service logger.
func NewCommandDeps(opts Options) (*CommandDeps, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}

	log, err := CreateLogger(cfg)
	if err != nil {
		return nil, err
	}

	return &CommandDeps{Config: cfg, Logger: log}, nil
}

// LoadConfig loads configuration from opts.ConfigPath, or CONFIG_PATH /
// config.yml when empty. --debug forces debug logging.
func LoadConfig(opts Options) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if opts.Debug {
		cfg.App.Debug = true
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	return cfg, nil
}

// CreateLogger creates the service logger from configuration.
func CreateLogger(cfg *config.Config) (logger.Logger, error) {
	log, err := logger.New(*cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(
		logger.String("service", cfg.App.Name),
		logger.String("version", Version),
	), nil
}
