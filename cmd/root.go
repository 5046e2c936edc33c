// Package cmd implements the scraparr command-line interface.
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonesrussell/north-cloud/scraparr/internal/bootstrap"
)

// envPrefix scopes the CLI's own environment variables (SCRAPARR_CONFIG, SCRAPARR_DEBUG).
const envPrefix = "SCRAPARR"

// NewRootCommand builds the command tree. v holds the bound flags.
func NewRootCommand(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "scraparr",
		Short: "Scraper orchestration service",
		Long: `scraparr registers collection routines, schedules them as jobs and runs
them with bounded concurrency, storing each scraper's records in its own
Postgres schema.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("config", "", "config file (default is $CONFIG_PATH or ./config.yml)")
	root.PersistentFlags().Bool("debug", false, "enable debug logging")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("debug", root.PersistentFlags().Lookup("debug"))

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	opts := func() bootstrap.Options {
		return bootstrap.Options{
			ConfigPath: v.GetString("config"),
			Debug:      v.GetBool("debug"),
		}
	}

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newRoutinesCommand(),
		newStatsCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	// .env is optional; variables already set are never overridden.
	_ = godotenv.Load()

	if err := NewRootCommand(viper.New()).ExecuteContext(context.Background()); err != nil {
		return fmt.Errorf("scraparr: %w", err)
	}
	return nil
}
