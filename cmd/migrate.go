package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/scraparr/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/scraparr/internal/database"
)

func newMigrateCommand(opts func() bootstrap.Options) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Apply or roll back control-namespace migrations",
		ValidArgs: []string{database.MigrateUp, database.MigrateDown},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap.NewCommandDeps(opts())
			if err != nil {
				return err
			}
			defer func() { _ = deps.Logger.Sync() }()

			if err = bootstrap.RunMigrations(deps, args[0], steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migration %s completed successfully\n", args[0])
			return nil
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back with down")
	return cmd
}
