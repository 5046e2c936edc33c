package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/scraparr/internal/bootstrap"
)

func newServeCommand(opts func() bootstrap.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, dispatcher and management API",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return bootstrap.Start(opts())
		},
	}
}
