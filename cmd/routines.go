package cmd

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/scraparr/internal/bootstrap"
)

func newRoutinesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "routines",
		Short: "List the registered routines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := bootstrap.NewRegistry()
			if err != nil {
				return err
			}

			t := newTable(cmd)
			t.AppendHeader(table.Row{"Name", "Kind", "Description"})
			for _, d := range registry.List() {
				t.AppendRow(table.Row{d.Name, d.Kind, d.Description})
			}
			t.Render()
			return nil
		},
	}
}

// newTable returns a rounded table writing to the command's output.
func newTable(cmd *cobra.Command) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	return t
}
