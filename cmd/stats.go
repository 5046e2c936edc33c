package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/scraparr/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/scraparr/internal/database"
	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
)

func newStatsCommand(opts func() bootstrap.Options) *cobra.Command {
	var scraperID int64

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print execution statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := bootstrap.NewCommandDeps(opts())
			if err != nil {
				return err
			}
			defer func() { _ = deps.Logger.Sync() }()

			db, err := database.NewPostgresConnection(cmd.Context(), deps.Config.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			var filter *int64
			if cmd.Flags().Changed("scraper-id") {
				filter = &scraperID
			}

			stats, err := database.NewExecutionRepository(db).Stats(cmd.Context(), filter)
			if err != nil {
				return err
			}
			renderStats(cmd, filter, stats)
			return nil
		},
	}

	cmd.Flags().Int64Var(&scraperID, "scraper-id", 0, "limit statistics to one scraper")
	return cmd
}

func renderStats(cmd *cobra.Command, scraperID *int64, stats *domain.ExecutionStats) {
	scope := "all scrapers"
	if scraperID != nil {
		scope = fmt.Sprintf("scraper %d", *scraperID)
	}

	t := newTable(cmd)
	t.SetTitle("Executions (" + scope + ")")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Total", stats.TotalExecutions},
		{"Successful", stats.SuccessfulExecutions},
		{"Failed", stats.FailedExecutions},
		{"Running", stats.RunningExecutions},
		{"Items scraped", stats.TotalItems},
		{"Average items", fmt.Sprintf("%.1f", stats.AverageItems)},
		{"Success rate", fmt.Sprintf("%.1f%%", stats.SuccessRate*100)},
	})
	t.Render()
}
