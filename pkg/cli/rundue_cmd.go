package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"fleet-reports/internal/app"
)

func newRunDueCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run-due",
		Short: "Run every scheduled report whose next run has passed",
		Long: `Runs one scheduling sweep and exits. Use it from an external cron when the
server runs with SCHEDULER_ENABLED=false. A failing report does not stop the
sweep; it stays due and is retried on the next one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				summary, err := a.Scheduler.RunDue(ctx)
				if err != nil {
					return err
				}
				if opts.output == "json" {
					return printJSON(cmd.OutOrStdout(), map[string]int{
						"due":       summary.Due,
						"succeeded": summary.Succeeded,
						"failed":    summary.Failed,
						"skipped":   summary.Skipped,
					})
				}
				printTable(cmd.OutOrStdout(), []string{"DUE", "SUCCEEDED", "FAILED", "SKIPPED"}, [][]string{{
					strconv.Itoa(summary.Due),
					strconv.Itoa(summary.Succeeded),
					strconv.Itoa(summary.Failed),
					strconv.Itoa(summary.Skipped),
				}})
				return nil
			})
		},
	}
}
