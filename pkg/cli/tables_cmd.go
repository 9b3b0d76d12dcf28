package cli

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"fleet-reports/internal/app"
)

func newTablesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables reports can query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(_ context.Context, a *app.App) error {
				tables := a.Reports.Tables()
				if opts.output == "json" {
					return printJSON(cmd.OutOrStdout(), tables)
				}
				rows := make([][]string, len(tables))
				for i, t := range tables {
					rows[i] = []string{
						t.Name, t.Label, t.Category,
						strconv.Itoa(t.MaxRows), yesNo(t.Cacheable),
						strings.Join(t.Permissions, ","),
					}
				}
				printTable(cmd.OutOrStdout(), []string{"NAME", "LABEL", "CATEGORY", "MAX ROWS", "CACHED", "PERMISSIONS"}, rows)
				return nil
			})
		},
	}
}

func newColumnsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "columns <table>",
		Short: "List the columns a report author can pick for a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(_ context.Context, a *app.App) error {
				detail, err := a.Reports.Table(args[0])
				if err != nil {
					return err
				}
				if opts.output == "json" {
					return printJSON(cmd.OutOrStdout(), detail)
				}
				rows := make([][]string, len(detail.Columns))
				for i, c := range detail.Columns {
					rows[i] = []string{
						c.Name, c.Label, string(c.Type), c.Relationship,
						yesNo(c.Computed), yesNo(c.Filterable), yesNo(c.Aggregatable),
					}
				}
				printTable(cmd.OutOrStdout(), []string{"NAME", "LABEL", "TYPE", "RELATIONSHIP", "COMPUTED", "FILTER", "AGGREGATE"}, rows)
				return nil
			})
		},
	}
}
