package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fleet-reports/internal/app"
	"fleet-reports/internal/domain"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <table> <expression>",
		Short: "Check a computed-column expression against a table",
		Example: `  reportctl validate vehicles "ROUND(odometer_km * 0.621371, 1)"
  reportctl validate trips "DATEDIFF(end_date, start_date)"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(_ context.Context, a *app.App) error {
				if _, err := a.Reports.Table(args[0]); err != nil {
					return err
				}
				res := a.Reports.ValidateExpression(args[1], args[0])
				if opts.output == "json" {
					if err := printJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				} else if res.Valid {
					fmt.Fprintln(cmd.OutOrStdout(), "valid")
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "invalid:\n  %s\n", strings.Join(res.Errors, "\n  "))
				}
				if !res.Valid {
					return &domain.InvalidExpressionError{Expression: args[1], Problems: res.Errors}
				}
				return nil
			})
		},
	}
}
