package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"fleet-reports/internal/app"
	"fleet-reports/internal/domain"
	"fleet-reports/internal/service/report"
	"fleet-reports/internal/validation"
)

// readSpec decodes a query specification from path, or from in when path is
// "-" or empty.
func readSpec(in io.Reader, path string) (domain.QuerySpecification, error) {
	var spec domain.QuerySpecification
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(path) //nolint:gosec // path is user supplied on purpose
	}
	if err != nil {
		return spec, fmt.Errorf("read specification: %w", err)
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return spec, domain.ErrValidation("invalid specification JSON: %v", err)
	}
	return spec, validation.Validate(&spec)
}

func newCompileCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a query specification and print the SQL",
		Example: `  echo '{"select":[{"column":"make"}],"from":"vehicles"}' | reportctl compile --tenant 7 --actor me
  reportctl compile -f spec.json -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := readSpec(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			return opts.withTenant(cmd, func(ctx context.Context, a *app.App) error {
				q, err := a.Reports.Compile(ctx, spec)
				if err != nil {
					return err
				}
				if opts.output == "json" {
					return printJSON(cmd.OutOrStdout(), map[string]interface{}{
						"sql":                  q.SQL,
						"params":               q.Args,
						"columns":              q.ColumnNames(),
						"fingerprint":          q.Fingerprint,
						"cacheable":            q.Cacheable,
						"row_cap":              q.RowCap,
						"required_permissions": q.RequiredPermissions,
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, q.SQL)
				fmt.Fprintf(out, "-- params: %v\n", q.Args)
				fmt.Fprintf(out, "-- fingerprint: %s  cacheable: %t  row cap: %d\n", q.Fingerprint, q.Cacheable, q.RowCap)
				if len(q.RequiredPermissions) > 0 {
					fmt.Fprintf(out, "-- permissions: %s\n", strings.Join(q.RequiredPermissions, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Specification file (- reads stdin)")
	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		file   string
		format string
		out    string
		bypass bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a query specification",
		Example: `  reportctl run -f spec.json --tenant 7 --actor me --permissions reports.fleet
  reportctl run -f spec.json --format csv --out fleet.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := readSpec(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			return opts.withTenant(cmd, func(ctx context.Context, a *app.App) error {
				if format != "" {
					return runExport(ctx, cmd, a, spec, format, out)
				}
				res, err := a.Reports.Run(ctx, spec, report.RunOptions{BypassCache: bypass})
				if err != nil {
					return err
				}
				if opts.output == "json" {
					return printJSON(cmd.OutOrStdout(), res)
				}
				rows := make([][]string, len(res.Rows))
				for i, row := range res.Rows {
					rows[i] = make([]string, len(row))
					for j, v := range row {
						rows[i][j] = formatCell(v)
					}
				}
				printTable(cmd.OutOrStdout(), res.Columns, rows)
				fmt.Fprintf(cmd.ErrOrStderr(), "%d rows (cache: %s, %.1f ms)\n", res.RowCount, res.CacheStatus, res.ExecutionTimeMs)
				if res.Truncated {
					fmt.Fprintln(cmd.ErrOrStderr(), "result truncated at the table's row cap")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Specification file (- reads stdin)")
	cmd.Flags().StringVar(&format, "format", "", "Export format (json, csv, xlsx) instead of printing rows")
	cmd.Flags().StringVar(&out, "out", "", "Write the export to this file (default stdout)")
	cmd.Flags().BoolVar(&bypass, "bypass-cache", false, "Skip the result cache lookup")
	return cmd
}

func runExport(ctx context.Context, cmd *cobra.Command, a *app.App, spec domain.QuerySpecification, raw, path string) error {
	format, ok := domain.ParseExportFormat(raw)
	if !ok {
		return domain.ErrValidation("unsupported export format %q", raw)
	}
	res, err := a.Reports.Export(ctx, spec, format)
	if err != nil {
		return err
	}
	if path == "" {
		_, err = cmd.OutOrStdout().Write(res.Payload)
		return err
	}
	if err := os.WriteFile(path, res.Payload, 0o600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d rows to %s\n", res.Result.RowCount, path)
	return nil
}
