package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fleet-reports/internal/app"
	"fleet-reports/internal/config"
	internaldb "fleet-reports/internal/db"
	"fleet-reports/internal/db/mapper"
	"fleet-reports/internal/domain"
	"fleet-reports/internal/engine"
)

var (
	version = "dev"
	commit  = "none"
)

// Opener builds a wired report engine. The returned func releases it.
type Opener func(ctx context.Context) (*app.App, func(), error)

type rootOptions struct {
	tenant      string
	actor       string
	permissions []string
	output      string
	profile     string
	open        Opener
}

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd(openFromEnv)
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = printJSON(os.Stdout, map[string]interface{}{
				"error": err.Error(),
				"code":  mapper.ErrorCode(err),
			})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(open Opener) *cobra.Command {
	opts := &rootOptions{open: open}

	rootCmd := &cobra.Command{
		Use:           "reportctl",
		Short:         "Fleet report engine CLI",
		Long:          "Discover report tables, validate expressions, compile and run report queries, and run due scheduled reports.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				// Config file is optional
				cfg = &UserConfig{CurrentProfile: "default", Profiles: map[string]Profile{}}
			}
			p, err := cfg.ActiveProfile(opts.profile)
			if err != nil {
				return err
			}

			// Apply precedence: flag > env > profile
			flags := cmd.Flags()
			if !flags.Changed("tenant") {
				opts.tenant = firstNonEmpty(os.Getenv("REPORTCTL_TENANT"), p.Tenant)
			}
			if !flags.Changed("actor") {
				opts.actor = firstNonEmpty(os.Getenv("REPORTCTL_ACTOR"), p.Actor)
			}
			if !flags.Changed("permissions") {
				if v := os.Getenv("REPORTCTL_PERMISSIONS"); v != "" {
					opts.permissions = splitList(v)
				} else {
					opts.permissions = p.Permissions
				}
			}
			if !flags.Changed("output") {
				if v := firstNonEmpty(os.Getenv("REPORTCTL_OUTPUT"), p.Output); v != "" {
					opts.output = v
				}
			}
			return validateOutputFormat(opts.output)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.tenant, "tenant", "", "Tenant id queries are scoped to")
	pf.StringVar(&opts.actor, "actor", "", "Actor id recorded in executions and audit entries")
	pf.StringSliceVar(&opts.permissions, "permissions", nil, "Permission tags of the caller (comma separated)")
	pf.StringVarP(&opts.output, "output", "o", "table", "Output format (table, json)")
	pf.StringVarP(&opts.profile, "profile", "p", "", "Config profile to use")

	rootCmd.AddCommand(
		newTablesCmd(opts),
		newColumnsCmd(opts),
		newValidateCmd(opts),
		newCompileCmd(opts),
		newRunCmd(opts),
		newRunDueCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// tenantContext returns the caller identity, failing when it is incomplete.
func (o *rootOptions) tenantContext() (domain.TenantContext, error) {
	if o.tenant == "" || o.actor == "" {
		return domain.TenantContext{}, errors.New("--tenant and --actor are required (or REPORTCTL_TENANT / REPORTCTL_ACTOR, or a profile)")
	}
	return domain.TenantContext{TenantID: o.tenant, ActorID: o.actor, Permissions: o.permissions}, nil
}

// withApp opens the engine, runs fn and releases the engine.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, release, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, a)
}

// withTenant is withApp with the caller identity attached to the context.
func (o *rootOptions) withTenant(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	tenant, err := o.tenantContext()
	if err != nil {
		return err
	}
	return o.withApp(cmd, func(ctx context.Context, a *app.App) error {
		return fn(domain.WithTenant(ctx, tenant), a)
	})
}

// openFromEnv wires the engine from the same environment the server uses.
func openFromEnv(_ context.Context) (*app.App, func(), error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	writeDB, readDB, err := internaldb.OpenSQLitePair(cfg.MetaDBPath, 2)
	if err != nil {
		return nil, nil, fmt.Errorf("open metastore: %w", err)
	}
	closeMeta := func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	}
	if err := internaldb.RunMigrations(writeDB); err != nil {
		closeMeta()
		return nil, nil, fmt.Errorf("migrate metastore: %w", err)
	}
	storage, err := engine.OpenStorage(cfg.ReportDBDriver, cfg.ReportDBDSN, cfg.ReportDBConns)
	if err != nil {
		closeMeta()
		return nil, nil, fmt.Errorf("open report storage: %w", err)
	}
	a, err := app.New(app.Deps{Cfg: cfg, WriteDB: writeDB, Storage: storage, Logger: logger})
	if err != nil {
		_ = storage.Close()
		closeMeta()
		return nil, nil, err
	}
	return a, func() {
		a.Close()
		_ = storage.Close()
		closeMeta()
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
