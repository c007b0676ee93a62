package main

import (
	"NoteLedger/internal/config"
	"NoteLedger/internal/observability"
	"NoteLedger/internal/persistence"
	"NoteLedger/migrations"
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	dsn        string
	dir        string
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the NoteLedger Postgres schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (default $"+config.FileEnv+")")
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "Postgres DSN, overrides store.postgres_dsn")
	root.PersistentFlags().StringVar(&opts.dir, "dir", "", "migrations directory instead of the embedded set")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *persistence.Migrator) error {
					return m.Up(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *persistence.Migrator) error {
					return m.Down(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *persistence.Migrator) error {
					rows, err := m.Status(ctx)
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "VERSION\tFILE\tAPPLIED AT")
					for _, r := range rows {
						at := "pending"
						if r.Applied {
							at = r.AppliedAt.Format(time.RFC3339)
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Version, r.Filename, at)
					}
					return tw.Flush()
				})
			},
		},
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func withMigrator(ctx context.Context, opts *options, fn func(context.Context, *persistence.Migrator) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	dsn := cfg.Store.PostgresDSN
	if opts.dsn != "" {
		dsn = opts.dsn
	}
	dir := cfg.Store.MigrationsDir
	if opts.dir != "" {
		dir = opts.dir
	}

	logger := observability.NewLoggerWithLevel("migrate", observability.ParseLogLevel(cfg.Log.Level))

	store, err := persistence.OpenPostgres(ctx, dsn, 1)
	if err != nil {
		return err
	}
	defer store.Close()

	m := persistence.NewMigratorFS(store.DB(), migrations.FS, logger)
	if dir != "" {
		m = persistence.NewMigrator(store.DB(), dir, logger)
	}
	return fn(ctx, m)
}
