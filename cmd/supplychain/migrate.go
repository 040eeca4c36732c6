package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/supplychain/internal/app/runtime"
	"github.com/R3E-Network/supplychain/internal/config"
	"github.com/R3E-Network/supplychain/internal/platform/migrations"
)

func newMigrateCmd() *cobra.Command {
	var (
		dsn    string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema",
		Long: `Apply every schema migration in order. Migrations are idempotent, so
running them against an up-to-date database changes nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := migrations.Names()
			if err != nil {
				return err
			}
			if dryRun {
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			if dsn = strings.TrimSpace(dsn); dsn == "" {
				dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
			}
			if dsn == "" {
				return fmt.Errorf("--dsn or DATABASE_URL is required")
			}
			db, err := runtime.OpenDatabase(cmd.Context(), config.DatabaseConfig{Driver: "postgres", DSN: dsn})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			if err := migrations.Apply(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migrations\n", len(names))
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL connection string (defaults to DATABASE_URL)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List migrations without applying them")
	return cmd
}
