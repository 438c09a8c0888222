package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/estudia/material-bot/internal/infrastructure/persistence/postgres"
)

// newMigrateCmd управляет схемой без запуска бота.
func newMigrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if databaseURL == "" {
				return errors.New("--database-url or DATABASE_URL is required")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")

	withMigrator := func(fn func(context.Context, *postgres.Migrator) error) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(c.Context(), 2*time.Minute)
			defer cancel()

			dbConfig := postgres.DefaultConfig()
			dbConfig.URL = databaseURL
			dbConfig.MinConns = 0
			conn, err := postgres.NewConnection(ctx, dbConfig)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer conn.Close()

			return fn(ctx, postgres.NewMigrator(conn))
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, m *postgres.Migrator) error {
				applied, err := m.Migrate(ctx)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Println("schema is up to date")
					return nil
				}
				for _, v := range applied {
					fmt.Printf("applied %03d\n", v)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, m *postgres.Migrator) error {
				if err := m.Rollback(ctx); err != nil {
					return err
				}
				fmt.Println("rolled back")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, m *postgres.Migrator) error {
				status, err := m.Status(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED AT")
				for _, mig := range status {
					at := "pending"
					if mig.IsApplied {
						at = mig.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%03d\t%s\t%s\n", mig.Version, mig.Name, at)
				}
				return w.Flush()
			}),
		},
	)
	return cmd
}
