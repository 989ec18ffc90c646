// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/authd-dev/authd/internal/store"
)

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
	Status() (store.Status, error)
	Close() error
}

// MigratorFactory opens a Migrator for a database URL.
type MigratorFactory func(databaseURL string) (Migrator, error)

func defaultMigratorFactory(databaseURL string) (Migrator, error) {
	return store.NewMigrator(databaseURL) //nolint:wrapcheck // coded by store
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd(g *globalFlags) *cobra.Command {
	return newMigrateCmd(g, defaultMigratorFactory)
}

func newMigrateCmd(g *globalFlags, factory MigratorFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back or inspect the embedded PostgreSQL migrations.`,
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL URL (overrides config and DATABASE_URL)")

	withMigrator := func(run func(cmd *cobra.Command, m Migrator, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return oops.Code("CONFIG_INVALID").Errorf("database.url is required (set DATABASE_URL)")
			}
			m, err := factory(cfg.Database.URL)
			if err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
			}
			defer func() {
				if closeErr := m.Close(); closeErr != nil {
					cmd.PrintErrln("warning: closing migrator:", closeErr)
				}
			}()
			return run(cmd, m, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			cmd.Println("Running migrations...")
			if err := m.Up(); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "migrate up").Wrap(err)
			}
			cmd.Println("Migrations completed successfully")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			if err := m.Down(); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "migrate down").Wrap(err)
			}
			cmd.Println("All migrations rolled back")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			v, dirty, err := m.Version()
			if err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "read version").Wrap(err)
			}
			if dirty {
				cmd.Printf("%d (dirty)\n", v)
				return nil
			}
			cmd.Println(v)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long:  `Mark the schema at VERSION and clear the dirty flag. Use after fixing a failed migration by hand.`,
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("MIGRATION_VERSION_INVALID").With("version", args[0]).Wrap(err)
			}
			if err := m.Force(v); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "force version").Wrap(err)
			}
			cmd.Printf("Schema version forced to %d\n", v)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			st, err := m.Status()
			if err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "status").Wrap(err)
			}
			cmd.Printf("current: %d dirty: %t\n", st.Current, st.Dirty)
			for _, mig := range st.Applied {
				cmd.Printf("  [x] %06d %s\n", mig.Version, mig.Name)
			}
			for _, mig := range st.Pending {
				cmd.Printf("  [ ] %06d %s\n", mig.Version, mig.Name)
			}
			return nil
		}),
	})

	return cmd
}
