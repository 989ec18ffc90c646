// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package store

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	versionsOnce sync.Once
	versions     []Migration
	versionsErr  error
)

// Migration is one embedded schema step.
type Migration struct {
	Version uint
	Name    string
}

// migrateIface is the subset of *migrate.Migrate used by Migrator.
type migrateIface interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator applies the embedded schema migrations.
type Migrator struct {
	m migrateIface
}

// migrateURL rewrites postgres:// and postgresql:// to the pgx5:// scheme
// registered by the golang-migrate pgx/v5 driver.
func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// NewMigrator opens a migrator against databaseURL.
func NewMigrator(databaseURL string) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").With("operation", "open embedded migrations").Wrap(err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(databaseURL))
	if err != nil {
		_ = source.Close() //nolint:errcheck // init error takes precedence
		return nil, oops.Code("MIGRATION_INIT_FAILED").With("operation", "initialize migrator").Wrap(err)
	}
	return &Migrator{m: m}, nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	if err := ignoreNoChange(m.m.Up()); err != nil {
		return oops.Code("MIGRATION_UP_FAILED").Wrap(err)
	}
	return nil
}

// Down rolls back every migration. All auth tables and their data are dropped.
func (m *Migrator) Down() error {
	if err := ignoreNoChange(m.m.Down()); err != nil {
		return oops.Code("MIGRATION_DOWN_FAILED").Wrap(err)
	}
	return nil
}

// Steps migrates n steps up (n > 0) or down (n < 0).
func (m *Migrator) Steps(n int) error {
	if err := ignoreNoChange(m.m.Steps(n)); err != nil {
		return oops.Code("MIGRATION_STEPS_FAILED").With("steps", n).Wrap(err)
	}
	return nil
}

// Version returns the applied version and whether the last migration failed
// midway. An empty database reports version 0.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return version, dirty, nil
}

// Force records version as applied without running anything and clears the
// dirty flag. Only for recovery after fixing a failed migration by hand.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.Code("INVALID_VERSION").Errorf("version must be non-negative, got %d", version)
	}
	if err := m.m.Force(version); err != nil {
		return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Close releases the source and database handles.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	switch {
	case srcErr != nil && dbErr != nil:
		return oops.Code("MIGRATION_CLOSE_FAILED").
			With("component", "both").
			Errorf("source: %v; database: %v", srcErr, dbErr)
	case srcErr != nil:
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "source").Wrap(srcErr)
	case dbErr != nil:
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "database").Wrap(dbErr)
	}
	return nil
}

// Migrations lists the embedded migrations in ascending version order.
func Migrations() ([]Migration, error) {
	versionsOnce.Do(func() {
		versions, versionsErr = loadMigrations(migrationsFS)
	})
	if versionsErr != nil {
		return nil, versionsErr
	}
	return slices.Clone(versions), nil
}

func loadMigrations(fsys fs.ReadDirFS) ([]Migration, error) {
	entries, err := fsys.ReadDir("migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_LIST_FAILED").With("operation", "read migrations dir").Wrap(err)
	}

	var out []Migration
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".up.sql")
		if !ok {
			continue
		}
		var version uint
		if _, err := fmt.Sscanf(name, "%06d", &version); err != nil {
			return nil, oops.Code("MIGRATION_NAME_INVALID").
				With("filename", entry.Name()).
				Wrap(err)
		}
		out = append(out, Migration{Version: version, Name: name})
	}
	slices.SortFunc(out, func(a, b Migration) int { return int(a.Version) - int(b.Version) })
	return out, nil
}

// Status summarizes the database against the embedded migrations.
type Status struct {
	Current uint
	Dirty   bool
	Applied []Migration
	Pending []Migration
}

// Status reports which embedded migrations are applied and which are pending.
func (m *Migrator) Status() (Status, error) {
	current, dirty, err := m.Version()
	if err != nil {
		return Status{}, oops.With("operation", "migration status").Wrap(err)
	}
	all, err := Migrations()
	if err != nil {
		return Status{}, oops.With("operation", "migration status").Wrap(err)
	}

	st := Status{Current: current, Dirty: dirty}
	for _, mig := range all {
		if mig.Version <= current {
			st.Applied = append(st.Applied, mig)
		} else {
			st.Pending = append(st.Pending, mig)
		}
	}
	return st, nil
}
