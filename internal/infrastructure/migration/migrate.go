// Package migration applies the embedded messaging schema with golang-migrate.
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Migrator applies the conversations, messages and notifications schema
type Migrator struct {
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// NewWithSource creates a Migrator reading migrations from fsys; pass
// migrations.FS for the set embedded in the binary
func NewWithSource(db *sql.DB, fsys fs.FS, logger *zap.Logger) (*Migrator, error) {
	src, err := OpenSource(fsys)
	if err != nil {
		return nil, err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "messaging_schema_migrations"})
	if err != nil {
		return nil, fmt.Errorf("postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{migrate: m, logger: logger}, nil
}

// OpenSource opens fsys as a golang-migrate source
func OpenSource(fsys fs.FS) (source.Driver, error) {
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	return src, nil
}

// Versions lists the migration versions available in src in ascending order
func Versions(src source.Driver) ([]uint, error) {
	first, err := src.First()
	if err != nil {
		return nil, fmt.Errorf("failed to read first migration: %w", err)
	}

	versions := []uint{first}
	for current := first; ; {
		next, err := src.Next(current)
		if errors.Is(err, fs.ErrNotExist) {
			return versions, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read migration after %d: %w", current, err)
		}
		versions = append(versions, next)
		current = next
	}
}

// Up applies every pending migration
func (m *Migrator) Up() error {
	return m.apply("up", m.migrate.Up)
}

// Down rolls back every migration
func (m *Migrator) Down() error {
	return m.apply("down", m.migrate.Down)
}

// Steps applies n migrations, rolling back when n is negative
func (m *Migrator) Steps(n int) error {
	return m.apply(fmt.Sprintf("steps %d", n), func() error { return m.migrate.Steps(n) })
}

// apply treats "nothing to do" as success and logs where the schema ended up
func (m *Migrator) apply(name string, run func() error) error {
	err := run()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("Schema already current", zap.String("migration", name))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", name, err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	m.logger.Info("Schema migrated", zap.String("migration", name), zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Version returns the current migration version, 0 when none was applied
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("schema version: %w", err)
	}
	return version, dirty, nil
}

// Force records version as applied without running it, clearing the dirty
// flag left by a failed migration
func (m *Migrator) Force(version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	m.logger.Warn("Schema version forced", zap.Int("version", version))
	return nil
}

// Close closes the migrator and releases resources
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}
