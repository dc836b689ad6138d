package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/wxm/internal/store/migrations"
)

// SchemaVersion is the mirror schema this build reads and writes.
const SchemaVersion = 1

// MigrateResult describes what a migration run did.
type MigrateResult struct {
	From    uint
	Version uint
	Changed bool
}

// Migrate brings the mirror schema to SchemaVersion. The migrate instance is
// not closed because closing it would close the database as well.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{MigrationsTable: "mirror_schema"})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	from, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("schema version: %w", err)
	}
	if err := m.Migrate(SchemaVersion); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migrate to %d: %w", SchemaVersion, err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("schema version: %w", err)
	}
	if dirty {
		return nil, fmt.Errorf("schema version %d left dirty", version)
	}
	return &MigrateResult{From: from, Version: version, Changed: from != version}, nil
}
