package store

import (
	"database/sql"
	"embed"

	"github.com/cockroachdb/errors"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

// Migrations are append-only: never edit or renumber a released file.
//
//go:embed migrations/*.sql
var migrationFS embed.FS

// versionTable holds the single row with the highest applied migration.
const versionTable = "schema_version"

// migrateDB applies every pending migration to the database file at path.
// Each migration runs in its own transaction; the version row is marked dirty
// before and clean only after the statements succeed, so a failed migration
// leaves a dirty version that refuses to open until repaired.
func migrateDB(path string, log logrus.FieldLogger) error {
	db, err := sql.Open("sqlite", dsn(path, false))
	if err != nil {
		return errors.Wrap(err, "open database for migrations")
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: versionTable})
	if err != nil {
		db.Close()
		return errors.Wrap(err, "init migration driver")
	}

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		driver.Close()
		return errors.Wrap(err, "load migrations")
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		src.Close()
		driver.Close()
		return errors.Wrap(err, "create migrator")
	}
	defer m.Close()

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return errors.Wrap(err, "read schema version")
	}
	if dirty {
		return errors.Newf("schema version %d is dirty: a previous migration failed", from)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return errors.Wrap(err, "apply migrations")
	}

	to, _, err := m.Version()
	if err != nil {
		return errors.Wrap(err, "read schema version")
	}
	log.WithFields(logrus.Fields{"from": from, "to": to}).Info("Database migrated")
	return nil
}
