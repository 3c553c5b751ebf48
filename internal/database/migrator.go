package database

import (
	"embed"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies every pending migration for the connection's dialect.
func Migrate(dbx *sqlx.DB) error {
	var (
		dirName string
		inst    database.Driver
		err     error
	)
	switch dbx.DriverName() {
	case DriverSQLite:
		dirName = "migrations/sqlite"
		inst, err = sqlite.WithInstance(dbx.DB, &sqlite.Config{})
	case DriverPostgres:
		dirName = "migrations/postgres"
		inst, err = postgres.WithInstance(dbx.DB, &postgres.Config{})
	default:
		return fmt.Errorf("no migrations for driver %q", dbx.DriverName())
	}
	if err != nil {
		return fmt.Errorf("error creating %s instance for migration: %s", dbx.DriverName(), err)
	}

	d, err := iofs.New(migrationsFS, dirName)
	if err != nil {
		return fmt.Errorf("error creating migrations source: %s", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", d, dbx.DriverName(), inst)
	if err != nil {
		return fmt.Errorf("error creating migrator: %s", err)
	}
	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("error migrating: %s", err)
	}
	slog.Info("migrated", "driver", dbx.DriverName())

	return nil
}
