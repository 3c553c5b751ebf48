// Package database is the relational feed store, backed by either SQLite or
// PostgreSQL.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// How long Open keeps retrying an unreachable database.
const connectTimeout = 30 * time.Second

// Open connects to the database and waits for it to answer a ping.
//
// For sqlite the dsn is a file path; the pragmas the store relies on are
// appended to it.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	dbx, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %s", err)
	}

	// The database may come up after us, e.g. in compose.
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := retry.Fibonacci(ctx, 500*time.Millisecond, func(ctx context.Context) error {
		if err := dbx.PingContext(ctx); err != nil {
			slog.Warn("database not ready", "driver", driver, "error", err)
			return retry.RetryableError(err)
		}

		return nil
	}); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("error pinging database: %s", err)
	}

	return dbx, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	return path + sep + strings.Join([]string{
		"_pragma=foreign_keys(1)",
		"_pragma=journal_mode(WAL)",
		"_pragma=busy_timeout(5000)",
		"_time_format=sqlite",
	}, "&")
}

// Reports if err is a unique constraint violation in either dialect.
func isUniqueViolation(err error) bool {
	if sqliteErr := (&sqlite.Error{}); errors.As(err, &sqliteErr) && sqliteErr.Code() == 2067 {
		return true
	}
	if pqErr := (&pq.Error{}); errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}

	return false
}

// Timestamps are stored in UTC at second precision so they compare the same
// way in both dialects.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
