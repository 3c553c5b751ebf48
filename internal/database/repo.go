package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/lavoncyk/rss-reader/internal/reader"
)

// Ensure Repo implements the interfaces the worker consumes
var (
	_ reader.FeedStore  = Repo{}
	_ reader.SyncWriter = Repo{}
)

// Common surface of *sqlx.DB and *sqlx.Tx.
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
}

// Repo represents the surface for interacting with feeds and posts.
type Repo struct {
	db querier
	sb sq.StatementBuilderType

	// Nil when the repo is bound to a transaction.
	dbx *sqlx.DB
}

// New creates a new instance of Repo.
func New(dbx *sqlx.DB) Repo {
	return Repo{
		db:  dbx,
		sb:  statementBuilder(dbx.DriverName()),
		dbx: dbx,
	}
}

// Postgres wants numbered placeholders, sqlite takes question marks.
func statementBuilder(driver string) sq.StatementBuilderType {
	if driver == DriverPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}

	return sq.StatementBuilder
}

// Ping checks the connection is alive.
func (r Repo) Ping(ctx context.Context) error {
	if r.dbx == nil {
		return nil
	}

	return r.dbx.PingContext(ctx)
}

// InTx runs fn with a writer bound to one transaction. The transaction
// commits if fn returns nil and rolls back otherwise.
func (r Repo) InTx(ctx context.Context, fn func(reader.SyncWriter) error) error {
	return r.WithTx(ctx, func(tx Repo) error {
		return fn(tx)
	})
}

// WithTx runs fn against a repo bound to a new transaction. Nested calls
// reuse the outer transaction.
func (r Repo) WithTx(ctx context.Context, fn func(Repo) error) error {
	// Already inside one
	if r.dbx == nil {
		return fn(r)
	}

	tx, err := r.dbx.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %s", err)
	}

	if err := fn(Repo{db: tx, sb: r.sb}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "error rolling back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %s", err)
	}

	return nil
}
