// Package repomanager provides a RepositoryManager for PostgreSQL and SQLite,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/nostr-scheduler/internal/dbx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/migrations"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/repositories/notes"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/repositories/posts"
	"github.com/pressly/goose/v3"
)

// SQLRepositoryManager vends repositories for one SQL dialect and exposes a
// schema migration hook.
type SQLRepositoryManager struct {
	dialect dbx.Dialect
}

// Posts returns a posts.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) Posts(db dbx.DBTX) posts.Repository {
	return posts.NewSQLRepository(db, m.dialect)
}

// Accounts returns an accounts.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) Accounts(db dbx.DBTX) accounts.Repository {
	return accounts.NewSQLRepository(db, m.dialect)
}

// Notes returns a notes.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) Notes(db dbx.DBTX) notes.Repository {
	return notes.NewSQLRepository(db, m.dialect)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(m.dialect.Goose()); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// NewRepositoryManager constructs a RepositoryManager for dialect.
func NewRepositoryManager(dialect dbx.Dialect) (RepositoryManager, error) {
	switch dialect {
	case dbx.Postgres, dbx.SQLite:
		return &SQLRepositoryManager{dialect: dialect}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
}
