package dbx

import (
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/dmitrijs2005/nostr-scheduler/internal/filex"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL backend behind a *sql.DB.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Placeholder returns the bind-variable format squirrel must use.
func (d Dialect) Placeholder() sq.PlaceholderFormat {
	if d == Postgres {
		return sq.Dollar
	}
	return sq.Question
}

// Goose returns the goose dialect name for migrations.
func (d Dialect) Goose() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite3"
}

// Builder returns a squirrel statement builder bound to the dialect.
func (d Dialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.Placeholder())
}

// ParseDSN maps a DSN onto a driver name, driver-specific data source and
// dialect:
//
//	postgres://… and postgresql://…   → pgx
//	sqlite://path, file:…, *.db, :memory: → modernc sqlite
func ParseDSN(dsn string) (driver, source string, dialect Dialect, err error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "pgx", dsn, Postgres, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://"), SQLite, nil
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:", strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return "sqlite", dsn, SQLite, nil
	default:
		return "", "", "", fmt.Errorf("unsupported database dsn %q", dsn)
	}
}

// Open opens the database named by dsn. SQLite allows a single writer, so
// its pool is limited to one connection.
func Open(dsn string) (*sql.DB, Dialect, error) {
	driver, source, dialect, err := ParseDSN(dsn)
	if err != nil {
		return nil, "", err
	}

	if dialect == SQLite && isFilePath(source) {
		if source, err = filex.EnsureParentDir(source); err != nil {
			return nil, "", err
		}
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", dialect, err)
	}

	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", dialect, err)
	}

	return db, dialect, nil
}

// isFilePath reports whether an sqlite source names a plain file, as
// opposed to a file: URI or an in-memory database.
func isFilePath(source string) bool {
	return source != "" && source != ":memory:" && !strings.HasPrefix(source, "file:")
}
