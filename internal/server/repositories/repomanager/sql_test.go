package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/nostr-scheduler/internal/dbx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/repositories/notes"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/repositories/posts"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func TestNewRepositoryManager(t *testing.T) {
	for _, d := range []dbx.Dialect{dbx.Postgres, dbx.SQLite} {
		m, err := NewRepositoryManager(d)
		require.NoError(t, err)
		var _ RepositoryManager = m
	}

	_, err := NewRepositoryManager("oracle")
	assert.Error(t, err)
}

func TestFactories_ReturnConcreteRepos(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	m := &SQLRepositoryManager{dialect: dbx.Postgres}

	var _ posts.Repository = m.Posts(db)
	var _ accounts.Repository = m.Accounts(db)
	var _ notes.Repository = m.Notes(db)

	if m.Posts(db) == nil || m.Accounts(db) == nil || m.Notes(db) == nil {
		t.Fatal("nil repository")
	}
}

func TestRunMigrations_Success(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		if len(opts) != 0 {
			return errors.New("unexpected opts")
		}
		return nil
	}
	defer func() { gooseUpContext = orig }()

	m := &SQLRepositoryManager{dialect: dbx.Postgres}
	if err := m.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations error: %v", err)
	}
}

func TestRunMigrations_Error(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	m := &SQLRepositoryManager{dialect: dbx.SQLite}
	if err := m.RunMigrations(context.Background(), db); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestRunMigrations_SQLite(t *testing.T) {
	db, dialect, err := dbx.Open("file:repomanager_migrations?mode=memory&cache=shared")
	require.NoError(t, err)
	defer db.Close()

	m, err := NewRepositoryManager(dialect)
	require.NoError(t, err)
	require.NoError(t, m.RunMigrations(context.Background(), db))
	require.NoError(t, m.RunMigrations(context.Background(), db), "migrations are idempotent")

	ctx := context.Background()
	acc := &models.Account{Name: "main", PubKey: "pk", IsActive: true}
	require.NoError(t, m.Accounts(db).Create(ctx, acc))
	note := &models.Note{AccountID: acc.ID, Content: "hello"}
	require.NoError(t, m.Notes(db).Create(ctx, note))
	post := &models.Post{NoteID: note.ID, AccountID: acc.ID}
	require.NoError(t, m.Posts(db).Create(ctx, post))

	got, err := m.Posts(db).GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}
