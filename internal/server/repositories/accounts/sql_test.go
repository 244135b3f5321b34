package accounts

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/dmitrijs2005/nostr-scheduler/internal/dbx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/migrations"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*SQLRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	repo := NewSQLRepository(db, dbx.Postgres)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock, db
}

func TestGetActive_Query(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM accounts WHERE is_active = \$1 LIMIT 1`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("a1", "main", "pk", "api", "https://x", nil, `["wss://r1","wss://r2"]`, true, nil, nil, nil, fixedNow))

	acc, err := repo.GetActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a1", acc.ID)
	assert.Equal(t, models.ChannelAPI, acc.Channel)
	assert.Equal(t, []string{"wss://r1", "wss://r2"}, acc.Relays)
	assert.True(t, acc.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM accounts WHERE id = \$1`).WithArgs("x").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.GetByID(context.Background(), "x")
	assert.ErrorIs(t, err, common.ErrAccountNotFound)
	assert.Equal(t, "account not found", err.Error())
}

func TestGetByID_BadRelaysJSON(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM accounts`).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("a1", "main", "pk", "direct", nil, nil, `not-json`, false, nil, nil, nil, fixedNow))

	_, err := repo.GetByID(context.Background(), "a1")
	assert.Error(t, err)
}

func TestSetSealedKey_Unknown(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE accounts SET sealed_key = \$1 WHERE id = \$2`).
		WithArgs("sealed", "nope").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetSealedKey(context.Background(), "nope", "sealed")
	assert.ErrorIs(t, err, common.ErrAccountNotFound)
}

func TestSetActive_RollsBackWhenTargetIsMissing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE accounts SET is_active = \$1 WHERE is_active = \$2`).
		WithArgs(false, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE accounts SET is_active = \$1 WHERE id = \$2`).
		WithArgs(true, "nope").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = dbx.WithTx(context.Background(), db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return NewSQLRepository(tx, dbx.Postgres).SetActive(ctx, "nope")
	})
	assert.ErrorIs(t, err, common.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet(), "previous active account is restored by the rollback")
}

func TestSQLite_SingleActiveAccount(t *testing.T) {
	db, _, err := dbx.Open("file:accounts_single_active?mode=memory&cache=shared")
	require.NoError(t, err)
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	require.NoError(t, goose.SetDialect("sqlite3"))
	require.NoError(t, goose.UpContext(context.Background(), db, "."))

	ctx := context.Background()
	repo := NewSQLRepository(db, dbx.SQLite)

	a := &models.Account{Name: "a", PubKey: "pka", IsActive: true, Relays: []string{"wss://a"}}
	b := &models.Account{Name: "b", PubKey: "pkb", Channel: models.ChannelNostrMQ, NostrMQTarget: "t"}
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	dup := &models.Account{Name: "c", PubKey: "pkc", IsActive: true}
	assert.Error(t, repo.Create(ctx, dup), "second active account violates the unique index")

	active, err := repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ID)
	assert.Equal(t, []string{"wss://a"}, active.Relays)
	assert.Equal(t, models.ChannelDirect, active.Channel)

	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return NewSQLRepository(tx, dbx.SQLite).SetActive(ctx, b.ID)
	})
	require.NoError(t, err)

	active, err = repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, active.ID)
	assert.Equal(t, "t", active.NostrMQTarget)

	require.NoError(t, repo.SetSealedKey(ctx, a.ID, "c2VhbGVk"))
	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "c2VhbGVk", got.SealedKey)
	assert.False(t, got.IsActive)
}
