package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/nostr-scheduler/internal/dbx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/repositories/notes"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/repositories/posts"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Posts(db dbx.DBTX) posts.Repository
	Accounts(db dbx.DBTX) accounts.Repository
	Notes(db dbx.DBTX) notes.Repository
}
