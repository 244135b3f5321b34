// Package notes stores reusable note content. The scheduler only reads it.
package notes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/dmitrijs2005/nostr-scheduler/internal/dbx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/google/uuid"
)

type SQLRepository struct {
	db  dbx.DBTX
	sb  sq.StatementBuilderType
	now func() time.Time
}

func NewSQLRepository(db dbx.DBTX, dialect dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, sb: dialect.Builder(), now: time.Now}
}

func (r *SQLRepository) Create(ctx context.Context, note *models.Note) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	note.CreatedAt = r.now().UTC()

	meta, err := encodeJSON(note.Metadata, len(note.Metadata) == 0)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	tags, err := encodeJSON(note.Tags, len(note.Tags) == 0)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	var accountID sql.NullString
	if note.AccountID != "" {
		accountID = sql.NullString{String: note.AccountID, Valid: true}
	}
	var title sql.NullString
	if note.Title != "" {
		title = sql.NullString{String: note.Title, Valid: true}
	}

	query, args, err := r.sb.Insert("notes").
		Columns("id", "account_id", "title", "content", "metadata", "tags", "pinned", "created_at").
		Values(note.ID, accountID, title, note.Content, meta, tags, note.Pinned, note.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) GetByID(ctx context.Context, id string) (*models.Note, error) {
	query, args, err := r.sb.
		Select("id", "account_id", "title", "content", "metadata", "tags", "pinned", "created_at").
		From("notes").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var (
		n                             models.Note
		accountID, title, meta, tags sql.NullString
	)
	err = r.db.QueryRowContext(ctx, query, args...).
		Scan(&n.ID, &accountID, &title, &n.Content, &meta, &tags, &n.Pinned, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	n.AccountID = accountID.String
	n.Title = title.String
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &n.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of note %s: %w", n.ID, err)
		}
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &n.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of note %s: %w", n.ID, err)
		}
	}
	return &n, nil
}

func encodeJSON(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
