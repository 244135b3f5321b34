// Package posts stores scheduled posts and guards their status transitions.
package posts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/dmitrijs2005/nostr-scheduler/internal/dbx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/google/uuid"
)

var columns = []string{
	"id", "note_id", "account_id", "due_at", "status", "error_message", "published_at",
	"event_id", "permalink", "channel", "api_endpoint", "signed_event", "presign",
	"created_at", "updated_at",
}

// SQLRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type SQLRepository struct {
	db  dbx.DBTX
	sb  sq.StatementBuilderType
	now func() time.Time
}

// NewSQLRepository constructs a repository bound to db using the
// placeholders of dialect.
func NewSQLRepository(db dbx.DBTX, dialect dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, sb: dialect.Builder(), now: time.Now}
}

// Create inserts post as pending. An empty ID is filled in.
func (r *SQLRepository) Create(ctx context.Context, post *models.Post) error {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if post.Status == "" {
		post.Status = models.StatusPending
	}
	post.CreatedAt, post.UpdatedAt = now, now
	post.DueAt = post.DueAt.UTC()

	q := r.sb.Insert("posts").
		Columns("id", "note_id", "account_id", "due_at", "status", "channel", "api_endpoint",
			"presign", "created_at", "updated_at").
		Values(post.ID, post.NoteID, nullString(post.AccountID), post.DueAt, string(post.Status),
			nullString(string(post.Channel)), nullString(post.APIEndpoint), post.Presign, now, now)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns common.ErrNotFound for an unknown id.
func (r *SQLRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	query, args, err := r.sb.Select(columns...).From("posts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	p, err := scanPost(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *SQLRepository) GetDueByStatus(ctx context.Context, status models.Status, now time.Time) ([]*models.Post, error) {
	q := r.sb.Select(columns...).From("posts").
		Where(sq.Eq{"status": string(status)}).
		Where(sq.LtOrEq{"due_at": now.UTC()}).
		OrderBy("due_at ASC", "id ASC")
	return r.list(ctx, q)
}

func (r *SQLRepository) ListForSigning(ctx context.Context) ([]*models.Post, error) {
	q := r.sb.Select(columns...).From("posts").
		Where(sq.Eq{"status": string(models.StatusPending), "presign": true}).
		OrderBy("due_at ASC", "id ASC")
	return r.list(ctx, q)
}

func (r *SQLRepository) ListByStatus(ctx context.Context, status models.Status) ([]*models.Post, error) {
	q := r.sb.Select(columns...).From("posts").
		Where(sq.Eq{"status": string(status)}).
		OrderBy("due_at ASC", "id ASC")
	return r.list(ctx, q)
}

func (r *SQLRepository) list(ctx context.Context, q sq.SelectBuilder) ([]*models.Post, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select posts: %w", err)
	}
	defer rows.Close()

	var result []*models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLRepository) UpdateStatus(ctx context.Context, id string, status models.Status, upd models.StatusUpdate) error {
	from := models.AllowedFrom(status)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing moves to %s", common.ErrInvalidTransition, status)
	}
	switch {
	case status == models.StatusFailed && (upd.ErrorMessage == nil || *upd.ErrorMessage == ""):
		return fmt.Errorf("failed status requires an error message")
	case status == models.StatusPublished && (upd.EventID == nil || *upd.EventID == ""):
		return fmt.Errorf("published status requires an event id")
	case status == models.StatusSigned && (upd.SignedEvent == nil || *upd.SignedEvent == ""):
		return fmt.Errorf("signed status requires a signed payload")
	}

	b := r.sb.Update("posts").
		Set("status", string(status)).
		Set("updated_at", r.now().UTC())
	if upd.ErrorMessage != nil {
		b = b.Set("error_message", *upd.ErrorMessage)
	}
	if upd.PublishedAt != nil {
		b = b.Set("published_at", upd.PublishedAt.UTC())
	}
	if upd.EventID != nil {
		b = b.Set("event_id", *upd.EventID)
	}
	if upd.Permalink != nil {
		b = b.Set("permalink", nullString(*upd.Permalink))
	}
	if upd.SignedEvent != nil {
		b = b.Set("signed_event", *upd.SignedEvent).
			Where(sq.Or{sq.Eq{"signed_event": nil}, sq.Eq{"signed_event": *upd.SignedEvent}})
	}
	b = b.Where(sq.Eq{"id": id, "status": statusStrings(from)})

	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return r.explainNoop(ctx, id, status)
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// explainNoop works out why an update matched no row.
func (r *SQLRepository) explainNoop(ctx context.Context, id string, to models.Status) error {
	query, args, err := r.sb.Select("status").From("posts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build select: %w", err)
	}

	var current string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	if !models.CanTransition(models.Status(current), to) {
		return fmt.Errorf("%w: %s to %s", common.ErrInvalidTransition, current, to)
	}
	return common.ErrPayloadImmutable
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(s scanner) (*models.Post, error) {
	var (
		p                                                       models.Post
		status                                                  string
		accountID, errMsg, eventID, permalink, channel, apiEndp sql.NullString
		signed                                                  sql.NullString
		publishedAt                                             sql.NullTime
	)
	if err := s.Scan(
		&p.ID, &p.NoteID, &accountID, &p.DueAt, &status, &errMsg, &publishedAt,
		&eventID, &permalink, &channel, &apiEndp, &signed, &p.Presign,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.Status = models.Status(status)
	p.AccountID = accountID.String
	p.ErrorMessage = errMsg.String
	p.EventID = eventID.String
	p.Permalink = permalink.String
	p.Channel = models.Channel(channel.String)
	p.APIEndpoint = apiEndp.String
	p.SignedEvent = signed.String
	if publishedAt.Valid {
		t := publishedAt.Time
		p.PublishedAt = &t
	}
	return &p, nil
}

func statusStrings(ss []models.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
