// Package accounts stores publishing identities.
package accounts

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

var columns = []string{
	"id", "name", "pubkey", "channel", "api_endpoint", "nostrmq_target", "relays",
	"is_active", "keyring_ref", "sealed_key", "legacy_private_key", "created_at",
}

// SQLRepository implements Repository over a dbx.DBTX.
type SQLRepository struct {
	db  dbx.DBTX
	sb  sq.StatementBuilderType
	now func() time.Time
}

func NewSQLRepository(db dbx.DBTX, dialect dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, sb: dialect.Builder(), now: time.Now}
}

func (r *SQLRepository) Create(ctx context.Context, acc *models.Account) error {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	if acc.Channel == "" {
		acc.Channel = models.ChannelDirect
	}
	acc.CreatedAt = r.now().UTC()

	relays, err := encodeRelays(acc.Relays)
	if err != nil {
		return err
	}

	query, args, err := r.sb.Insert("accounts").
		Columns(columns...).
		Values(acc.ID, acc.Name, acc.PubKey, string(acc.Channel), nullString(acc.APIEndpoint),
			nullString(acc.NostrMQTarget), relays, acc.IsActive, nullString(acc.KeyringRef),
			nullString(acc.SealedKey), nullString(acc.LegacyPrivateKey), acc.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.get(ctx, sq.Eq{"id": id})
}

func (r *SQLRepository) GetActive(ctx context.Context) (*models.Account, error) {
	return r.get(ctx, sq.Eq{"is_active": true})
}

func (r *SQLRepository) get(ctx context.Context, where sq.Eq) (*models.Account, error) {
	query, args, err := r.sb.Select(columns...).From("accounts").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return acc, nil
}

func (r *SQLRepository) SetActive(ctx context.Context, id string) error {
	query, args, err := r.sb.Update("accounts").Set("is_active", false).Where(sq.Eq{"is_active": true}).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	query, args, err = r.sb.Update("accounts").Set("is_active", true).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	return r.execOne(ctx, query, args)
}

func (r *SQLRepository) SetSealedKey(ctx context.Context, id, sealed string) error {
	query, args, err := r.sb.Update("accounts").Set("sealed_key", nullString(sealed)).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	return r.execOne(ctx, query, args)
}

func (r *SQLRepository) execOne(ctx context.Context, query string, args []any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrAccountNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*models.Account, error) {
	var (
		a                                   models.Account
		channel                             string
		endpoint, target, relays, ref, seal sql.NullString
		legacy                              sql.NullString
	)
	if err := s.Scan(&a.ID, &a.Name, &a.PubKey, &channel, &endpoint, &target, &relays,
		&a.IsActive, &ref, &seal, &legacy, &a.CreatedAt); err != nil {
		return nil, err
	}

	a.Channel = models.Channel(channel)
	a.APIEndpoint = endpoint.String
	a.NostrMQTarget = target.String
	a.KeyringRef = ref.String
	a.SealedKey = seal.String
	a.LegacyPrivateKey = legacy.String

	if relays.Valid && relays.String != "" {
		if err := json.Unmarshal([]byte(relays.String), &a.Relays); err != nil {
			return nil, fmt.Errorf("decode relays of account %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func encodeRelays(relays []string) (sql.NullString, error) {
	if len(relays) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(relays)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode relays: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
