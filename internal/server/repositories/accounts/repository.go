package accounts

import (
	"context"

	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, acc *models.Account) error
	// GetByID and GetActive return common.ErrAccountNotFound when there is
	// no such account.
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetActive(ctx context.Context) (*models.Account, error)
	// SetActive makes id the only active account. It must run inside a
	// transaction.
	SetActive(ctx context.Context, id string) error
	SetSealedKey(ctx context.Context, id, sealed string) error
}
