package notes

import (
	"context"

	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, note *models.Note) error
	// GetByID returns common.ErrNoteNotFound for an unknown id.
	GetByID(ctx context.Context, id string) (*models.Note, error)
}
