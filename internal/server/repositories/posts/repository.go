package posts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
)

// Repository is the post store used by the signing queue and the scheduler.
type Repository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	// GetDueByStatus returns posts in status due at or before now, oldest
	// due first.
	GetDueByStatus(ctx context.Context, status models.Status, now time.Time) ([]*models.Post, error)
	// ListForSigning returns pending posts created for pre-signing,
	// regardless of due time.
	ListForSigning(ctx context.Context) ([]*models.Post, error)
	ListByStatus(ctx context.Context, status models.Status) ([]*models.Post, error)
	// UpdateStatus moves a post to status together with the fields set in
	// upd. It fails with common.ErrInvalidTransition when the post is not in
	// a predecessor state and with common.ErrPayloadImmutable when a
	// different signed payload is already stored.
	UpdateStatus(ctx context.Context, id string, status models.Status, upd models.StatusUpdate) error
}
