package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/dmitrijs2005/nostr-scheduler/internal/nostrx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/publisher"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/config"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
)

// Trigger requests an immediate signing pass. Implemented by SigningQueue.
type Trigger interface {
	Trigger()
}

// ScheduleRequest describes a new post. AccountID, Channel and Endpoint are
// optional: the active account and the account's channel are used when
// they are empty.
type ScheduleRequest struct {
	NoteID    string
	DueAt     time.Time
	AccountID string
	Channel   string
	Endpoint  string
}

// PostService schedules posts and publishes them, either on demand or when
// the Scheduler finds them due.
type PostService struct {
	*signer
	defaults publisher.Defaults
	trigger  Trigger
}

// NewPostService constructs a PostService. trigger may be nil, in which case
// new posts wait for the next signing tick.
func NewPostService(d Deps, cfg *config.Config, trigger Trigger) *PostService {
	lc := newLifecycle(d, cfg.PermalinkBase)
	lc.Logger = lc.Logger.With("module", "posts")
	return &PostService{
		signer: &signer{lifecycle: lc, difficulty: cfg.PowDifficulty},
		defaults: publisher.Defaults{
			APIEndpoint: cfg.DefaultAPIEndpoint,
			Relays:      cfg.DefaultRelays,
		},
		trigger: trigger,
	}
}

// Schedule validates req, stores a pending post for pre-signing and asks
// the signing queue to pick it up. Nothing is stored when the note or the
// account is unknown or the delivery cannot be resolved.
func (s *PostService) Schedule(ctx context.Context, req ScheduleRequest) (string, error) {
	if strings.TrimSpace(req.NoteID) == "" {
		return "", fmt.Errorf("%w: note id is required", common.ErrInvalidArgument)
	}
	if req.DueAt.IsZero() {
		return "", fmt.Errorf("%w: due time is required", common.ErrInvalidArgument)
	}
	channel, err := models.ParseChannel(strings.ToLower(strings.TrimSpace(req.Channel)))
	if err != nil {
		return "", err
	}

	if _, err := s.Repos.Notes(s.DB).GetByID(ctx, req.NoteID); err != nil {
		return "", err
	}
	acc, err := s.account(ctx, req.AccountID)
	if err != nil {
		return "", err
	}

	post := &models.Post{
		NoteID:      req.NoteID,
		AccountID:   acc.ID,
		DueAt:       req.DueAt.UTC(),
		Status:      models.StatusPending,
		Channel:     channel,
		APIEndpoint: strings.TrimSpace(req.Endpoint),
		Presign:     true,
	}
	delivery, err := publisher.Resolve(acc, post, s.defaults)
	if err != nil {
		return "", err
	}

	if err := s.Repos.Posts(s.DB).Create(ctx, post); err != nil {
		return "", fmt.Errorf("error creating post: %w", err)
	}
	s.Logger.Info(ctx, "post scheduled", "post_id", post.ID, "account_id", acc.ID,
		"channel", delivery.Channel(), "due_at", post.DueAt)

	s.TriggerSigningQueue()
	return post.ID, nil
}

// Get returns the post with id, or common.ErrNotFound.
func (s *PostService) Get(ctx context.Context, id string) (*models.Post, error) {
	return s.Repos.Posts(s.DB).GetByID(ctx, id)
}

// TriggerSigningQueue asks for an immediate signing pass without waiting
// for it.
func (s *PostService) TriggerSigningQueue() {
	if s.trigger != nil {
		s.trigger.Trigger()
	}
}

// PublishNow publishes one post synchronously, regardless of its due time.
// Published posts are rejected with common.ErrAlreadyPublished, and posts
// that are being signed or have failed with common.ErrInvalidTransition;
// neither case changes the post. A pending post is signed first.
func (s *PostService) PublishNow(ctx context.Context, postID string) (string, error) {
	post, err := s.Repos.Posts(s.DB).GetByID(ctx, postID)
	if err != nil {
		return "", err
	}

	switch post.Status {
	case models.StatusPublished:
		return "", common.ErrAlreadyPublished
	case models.StatusSigned:
		return s.dispatchSigned(ctx, post)
	case models.StatusPending:
		if !post.Presign {
			return s.dispatchLegacy(ctx, post)
		}
		_, sk, err := s.credentials(ctx, post.AccountID)
		if err != nil {
			s.fail(ctx, post, stageSigning, err)
			return "", err
		}
		if err := s.signPost(ctx, post, sk); err != nil {
			return "", err
		}
		return s.dispatchSigned(ctx, post)
	default:
		return "", fmt.Errorf("%w: post is %s", common.ErrInvalidTransition, post.Status)
	}
}

// dispatchSigned publishes the stored payload of a signed post.
func (s *PostService) dispatchSigned(ctx context.Context, post *models.Post) (string, error) {
	acc, err := s.account(ctx, post.AccountID)
	if err != nil {
		s.fail(ctx, post, stagePublish, err)
		return "", err
	}
	ev, err := nostrx.Decode(post.SignedEvent)
	if err != nil {
		s.fail(ctx, post, stagePublish, err)
		return "", err
	}

	res, err := s.Publisher.Publish(ctx, *ev, acc, post)
	if err != nil {
		s.fail(ctx, post, stagePublish, err)
		return "", err
	}
	return s.published(ctx, post, ev, res, false)
}

// dispatchLegacy publishes a post that was never pre-signed, signing it
// with the account's current key and the note's current content.
func (s *PostService) dispatchLegacy(ctx context.Context, post *models.Post) (string, error) {
	acc, sk, err := s.credentials(ctx, post.AccountID)
	if err != nil {
		s.fail(ctx, post, stagePublish, err)
		return "", err
	}
	note, err := s.Repos.Notes(s.DB).GetByID(ctx, post.NoteID)
	if err != nil {
		s.fail(ctx, post, stagePublish, err)
		return "", err
	}
	ev, err := s.event(ctx, note, sk)
	if err != nil {
		s.fail(ctx, post, stagePublish, err)
		return "", err
	}

	res, err := s.Publisher.Publish(ctx, *ev, acc, post)
	if err != nil {
		s.fail(ctx, post, stagePublish, err)
		return "", err
	}
	return s.published(ctx, post, ev, res, true)
}
