package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/nostr-scheduler/internal/logging"
	"github.com/dmitrijs2005/nostr-scheduler/internal/nostrx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/publisher"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/events"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/nbd-wtf/go-nostr"
)

// Failure stages, used as the metrics label.
const (
	stageSigning = "signing"
	stagePublish = "publish"
)

// lifecycle records terminal transitions and their side effects: metrics,
// notifications and the archive copy of published events.
type lifecycle struct {
	Deps
	permalinkBase string
}

func newLifecycle(d Deps, permalinkBase string) *lifecycle {
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.Now == nil {
		d.Now = utcNow
	}
	return &lifecycle{Deps: d, permalinkBase: permalinkBase}
}

// account returns the account with id, or the active account when id is
// empty.
func (l *lifecycle) account(ctx context.Context, id string) (*models.Account, error) {
	repo := l.Repos.Accounts(l.DB)
	if id == "" {
		return repo.GetActive(ctx)
	}
	return repo.GetByID(ctx, id)
}

// fail marks post failed with cause's text. A post that has meanwhile left
// the expected state is left alone. The write outlives a cancelled ctx, so
// a post never stays in signing because its caller went away.
func (l *lifecycle) fail(ctx context.Context, post *models.Post, stage string, cause error) {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	if msg == "" {
		msg = "unknown error"
	}

	err := l.Repos.Posts(l.DB).UpdateStatus(ctx, post.ID, models.StatusFailed, models.StatusUpdate{ErrorMessage: &msg})
	if err != nil {
		l.Logger.Warn(ctx, "could not mark post failed", "post_id", post.ID, "cause", msg, "error", err)
		return
	}
	post.Status = models.StatusFailed
	post.ErrorMessage = msg

	l.Metrics.IncFailed(stage)
	l.Logger.Error(ctx, "post failed", "post_id", post.ID, "account_id", post.AccountID, "stage", stage, "error", msg)
	l.notify(ctx, events.PostEvent{
		PostID:  post.ID,
		Status:  string(models.StatusFailed),
		Error:   msg,
		Channel: string(post.Channel),
		At:      l.Now(),
	})
}

// published records a successful delivery of ev. storePayload is set on the
// sign-at-publish-time path, where the post has no stored payload yet. The
// event is already out, so recording it ignores cancellation of ctx.
func (l *lifecycle) published(ctx context.Context, post *models.Post, ev *nostr.Event, res publisher.Result, storePayload bool) (string, error) {
	ctx = context.WithoutCancel(ctx)
	eventID := res.EventID
	if eventID == "" {
		eventID = ev.ID
	}
	now := l.Now()
	upd := models.StatusUpdate{EventID: &eventID, PublishedAt: &now}
	if link := nostrx.Permalink(l.permalinkBase, ev.ID); link != "" {
		upd.Permalink = &link
	}
	if storePayload {
		payload, err := nostrx.Encode(ev)
		if err != nil {
			return eventID, err
		}
		upd.SignedEvent = &payload
	}

	if err := l.Repos.Posts(l.DB).UpdateStatus(ctx, post.ID, models.StatusPublished, upd); err != nil {
		l.Logger.Error(ctx, "event delivered but post not recorded as published", "post_id", post.ID, "event_id", eventID, "error", err)
		return eventID, fmt.Errorf("record published: %w", err)
	}
	post.Status = models.StatusPublished
	post.EventID = eventID
	post.PublishedAt = &now
	if upd.Permalink != nil {
		post.Permalink = *upd.Permalink
	}

	l.Metrics.IncPublished(string(res.Channel))
	l.Logger.Info(ctx, "post published", "post_id", post.ID, "account_id", post.AccountID,
		"channel", res.Channel, "event_id", eventID, "relays", len(res.Relays))

	if l.Archiver != nil {
		if err := l.Archiver.Archive(ctx, ev); err != nil {
			l.Metrics.IncArchiveError()
			l.Logger.Warn(ctx, "archive failed", "post_id", post.ID, "event_id", ev.ID, "error", err)
		}
	}
	l.notify(ctx, events.PostEvent{
		PostID:  post.ID,
		Status:  string(models.StatusPublished),
		EventID: eventID,
		Channel: string(res.Channel),
		At:      now,
	})
	return eventID, nil
}

func (l *lifecycle) notify(ctx context.Context, ev events.PostEvent) {
	if l.Notifier == nil {
		return
	}
	if err := l.Notifier.Notify(ctx, ev); err != nil {
		l.Metrics.IncNotifyError()
		l.Logger.Warn(ctx, "status notification failed", "post_id", ev.PostID, "error", err)
	}
}
