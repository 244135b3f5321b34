package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/config"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
)

const defaultSigningInterval = 30 * time.Second

var errSigningInterrupted = errors.New("signing interrupted before the payload was stored")

// PassResult summarizes one signing or scheduler pass.
type PassResult struct {
	Signed    int
	Published int
	Failed    int
	// Skipped is set when another pass was still running.
	Skipped bool
}

// SigningQueue signs pending posts ahead of their due time so the
// Scheduler only has to deliver stored payloads.
type SigningQueue struct {
	*signer
	interval time.Duration
	busy     atomic.Bool
	trigger  chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSigningQueue(d Deps, cfg *config.Config) *SigningQueue {
	lc := newLifecycle(d, cfg.PermalinkBase)
	lc.Logger = lc.Logger.With("module", "signing")
	interval := cfg.SigningInterval
	if interval <= 0 {
		interval = defaultSigningInterval
	}
	return &SigningQueue{
		signer:   &signer{lifecycle: lc, difficulty: cfg.PowDifficulty},
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// ProcessQueue runs one signing pass. If a pass is already running it
// returns immediately with Skipped set. Posts are grouped by account so each
// key is resolved once; an account whose key cannot be resolved fails all
// of its posts, and a failure signing one post does not stop the others.
func (q *SigningQueue) ProcessQueue(ctx context.Context) (PassResult, error) {
	if !q.busy.CompareAndSwap(false, true) {
		q.Metrics.IncSigningSkipped()
		q.Logger.Debug(ctx, "signing pass already running, skipping")
		return PassResult{Skipped: true}, nil
	}
	defer q.busy.Store(false)

	start := time.Now()
	defer func() { q.Metrics.ObservePass("signing", time.Since(start)) }()

	pending, err := q.Repos.Posts(q.DB).ListForSigning(ctx)
	if err != nil {
		return PassResult{}, fmt.Errorf("list posts for signing: %w", err)
	}

	var res PassResult
	order, groups := groupByAccount(pending)
	for _, accountID := range order {
		q.processAccount(ctx, accountID, groups[accountID], &res)
	}

	if res.Signed+res.Failed > 0 {
		q.Logger.Info(ctx, "signing pass done", "signed", res.Signed, "failed", res.Failed, "elapsed", time.Since(start))
	}
	return res, nil
}

func (q *SigningQueue) processAccount(ctx context.Context, accountID string, posts []*models.Post, res *PassResult) {
	_, sk, err := q.credentials(ctx, accountID)
	if err != nil {
		q.Logger.Error(ctx, "cannot sign for account", "account_id", accountID, "posts", len(posts), "error", err)
		for _, post := range posts {
			q.fail(ctx, post, stageSigning, err)
			res.Failed++
		}
		return
	}

	for _, post := range posts {
		err := q.signPost(ctx, post, sk)
		switch {
		case err == nil:
			res.Signed++
		case errors.Is(err, common.ErrInvalidTransition):
			// claimed by publishNow in the meantime
			q.Logger.Debug(ctx, "post no longer pending", "post_id", post.ID)
		default:
			res.Failed++
		}
	}
}

// RecoverInterrupted fails posts left in signing by a previous process.
// Only one scheduler process runs per database, so at startup no such post
// can still be in progress.
func (q *SigningQueue) RecoverInterrupted(ctx context.Context) (int, error) {
	stuck, err := q.Repos.Posts(q.DB).ListByStatus(ctx, models.StatusSigning)
	if err != nil {
		return 0, fmt.Errorf("list interrupted posts: %w", err)
	}
	for _, post := range stuck {
		q.fail(ctx, post, stageSigning, errSigningInterrupted)
	}
	if len(stuck) > 0 {
		q.Logger.Warn(ctx, "failed posts interrupted while signing", "count", len(stuck))
	}
	return len(stuck), nil
}

// groupByAccount groups posts by account id, keeping the order in which
// accounts first appear. Posts without an account share the "" group,
// which resolves to the active account.
func groupByAccount(posts []*models.Post) ([]string, map[string][]*models.Post) {
	var order []string
	groups := make(map[string][]*models.Post)
	for _, p := range posts {
		if _, ok := groups[p.AccountID]; !ok {
			order = append(order, p.AccountID)
		}
		groups[p.AccountID] = append(groups[p.AccountID], p)
	}
	return order, groups
}

// Trigger requests an immediate pass. It never blocks; requests made while
// one is already queued are merged.
func (q *SigningQueue) Trigger() {
	select {
	case q.trigger <- struct{}{}:
	default:
	}
}

// Start fails posts interrupted by a previous process, runs a pass
// immediately and then on every tick or trigger until Stop is called or ctx
// is done. Passes run to completion even when the loop is stopped.
func (q *SigningQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		return
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		q.Logger.Info(ctx, "signing queue started", "interval", q.interval)
		defer q.Logger.Info(ctx, "signing queue stopped")

		if _, err := q.RecoverInterrupted(ctx); err != nil {
			q.Logger.Error(ctx, "recovering interrupted posts", "error", err)
		}

		ticker := time.NewTicker(q.interval)
		defer ticker.Stop()

		q.runPass(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.runPass(ctx)
			case <-q.trigger:
				q.runPass(ctx)
			}
		}
	}(q.done)
}

func (q *SigningQueue) runPass(ctx context.Context) {
	if _, err := q.ProcessQueue(context.WithoutCancel(ctx)); err != nil {
		q.Logger.Error(ctx, "signing pass failed", "error", err)
	}
}

// Stop ends the loop and waits for the running pass, if any.
func (q *SigningQueue) Stop() {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel, q.done = nil, nil
	q.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
