package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/logging"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/config"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/robfig/cron/v3"
)

const defaultSchedulerCron = "*/5 * * * *"

// Scheduler publishes due posts on a cron schedule: signed posts first,
// then pending posts that were never pre-signed.
type Scheduler struct {
	posts    *PostService
	cronExpr string
	receiver Stopper
	logger   logging.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	passes  sync.WaitGroup
}

// NewScheduler constructs a Scheduler. receiver, when not nil, is stopped
// together with the scheduler.
func NewScheduler(posts *PostService, cfg *config.Config, receiver Stopper, logger logging.Logger) *Scheduler {
	cronExpr := cfg.SchedulerCron
	if cronExpr == "" {
		cronExpr = defaultSchedulerCron
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scheduler{
		posts:    posts,
		cronExpr: cronExpr,
		receiver: receiver,
		logger:   logger.With("module", "scheduler"),
	}
}

// RunOnce performs one pass over the posts due now. A failing post is
// marked failed and the pass moves on.
func (s *Scheduler) RunOnce(ctx context.Context) (PassResult, error) {
	start := time.Now()
	defer func() { s.posts.Metrics.ObservePass("scheduler", time.Since(start)) }()

	repo := s.posts.Repos.Posts(s.posts.DB)
	now := s.posts.Now()

	var res PassResult
	signed, err := repo.GetDueByStatus(ctx, models.StatusSigned, now)
	if err != nil {
		return res, fmt.Errorf("list signed posts: %w", err)
	}
	for _, post := range signed {
		_, err := s.posts.dispatchSigned(ctx, post)
		res.tally(err)
	}

	pending, err := repo.GetDueByStatus(ctx, models.StatusPending, now)
	if err != nil {
		return res, fmt.Errorf("list pending posts: %w", err)
	}
	for _, post := range pending {
		if post.Presign {
			// left to the signing queue
			continue
		}
		_, err := s.posts.dispatchLegacy(ctx, post)
		res.tally(err)
	}

	if res.Published+res.Failed > 0 {
		s.logger.Info(ctx, "scheduler pass done", "published", res.Published, "failed", res.Failed, "elapsed", time.Since(start))
	}
	return res, nil
}

func (r *PassResult) tally(err error) {
	if err != nil {
		r.Failed++
		return
	}
	r.Published++
}

// PublishNow publishes one post immediately. See PostService.PublishNow.
func (s *Scheduler) PublishNow(ctx context.Context, postID string) (string, error) {
	return s.posts.PublishNow(ctx, postID)
}

// Start runs a pass immediately and then on the cron schedule. A tick that
// fires while the previous pass is still running is skipped. Cancelling ctx
// does not interrupt a pass; use Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already started")
	}

	cl := cronLogger{ctx: ctx, logger: s.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	run := cron.FuncJob(func() { s.runPass(ctx) })
	if _, err := c.AddJob(s.cronExpr, run); err != nil {
		return fmt.Errorf("invalid scheduler cron %q: %w", s.cronExpr, err)
	}

	s.cron = c
	s.running = true
	c.Start()
	s.passes.Add(1)
	go func() {
		defer s.passes.Done()
		s.runPass(ctx)
	}()

	s.logger.Info(ctx, "scheduler started", "cron", s.cronExpr)
	return nil
}

func (s *Scheduler) runPass(ctx context.Context) {
	if _, err := s.RunOnce(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error(ctx, "scheduler pass failed", "error", err)
	}
}

// Stop cancels future ticks, waits for the running pass to finish and then
// stops the receiver. Publishes already in flight are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopped := s.cron.Stop()
	s.running = false
	s.mu.Unlock()

	<-stopped.Done()
	s.passes.Wait()
	if s.receiver != nil {
		s.receiver.Stop()
	}
	s.logger.Info(context.Background(), "scheduler stopped")
}

// cronLogger routes cron's own messages to our logger.
type cronLogger struct {
	ctx    context.Context
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(l.ctx, "cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(l.ctx, "cron: "+msg, append(keysAndValues, "error", err)...)
}
