package pow

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/dmitrijs2005/nostr-scheduler/internal/logging"
	"github.com/nbd-wtf/go-nostr"
)

// Job is a unit of mining work. It is plain data so that it could be handed
// to an out-of-process worker unchanged.
type Job struct {
	Event      nostr.Event `json:"event"`
	Difficulty int         `json:"difficulty"`
}

// Result is the outcome of a Job. Err is empty on success.
type Result struct {
	Event nostr.Event `json:"event"`
	Err   string      `json:"error,omitempty"`
}

type task struct {
	job   Job
	reply chan Result
}

// Pool runs mining jobs on a fixed set of worker goroutines so that a long
// search never blocks the caller's polling loop beyond the call itself.
type Pool struct {
	jobs   chan task
	quit   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger logging.Logger

	// mine is the search function; replaced in tests.
	mine func(ev nostr.Event, target int, stop func() bool) (nostr.Event, bool)
}

// NewPool starts workers goroutines (at least one).
func NewPool(workers int, logger logging.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = logging.Nop()
	}
	p := &Pool{
		jobs:   make(chan task),
		quit:   make(chan struct{}),
		logger: logger.With("module", "pow_pool"),
		mine:   Mine,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Mine submits ev to a worker and waits for the mined event. difficulty <= 0
// returns ev unchanged without touching the pool. On any failure the
// original event is returned together with an error wrapping
// common.ErrMiningFailed.
func (p *Pool) Mine(ctx context.Context, ev nostr.Event, difficulty int) (nostr.Event, error) {
	if difficulty <= 0 {
		return ev, nil
	}

	t := task{job: Job{Event: ev, Difficulty: difficulty}, reply: make(chan Result, 1)}

	select {
	case p.jobs <- t:
	case <-p.quit:
		return ev, fmt.Errorf("%w: %w", common.ErrMiningFailed, common.ErrPoolClosed)
	case <-ctx.Done():
		return ev, ctx.Err()
	}

	select {
	case res := <-t.reply:
		if res.Err != "" {
			return ev, fmt.Errorf("%w: %s", common.ErrMiningFailed, res.Err)
		}
		if !MeetsDifficulty(res.Event.ID, difficulty) || res.Event.ID != res.Event.GetID() {
			return ev, fmt.Errorf("%w: worker returned an event below target", common.ErrMiningFailed)
		}
		return res.Event, nil
	case <-ctx.Done():
		return ev, ctx.Err()
	}
}

// Close stops the workers. Searches still running are abandoned and their
// callers receive an error.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case t := <-p.jobs:
			t.reply <- p.run(t.job)
		}
	}
}

func (p *Pool) run(job Job) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(context.Background(), "mining worker panic", "panic", r)
			res = Result{Event: job.Event, Err: fmt.Sprintf("worker panic: %v", r)}
		}
	}()

	mined, ok := p.mine(job.Event, job.Difficulty, p.closed)
	if !ok {
		return Result{Event: job.Event, Err: common.ErrPoolClosed.Error()}
	}
	return Result{Event: mined}
}

func (p *Pool) closed() bool {
	select {
	case <-p.quit:
		return true
	default:
		return false
	}
}
