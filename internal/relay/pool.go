// Package relay keeps connections to nostr relays and publishes to, or
// subscribes on, several of them at once.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/dmitrijs2005/nostr-scheduler/internal/logging"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"
)

// Conn is a single relay connection.
type Conn interface {
	Publish(ctx context.Context, ev nostr.Event) error
	Subscribe(ctx context.Context, filter nostr.Filter) (<-chan *nostr.Event, error)
	Close() error
}

// Dialer opens a connection to url.
type Dialer func(ctx context.Context, url string) (Conn, error)

type Pool struct {
	dial           Dialer
	connectTimeout time.Duration
	publishTimeout time.Duration
	logger         logging.Logger

	mu    sync.Mutex
	conns map[string]Conn
}

// NewPool returns a Pool. A nil dial uses real websocket connections.
// Connect and publish are each bounded by their own timeout; a zero timeout
// defaults to ten seconds.
func NewPool(dial Dialer, connectTimeout, publishTimeout time.Duration, logger logging.Logger) *Pool {
	if dial == nil {
		dial = DialNostr
	}
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	if publishTimeout <= 0 {
		publishTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Pool{
		dial:           dial,
		connectTimeout: connectTimeout,
		publishTimeout: publishTimeout,
		logger:         logger.With("module", "relay_pool"),
		conns:          make(map[string]Conn),
	}
}

// Publish sends ev to every url concurrently and returns the urls that
// acknowledged it. It fails only when none did, with
// common.ErrNoRelayAccepted joined with each relay's error. The whole call
// never outlives connectTimeout+publishTimeout.
func (p *Pool) Publish(ctx context.Context, ev nostr.Event, urls []string) ([]string, error) {
	urls = dedupe(urls)
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no relays configured", common.ErrNoRelayAccepted)
	}

	ctx, cancel := context.WithTimeout(ctx, p.connectTimeout+p.publishTimeout)
	defer cancel()

	var (
		mu       sync.Mutex
		accepted []string
		errs     []error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, url := range urls {
		g.Go(func() error {
			err := p.publishOne(gctx, ev, url)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", url, err))
				p.logger.Debug(ctx, "relay rejected event", "relay", url, "event_id", ev.ID, "error", err)
				return nil
			}
			accepted = append(accepted, url)
			return nil
		})
	}
	_ = g.Wait()

	if len(accepted) == 0 {
		return nil, errors.Join(append([]error{common.ErrNoRelayAccepted}, errs...)...)
	}
	return ordered(urls, accepted), nil
}

func (p *Pool) publishOne(ctx context.Context, ev nostr.Event, url string) error {
	conn, err := p.conn(ctx, url)
	if err != nil {
		return err
	}

	pctx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()

	if err := conn.Publish(pctx, ev); err != nil {
		p.drop(url, conn)
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe opens filter on every reachable url and merges the events into
// one channel, closed once ctx is done. It fails only if no relay could be
// subscribed.
func (p *Pool) Subscribe(ctx context.Context, urls []string, filter nostr.Filter) (<-chan *nostr.Event, error) {
	urls = dedupe(urls)
	out := make(chan *nostr.Event)

	var (
		wg   sync.WaitGroup
		errs []error
		ok   int
	)
	for _, url := range urls {
		conn, err := p.conn(ctx, url)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		events, err := conn.Subscribe(ctx, filter)
		if err != nil {
			p.drop(url, conn)
			errs = append(errs, fmt.Errorf("%s: subscribe: %w", url, err))
			continue
		}
		ok++
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, open := <-events:
					if !open {
						return
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	if ok == 0 {
		close(out)
		return nil, errors.Join(append([]error{errors.New("no relay accepted the subscription")}, errs...)...)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// Close closes every cached connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]Conn)
	p.mu.Unlock()

	var errs []error
	for url, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) conn(ctx context.Context, url string) (Conn, error) {
	p.mu.Lock()
	c, ok := p.conns[url]
	p.mu.Unlock()
	if ok {
		return c, nil
	}

	cctx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()

	c, err := p.dial(cctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[url]; ok {
		_ = c.Close()
		return existing, nil
	}
	p.conns[url] = c
	return c, nil
}

func (p *Pool) drop(url string, c Conn) {
	p.mu.Lock()
	if p.conns[url] == c {
		delete(p.conns, url)
	}
	p.mu.Unlock()
	_ = c.Close()
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = nostr.NormalizeURL(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func ordered(urls, subset []string) []string {
	in := make(map[string]struct{}, len(subset))
	for _, u := range subset {
		in[u] = struct{}{}
	}
	out := make([]string, 0, len(subset))
	for _, u := range urls {
		if _, ok := in[u]; ok {
			out = append(out, u)
		}
	}
	return out
}
