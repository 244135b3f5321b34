package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/logging"
	"github.com/nbd-wtf/go-nostr"
)

const (
	defaultRetryDelay = time.Second
	maxRetryDelay     = time.Minute
)

// Handler is called once per distinct response.
type Handler func(ctx context.Context, from string, msg Message)

// Receiver listens for envelopes addressed to one key. It only observes;
// nothing waits on it.
type Receiver struct {
	pool    RelayPool
	relays  []string
	sk      string
	pubkey  string
	dedupe  Deduper
	handler Handler
	logger  logging.Logger

	// retryDelay is the first wait before resubscribing to a closed stream;
	// it doubles up to maxRetryDelay.
	retryDelay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewReceiver(pool RelayPool, relays []string, sk string, dedupe Deduper, handler Handler, logger logging.Logger) (*Receiver, error) {
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("receiver key: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if dedupe == nil {
		dedupe = NewMemoryDeduper(defaultDedupeTTL)
	}
	r := &Receiver{
		pool:       pool,
		relays:     relays,
		sk:         sk,
		pubkey:     pk,
		dedupe:     dedupe,
		handler:    handler,
		logger:     logger.With("module", "mq_receiver", "pubkey", pk),
		retryDelay: defaultRetryDelay,
	}
	if r.handler == nil {
		r.handler = r.logResponse
	}
	return r, nil
}

// Start subscribes and processes envelopes in the background until Stop.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("receiver already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	events, err := r.subscribe(ctx, nostr.Now())
	if err != nil {
		cancel()
		return err
	}

	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, events, r.done)

	r.logger.Info(ctx, "receiver started", "relays", r.relays)
	return nil
}

// Stop closes the subscription and waits for the loop to exit.
func (r *Receiver) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Receiver) subscribe(ctx context.Context, since nostr.Timestamp) (<-chan *nostr.Event, error) {
	events, err := r.pool.Subscribe(ctx, r.relays, nostr.Filter{
		Kinds: []int{KindEnvelope},
		Tags:  nostr.TagMap{"p": []string{r.pubkey}},
		Since: &since,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return events, nil
}

func (r *Receiver) loop(ctx context.Context, events <-chan *nostr.Event, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn(ctx, "subscription closed, resubscribing")
				if events = r.resubscribe(ctx, nostr.Now()); events == nil {
					return
				}
				continue
			}
			r.handle(ctx, ev)
		}
	}
}

// resubscribe retries with a doubling delay until it succeeds or ctx is
// done, in which case it returns nil. Envelopes since the drop are
// requested again; the deduper filters the ones already handled.
func (r *Receiver) resubscribe(ctx context.Context, since nostr.Timestamp) <-chan *nostr.Event {
	delay := r.retryDelay
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		events, err := r.subscribe(ctx, since)
		if err == nil {
			r.logger.Info(ctx, "resubscribed", "relays", r.relays)
			return events
		}
		r.logger.Warn(ctx, "resubscribe failed", "error", err, "retry_in", delay)
		delay = min(delay*2, maxRetryDelay)
	}
}

// handle passes each response to the handler once, keyed on the message id
// and the envelope's created_at, so a response re-sent in a fresh envelope
// is not handled twice.
func (r *Receiver) handle(ctx context.Context, ev *nostr.Event) {
	msg, err := Unseal(r.sk, ev)
	if err != nil {
		r.logger.Warn(ctx, "dropping envelope", "event_id", ev.ID, "error", err)
		return
	}

	seen, err := r.dedupe.Seen(ctx, dedupeKey(ev, msg))
	if err != nil {
		r.logger.Warn(ctx, "dedupe lookup failed", "event_id", ev.ID, "message_id", msg.ID, "error", err)
	}
	if seen {
		return
	}
	r.handler(ctx, ev.PubKey, msg)
}

func (r *Receiver) logResponse(ctx context.Context, from string, msg Message) {
	r.logger.Info(ctx, "response received", "from", from, "message_id", msg.ID, "type", msg.Type, "payload", string(msg.Payload))
}

// dedupeKey falls back to the envelope id for messages without an id.
func dedupeKey(ev *nostr.Event, msg Message) string {
	id := msg.ID
	if id == "" {
		id = ev.ID
	}
	return fmt.Sprintf("%s:%d", id, ev.CreatedAt)
}
