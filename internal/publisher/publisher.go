// Package publisher delivers signed events over one of three channels:
// straight to relays, to an HTTP publishing API, or through NostrMQ.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/logging"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/auth"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/nbd-wtf/go-nostr"
)

// RelayPublisher is implemented by relay.Pool.
type RelayPublisher interface {
	Publish(ctx context.Context, ev nostr.Event, urls []string) ([]string, error)
}

// QueueSender is implemented by mq.Transport.
type QueueSender interface {
	Send(ctx context.Context, sk, target string, payload any) (string, error)
}

// KeyProvider is implemented by keystore.Store. The queue channel needs the
// account key to sign its envelope.
type KeyProvider interface {
	PrivateKey(ctx context.Context, acc *models.Account) (string, error)
}

// Result describes a successful delivery.
type Result struct {
	EventID string
	Channel models.Channel
	// Relays lists the relays that acknowledged a direct publish.
	Relays []string
}

type Options struct {
	Relays     RelayPublisher
	Queue      QueueSender
	Keys       KeyProvider
	HTTPClient *http.Client
	// Timeout bounds each phase of a delivery; a whole call is bounded by
	// twice this value.
	Timeout   time.Duration
	JWTSecret []byte
	Defaults  Defaults
	Logger    logging.Logger
}

type Publisher struct {
	relays    RelayPublisher
	queue     QueueSender
	keys      KeyProvider
	client    *http.Client
	timeout   time.Duration
	jwtSecret []byte
	defaults  Defaults
	logger    logging.Logger
}

func New(opts Options) *Publisher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Publisher{
		relays:    opts.Relays,
		queue:     opts.Queue,
		keys:      opts.Keys,
		client:    opts.HTTPClient,
		timeout:   opts.Timeout,
		jwtSecret: opts.JWTSecret,
		defaults:  opts.Defaults,
		logger:    opts.Logger.With("module", "publisher"),
	}
}

// Publish delivers the signed event ev for post on behalf of acc. Errors are
// returned as is; the caller records them on the post.
func (p *Publisher) Publish(ctx context.Context, ev nostr.Event, acc *models.Account, post *models.Post) (Result, error) {
	d, err := Resolve(acc, post, p.defaults)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*p.timeout)
	defer cancel()

	var res Result
	switch d := d.(type) {
	case models.DirectDelivery:
		res, err = p.publishDirect(ctx, ev, d)
	case models.APIDelivery:
		res, err = p.publishAPI(ctx, ev, acc, d)
	case models.QueueDelivery:
		res, err = p.publishQueue(ctx, ev, acc, d)
	}
	if err != nil {
		return Result{}, err
	}
	res.Channel = d.Channel()

	p.logger.Info(ctx, "event delivered",
		"post_id", postID(post), "account_id", acc.ID, "channel", res.Channel, "event_id", res.EventID)
	return res, nil
}

func (p *Publisher) publishDirect(ctx context.Context, ev nostr.Event, d models.DirectDelivery) (Result, error) {
	if p.relays == nil {
		return Result{}, fmt.Errorf("direct channel is not configured")
	}
	accepted, err := p.relays.Publish(ctx, ev, d.Relays)
	if err != nil {
		return Result{}, err
	}
	return Result{EventID: ev.ID, Relays: accepted}, nil
}

type apiRequest struct {
	Event   nostr.Event `json:"event"`
	Timeout int64       `json:"timeout"`
}

func (p *Publisher) publishAPI(ctx context.Context, ev nostr.Event, acc *models.Account, d models.APIDelivery) (Result, error) {
	body, err := json.Marshal(apiRequest{Event: ev, Timeout: p.timeout.Milliseconds()})
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(p.jwtSecret) > 0 {
		tok, err := auth.GenerateToken(acc.ID, acc.PubKey, p.jwtSecret, 2*p.timeout)
		if err != nil {
			return Result{}, fmt.Errorf("sign bearer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("api request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read api response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("api returned %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	id, rule := extractEventID(respBody, ev.ID)
	p.logger.Debug(ctx, "api response", "endpoint", d.Endpoint, "status", resp.StatusCode, "id_source", rule)
	return Result{EventID: id}, nil
}

func (p *Publisher) publishQueue(ctx context.Context, ev nostr.Event, acc *models.Account, d models.QueueDelivery) (Result, error) {
	if p.queue == nil || p.keys == nil {
		return Result{}, fmt.Errorf("nostrmq channel is not configured")
	}
	sk, err := p.keys.PrivateKey(ctx, acc)
	if err != nil {
		return Result{}, err
	}
	id, err := p.queue.Send(ctx, sk, d.Target, ev)
	if err != nil {
		return Result{}, err
	}
	return Result{EventID: id}, nil
}

func postID(post *models.Post) string {
	if post == nil {
		return ""
	}
	return post.ID
}
