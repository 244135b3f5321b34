// Package mq sends signed events through NostrMQ: an encrypted envelope
// addressed to a target public key and carried by ordinary relays.
package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/dmitrijs2005/nostr-scheduler/internal/logging"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

// KindEnvelope is the parameterized replaceable kind used for envelopes.
const KindEnvelope = 30072

// RelayPool is the part of relay.Pool the transport needs.
type RelayPool interface {
	Publish(ctx context.Context, ev nostr.Event, urls []string) ([]string, error)
	Subscribe(ctx context.Context, urls []string, filter nostr.Filter) (<-chan *nostr.Event, error)
}

// Message is the decrypted envelope body.
type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	TypePublish  = "publish"
	TypeResponse = "response"
)

type Transport struct {
	pool   RelayPool
	relays []string
	logger logging.Logger

	newID func() string
}

func NewTransport(pool RelayPool, relays []string, logger logging.Logger) *Transport {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Transport{
		pool:   pool,
		relays: relays,
		logger: logger.With("module", "mq_transport"),
		newID:  uuid.NewString,
	}
}

// Send wraps payload in an envelope encrypted for target, signs it with sk and
// publishes it. The returned id is the envelope event id, which is the
// transport's acknowledgment.
func (t *Transport) Send(ctx context.Context, sk, target string, payload any) (string, error) {
	if target == "" {
		return "", common.ErrMissingQueueTarget
	}
	if !nostr.IsValid32ByteHex(target) {
		return "", fmt.Errorf("%w: target is not a hex public key", common.ErrMissingQueueTarget)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	msg := Message{ID: t.newID(), Type: TypePublish, Payload: raw}

	env, err := Seal(sk, target, msg)
	if err != nil {
		return "", err
	}

	accepted, err := t.pool.Publish(ctx, env, t.relays)
	if err != nil {
		return "", fmt.Errorf("send envelope: %w", err)
	}

	t.logger.Debug(ctx, "envelope sent", "message_id", msg.ID, "envelope_id", env.ID, "relays", accepted)
	return env.ID, nil
}

// Seal builds the signed envelope event carrying msg for target.
func Seal(sk, target string, msg Message) (nostr.Event, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("encode message: %w", err)
	}

	shared, err := nip04.ComputeSharedSecret(target, sk)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("shared secret: %w", err)
	}
	content, err := nip04.Encrypt(string(body), shared)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("encrypt: %w", err)
	}

	ev := nostr.Event{
		Kind:      KindEnvelope,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", target}, {"d", msg.ID}},
		Content:   content,
	}
	if err := ev.Sign(sk); err != nil {
		return nostr.Event{}, fmt.Errorf("sign envelope: %w", err)
	}
	return ev, nil
}

// Unseal decrypts an envelope addressed to the holder of sk.
func Unseal(sk string, ev *nostr.Event) (Message, error) {
	var msg Message
	if ev.Kind != KindEnvelope {
		return msg, fmt.Errorf("%w: unexpected kind %d", common.ErrInvalidEvent, ev.Kind)
	}
	if ok, err := ev.CheckSignature(); err != nil || !ok {
		return msg, fmt.Errorf("%w: bad envelope signature", common.ErrInvalidEvent)
	}

	shared, err := nip04.ComputeSharedSecret(ev.PubKey, sk)
	if err != nil {
		return msg, fmt.Errorf("shared secret: %w", err)
	}
	plain, err := nip04.Decrypt(ev.Content, shared)
	if err != nil {
		return msg, fmt.Errorf("decrypt: %w", err)
	}
	if err := json.Unmarshal([]byte(plain), &msg); err != nil {
		return msg, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}
