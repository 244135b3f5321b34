package mq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/dmitrijs2005/nostr-scheduler/internal/logging"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePool struct {
	mu         sync.Mutex
	published  []nostr.Event
	pubErr     error
	events     chan *nostr.Event
	subErr     error
	filter     nostr.Filter
	subscribes int

	// streams are handed out one per Subscribe before falling back to events.
	streams []chan *nostr.Event
}

func (p *fakePool) Publish(_ context.Context, ev nostr.Event, urls []string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pubErr != nil {
		return nil, p.pubErr
	}
	p.published = append(p.published, ev)
	return urls, nil
}

func (p *fakePool) Subscribe(_ context.Context, _ []string, filter nostr.Filter) (<-chan *nostr.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subErr != nil {
		return nil, p.subErr
	}
	p.subscribes++
	p.filter = filter
	if len(p.streams) > 0 {
		ch := p.streams[0]
		p.streams = p.streams[1:]
		return ch, nil
	}
	return p.events, nil
}

func (p *fakePool) subscribeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribes
}

func keypair(t *testing.T) (string, string) {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	return sk, pk
}

func TestTransport_Send(t *testing.T) {
	senderSK, _ := keypair(t)
	targetSK, targetPK := keypair(t)

	pool := &fakePool{}
	tr := NewTransport(pool, []string{"wss://mq.example"}, logging.Nop())
	tr.newID = func() string { return "msg-1" }

	id, err := tr.Send(context.Background(), senderSK, targetPK, map[string]string{"hello": "world"})
	require.NoError(t, err)
	require.Len(t, pool.published, 1)

	env := pool.published[0]
	assert.Equal(t, env.ID, id)
	assert.Equal(t, KindEnvelope, env.Kind)
	assert.Equal(t, targetPK, env.Tags.GetFirst([]string{"p"}).Value())
	assert.Equal(t, "msg-1", env.Tags.GetFirst([]string{"d"}).Value())
	assert.NotContains(t, env.Content, "world")

	msg, err := Unseal(targetSK, &env)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, TypePublish, msg.Type)
	assert.JSONEq(t, `{"hello":"world"}`, string(msg.Payload))
}

func TestTransport_Send_MissingTarget(t *testing.T) {
	sk, _ := keypair(t)
	pool := &fakePool{}
	tr := NewTransport(pool, nil, nil)

	_, err := tr.Send(context.Background(), sk, "", "x")
	assert.ErrorIs(t, err, common.ErrMissingQueueTarget)

	_, err = tr.Send(context.Background(), sk, "npub-not-hex", "x")
	assert.ErrorIs(t, err, common.ErrMissingQueueTarget)
	assert.Empty(t, pool.published)
}

func TestTransport_Send_PublishError(t *testing.T) {
	sk, _ := keypair(t)
	_, pk := keypair(t)
	pool := &fakePool{pubErr: common.ErrNoRelayAccepted}
	tr := NewTransport(pool, []string{"wss://mq.example"}, nil)

	_, err := tr.Send(context.Background(), sk, pk, "x")
	assert.ErrorIs(t, err, common.ErrNoRelayAccepted)
}

func TestUnseal_WrongKey(t *testing.T) {
	senderSK, _ := keypair(t)
	_, targetPK := keypair(t)
	otherSK, _ := keypair(t)

	env, err := Seal(senderSK, targetPK, Message{ID: "m", Type: TypeResponse, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	_, err = Unseal(otherSK, &env)
	assert.Error(t, err)
}

func TestUnseal_Tampered(t *testing.T) {
	senderSK, _ := keypair(t)
	targetSK, targetPK := keypair(t)

	env, err := Seal(senderSK, targetPK, Message{ID: "m"})
	require.NoError(t, err)
	env.Content = env.Content + "x"

	_, err = Unseal(targetSK, &env)
	assert.ErrorIs(t, err, common.ErrInvalidEvent)

	env.Kind = 1
	_, err = Unseal(targetSK, &env)
	assert.ErrorIs(t, err, common.ErrInvalidEvent)
}

func TestReceiver_DedupesAndStops(t *testing.T) {
	responderSK, _ := keypair(t)
	ourSK, ourPK := keypair(t)

	pool := &fakePool{events: make(chan *nostr.Event)}

	var (
		mu  sync.Mutex
		got []Message
	)
	handled := make(chan struct{}, 4)
	r, err := NewReceiver(pool, []string{"wss://mq.example"}, ourSK, NewMemoryDeduper(time.Hour), func(_ context.Context, _ string, msg Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		handled <- struct{}{}
	}, logging.Nop())
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()))
	assert.Equal(t, []string{ourPK}, pool.filter.Tags["p"])
	assert.Equal(t, []int{KindEnvelope}, pool.filter.Kinds)

	env, err := Seal(responderSK, ourPK, Message{ID: "r1", Type: TypeResponse})
	require.NoError(t, err)
	env2, err := Seal(responderSK, ourPK, Message{ID: "r2", Type: TypeResponse})
	require.NoError(t, err)

	pool.events <- &env
	pool.events <- &env
	pool.events <- &env2

	for i := 0; i < 2; i++ {
		select {
		case <-handled:
		case <-time.After(time.Second):
			t.Fatal("handler not called")
		}
	}

	r.Stop()
	r.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, "r2", got[1].ID)
}

func TestReceiver_ResubscribesAndDedupesByMessageID(t *testing.T) {
	responderSK, _ := keypair(t)
	ourSK, ourPK := keypair(t)

	first := make(chan *nostr.Event)
	second := make(chan *nostr.Event)
	pool := &fakePool{streams: []chan *nostr.Event{first, second}}

	handled := make(chan Message, 4)
	r, err := NewReceiver(pool, []string{"wss://mq.example"}, ourSK, NewMemoryDeduper(time.Hour), func(_ context.Context, _ string, msg Message) {
		handled <- msg
	}, logging.Nop())
	require.NoError(t, err)
	r.retryDelay = time.Millisecond

	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	env, err := Seal(responderSK, ourPK, Message{ID: "r1", Type: TypeResponse})
	require.NoError(t, err)
	first <- &env
	select {
	case msg := <-handled:
		assert.Equal(t, "r1", msg.ID)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}

	close(first)
	assert.Eventually(t, func() bool { return pool.subscribeCount() == 2 }, time.Second, time.Millisecond)

	// same response in a fresh envelope
	resent, err := Seal(responderSK, ourPK, Message{ID: "r1", Type: TypeResponse})
	require.NoError(t, err)
	resent.CreatedAt = env.CreatedAt
	require.NoError(t, resent.Sign(responderSK))
	require.NotEqual(t, env.ID, resent.ID)

	next, err := Seal(responderSK, ourPK, Message{ID: "r2", Type: TypeResponse})
	require.NoError(t, err)

	second <- &resent
	second <- &next
	select {
	case msg := <-handled:
		assert.Equal(t, "r2", msg.ID, "the re-sent r1 is skipped")
	case <-time.After(time.Second):
		t.Fatal("handler not called after resubscribing")
	}
}

func TestReceiver_StartError(t *testing.T) {
	sk, _ := keypair(t)
	r, err := NewReceiver(&fakePool{subErr: errors.New("offline")}, nil, sk, nil, nil, nil)
	require.NoError(t, err)
	assert.Error(t, r.Start(context.Background()))
	r.Stop()
}

func TestNewReceiver_BadKey(t *testing.T) {
	_, err := NewReceiver(&fakePool{}, nil, "zz", nil, nil, nil)
	assert.Error(t, err)
}
