package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/dmitrijs2005/nostr-scheduler/internal/dbx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/publisher"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/config"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/events"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/repositories/repomanager"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// -------- test fakes --------

type fakeKeys struct {
	keys map[string]string
}

func (f *fakeKeys) PrivateKey(_ context.Context, acc *models.Account) (string, error) {
	sk, ok := f.keys[acc.ID]
	if !ok {
		return "", common.ErrNoPrivateKey
	}
	return sk, nil
}

type publishCall struct {
	event   nostr.Event
	account string
	post    string
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	// fail, when set, decides per post whether delivery fails.
	fail func(post *models.Post) error
}

func (f *fakePublisher) Publish(_ context.Context, ev nostr.Event, acc *models.Account, post *models.Post) (publisher.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, publishCall{event: ev, account: acc.ID, post: post.ID})
	if f.fail != nil {
		if err := f.fail(post); err != nil {
			return publisher.Result{}, err
		}
	}
	return publisher.Result{EventID: ev.ID, Channel: models.ChannelDirect, Relays: []string{"wss://ok"}}, nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeMiner struct {
	calls int
	// failFirst is the number of leading calls that fail with err.
	failFirst int
	err       error
}

func (f *fakeMiner) Mine(_ context.Context, ev nostr.Event, _ int) (nostr.Event, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return ev, f.err
	}
	ev.Tags = append(ev.Tags, nostr.Tag{"nonce", "1", "1"})
	return ev, nil
}

// cancellingMiner cancels the caller's context mid-search, as a client
// disconnecting during proof-of-work would.
type cancellingMiner struct {
	cancel context.CancelFunc
}

func (m cancellingMiner) Mine(ctx context.Context, ev nostr.Event, _ int) (nostr.Event, error) {
	m.cancel()
	<-ctx.Done()
	return ev, ctx.Err()
}

// blockingPublisher holds every delivery until release is closed and then
// reports the context state it saw.
type blockingPublisher struct {
	started chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func newBlockingPublisher() *blockingPublisher {
	return &blockingPublisher{
		started: make(chan struct{}),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 1),
	}
}

func (b *blockingPublisher) Publish(ctx context.Context, ev nostr.Event, _ *models.Account, _ *models.Post) (publisher.Result, error) {
	close(b.started)
	<-b.release
	b.ctxErr <- ctx.Err()
	return publisher.Result{EventID: ev.ID, Channel: models.ChannelDirect, Relays: []string{"wss://ok"}}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []events.PostEvent
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, ev events.PostEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

type fakeArchiver struct {
	archived []string
	err      error
}

func (f *fakeArchiver) Archive(_ context.Context, ev *nostr.Event) error {
	f.archived = append(f.archived, ev.ID)
	return f.err
}

type fakeTrigger struct{ n int }

func (f *fakeTrigger) Trigger() { f.n++ }

type fakeStopper struct{ stopped bool }

func (f *fakeStopper) Stop() { f.stopped = true }

// -------- fixture --------

type fixture struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	cfg       *config.Config
	keys      *fakeKeys
	publisher *fakePublisher
	notifier  *fakeNotifier
	archiver  *fakeArchiver
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, dialect, err := dbx.Open("file:services_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repos, err := repomanager.NewRepositoryManager(dialect)
	require.NoError(t, err)
	require.NoError(t, repos.RunMigrations(context.Background(), db))

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DefaultRelays = nil
	cfg.PermalinkBase = "https://njump.me/"

	return &fixture{
		db:        db,
		repos:     repos,
		cfg:       cfg,
		keys:      &fakeKeys{keys: map[string]string{}},
		publisher: &fakePublisher{},
		notifier:  &fakeNotifier{},
		archiver:  &fakeArchiver{},
		now:       fixedNow,
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		DB:        f.db,
		Repos:     f.repos,
		Publisher: f.publisher,
		Keys:      f.keys,
		Notifier:  f.notifier,
		Archiver:  f.archiver,
		Now:       func() time.Time { return f.now },
	}
}

// account creates an account. withKey controls whether the fake key store
// knows its private key.
func (f *fixture) account(t *testing.T, id string, active, withKey bool, mutate ...func(*models.Account)) *models.Account {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	acc := &models.Account{ID: id, Name: id, PubKey: pk, IsActive: active}
	for _, m := range mutate {
		m(acc)
	}
	require.NoError(t, f.repos.Accounts(f.db).Create(context.Background(), acc))
	if withKey {
		f.keys.keys[id] = sk
	}
	return acc
}

func (f *fixture) note(t *testing.T, id, accountID, content string) *models.Note {
	t.Helper()
	n := &models.Note{ID: id, AccountID: accountID, Content: content, Tags: []string{"nostr"}}
	require.NoError(t, f.repos.Notes(f.db).Create(context.Background(), n))
	return n
}

// post inserts a post directly, bypassing Schedule.
func (f *fixture) post(t *testing.T, p *models.Post) *models.Post {
	t.Helper()
	require.NoError(t, f.repos.Posts(f.db).Create(context.Background(), p))
	return p
}

func (f *fixture) get(t *testing.T, id string) *models.Post {
	t.Helper()
	p, err := f.repos.Posts(f.db).GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func hasTag(tags nostr.Tags, name string) bool {
	for _, tag := range tags {
		if len(tag) > 0 && tag[0] == name {
			return true
		}
	}
	return false
}

var errDelivery = errors.New("relay said no")
