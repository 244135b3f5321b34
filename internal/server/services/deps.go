// Package services contains the post pipeline: scheduling and on-demand
// publishing (PostService), pre-signing (SigningQueue) and periodic
// dispatch of due posts (Scheduler).
package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/logging"
	"github.com/dmitrijs2005/nostr-scheduler/internal/publisher"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/events"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/metrics"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/repositories/repomanager"
	"github.com/nbd-wtf/go-nostr"
)

// Publisher delivers a signed event over the channel resolved for post.
// Implemented by publisher.Publisher.
type Publisher interface {
	Publish(ctx context.Context, ev nostr.Event, acc *models.Account, post *models.Post) (publisher.Result, error)
}

// KeyProvider is implemented by keystore.Store.
type KeyProvider interface {
	PrivateKey(ctx context.Context, acc *models.Account) (string, error)
}

// Miner is implemented by pow.Pool.
type Miner interface {
	Mine(ctx context.Context, ev nostr.Event, difficulty int) (nostr.Event, error)
}

// Notifier is implemented by the events package notifiers.
type Notifier interface {
	Notify(ctx context.Context, ev events.PostEvent) error
}

// Archiver is implemented by archive.S3Archive.
type Archiver interface {
	Archive(ctx context.Context, ev *nostr.Event) error
}

// Stopper is anything the scheduler tears down when it stops, such as the
// NostrMQ response receiver.
type Stopper interface {
	Stop()
}

func utcNow() time.Time { return time.Now().UTC() }

// Deps are the collaborators shared by the pipeline services. Notifier,
// Archiver and Metrics are optional.
type Deps struct {
	DB        *sql.DB
	Repos     repomanager.RepositoryManager
	Publisher Publisher
	Keys      KeyProvider
	Miner     Miner
	Notifier  Notifier
	Archiver  Archiver
	Metrics   *metrics.Metrics
	Logger    logging.Logger
	// Now defaults to the current UTC time.
	Now func() time.Time
}
