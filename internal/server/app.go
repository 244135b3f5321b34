// Package server wires the scheduler daemon together: storage, keys, the
// publishing channels, the signing queue, the cron scheduler and the control
// HTTP API, and runs them until the process is signalled.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/dbx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/keystore"
	"github.com/dmitrijs2005/nostr-scheduler/internal/logging"
	"github.com/dmitrijs2005/nostr-scheduler/internal/mq"
	"github.com/dmitrijs2005/nostr-scheduler/internal/pow"
	"github.com/dmitrijs2005/nostr-scheduler/internal/publisher"
	"github.com/dmitrijs2005/nostr-scheduler/internal/relay"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/archive"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/config"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/events"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/httpapi"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/metrics"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/services"
	"golang.org/x/sync/errgroup"
)

const (
	// stopGrace bounds how long shutdown waits for in-flight signing and
	// publishing passes before abandoning proof-of-work.
	stopGrace         = 15 * time.Second
	receiverDedupeTTL = time.Hour
)

type App struct {
	config *config.Config
	logger logging.Logger

	db       *sql.DB
	pool     *relay.Pool
	miner    *pow.Pool
	notifier events.Notifier
	redis    *mq.RedisDeduper

	queue     *services.SigningQueue
	scheduler *services.Scheduler
	http      *httpapi.Server
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	db, dialect, err := dbx.Open(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos, err := repomanager.NewRepositoryManager(dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := repos.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}

	keys := keystore.New(keystore.OSKeyring{}, c.KeyringService, c.KeyEncryptionSecret, logger)
	app.pool = relay.NewPool(relay.DialNostr, c.PublishTimeout, c.PublishTimeout, logger)
	app.miner = pow.NewPool(c.MiningWorkers, logger)
	m := metrics.New()

	var queue publisher.QueueSender
	if len(c.MQRelays) > 0 {
		queue = mq.NewTransport(app.pool, c.MQRelays, logger)
	}

	pub := publisher.New(publisher.Options{
		Relays:    app.pool,
		Queue:     queue,
		Keys:      keys,
		Timeout:   c.PublishTimeout,
		JWTSecret: []byte(c.APIJWTSecret),
		Defaults:  publisher.Defaults{APIEndpoint: c.DefaultAPIEndpoint, Relays: c.DefaultRelays},
		Logger:    logger,
	})

	app.notifier = events.Nop{}
	if len(c.KafkaBrokers) > 0 {
		kn, err := events.NewKafkaNotifier(c.KafkaBrokers, c.KafkaTopic)
		if err != nil {
			app.close(ctx)
			return nil, fmt.Errorf("kafka: %w", err)
		}
		app.notifier = kn
	}

	deps := services.Deps{
		DB:        db,
		Repos:     repos,
		Publisher: pub,
		Keys:      keys,
		Miner:     app.miner,
		Notifier:  app.notifier,
		Metrics:   m,
		Logger:    logger,
	}

	var arch httpapi.Archive
	if c.S3Bucket != "" {
		a, err := archive.New(ctx, archive.Options{
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			User:         c.S3RootUser,
			Password:     c.S3RootPassword,
		})
		if err != nil {
			app.close(ctx)
			return nil, fmt.Errorf("archive: %w", err)
		}
		deps.Archiver = a
		arch = a
	}

	app.queue = services.NewSigningQueue(deps, c)
	posts := services.NewPostService(deps, c, app.queue)

	var receiver services.Stopper
	if r := app.newReceiver(ctx, deps, keys); r != nil {
		receiver = r
	}
	app.scheduler = services.NewScheduler(posts, c, receiver, logger)

	app.http = httpapi.NewServer(httpapi.Options{
		Address:   c.HTTPAddr,
		Posts:     posts,
		Archive:   arch,
		Metrics:   m,
		JWTSecret: []byte(c.ControlJWTSecret),
		Logger:    logger,
	})

	return app, nil
}

// newReceiver starts listening for NostrMQ responses addressed to the active
// account. It returns nil when the channel is disabled or no key is usable;
// responses are only observed, so the daemon runs without them.
func (app *App) newReceiver(ctx context.Context, deps services.Deps, keys *keystore.Store) *mq.Receiver {
	if len(app.config.MQRelays) == 0 {
		return nil
	}
	acc, err := deps.Repos.Accounts(app.db).GetActive(ctx)
	if err != nil {
		app.logger.Warn(ctx, "nostrmq receiver disabled", "error", err)
		return nil
	}
	sk, err := keys.PrivateKey(ctx, acc)
	if err != nil {
		app.logger.Warn(ctx, "nostrmq receiver disabled", "account_id", acc.ID, "error", err)
		return nil
	}

	var dedupe mq.Deduper
	if app.config.RedisAddr != "" {
		app.redis = mq.NewRedisDeduper(app.config.RedisAddr, app.config.RedisPassword, app.config.RedisDB, receiverDedupeTTL)
		dedupe = app.redis
	}

	r, err := mq.NewReceiver(app.pool, app.config.MQRelays, sk, dedupe, nil, app.logger)
	if err != nil {
		app.logger.Warn(ctx, "nostrmq receiver disabled", "error", err)
		return nil
	}
	if err := r.Start(ctx); err != nil {
		app.logger.Warn(ctx, "nostrmq receiver disabled", "error", err)
		return nil
	}
	return r
}

// Run blocks until SIGINT, SIGTERM or SIGQUIT, or until the HTTP server
// fails, then shuts everything down.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app.logger.Info(ctx, "Starting app...")

	app.queue.Start(ctx)
	if err := app.scheduler.Start(ctx); err != nil {
		app.queue.Stop()
		app.close(ctx)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.http.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		app.shutdown(ctx)
		return nil
	})

	err := g.Wait()
	app.logger.Info(ctx, "App stopped")
	return err
}

func (app *App) shutdown(ctx context.Context) {
	app.logger.Info(ctx, "Stopping app...")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		app.scheduler.Stop()
	}()
	go func() {
		defer wg.Done()
		app.queue.Stop()
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopGrace):
		app.logger.Warn(ctx, "passes still running, abandoning proof-of-work")
		app.miner.Close()
		select {
		case <-done:
		case <-time.After(stopGrace):
			app.logger.Error(ctx, "passes did not stop, closing anyway")
		}
	}

	app.close(ctx)
}

func (app *App) close(ctx context.Context) {
	if app.miner != nil {
		app.miner.Close()
	}
	if app.pool != nil {
		if err := app.pool.Close(); err != nil {
			app.logger.Warn(ctx, "close relay pool", "error", err)
		}
	}
	if app.notifier != nil {
		if err := app.notifier.Close(); err != nil {
			app.logger.Warn(ctx, "close notifier", "error", err)
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn(ctx, "close redis", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "close database", "error", err)
	}
}
